// Package agent describes pipeline workers: who they are, which generation
// backend they call, and how that backend should sample.
package agent

import (
	"maps"
	"slices"
	"strings"
)

// Sampling parameter names understood by the generation backends.
const (
	ParamTemperature      = "temperature"
	ParamPresencePenalty  = "presence_penalty"
	ParamFrequencyPenalty = "frequency_penalty"
	ParamTopP             = "top_p"
)

// Backend references resolved by llm.Registry.
const (
	BackendPrimary = "primary"
	BackendEntropy = "entropy"
)

// Spec is an immutable worker description. The zero value is not usable;
// construct with NewSpec.
type Spec struct {
	role       string
	goal       string
	backstory  string
	backendRef string
	sampling   map[string]float64
}

// NewSpec builds a Spec. The sampling map is copied so later changes by the
// caller are not observed.
func NewSpec(role, goal, backstory, backendRef string, sampling map[string]float64) Spec {
	if strings.TrimSpace(backendRef) == "" {
		backendRef = BackendPrimary
	}
	return Spec{
		role:       role,
		goal:       goal,
		backstory:  backstory,
		backendRef: backendRef,
		sampling:   maps.Clone(sampling),
	}
}

func (s Spec) Role() string       { return s.role }
func (s Spec) Goal() string       { return s.goal }
func (s Spec) Backstory() string  { return s.backstory }
func (s Spec) BackendRef() string { return s.backendRef }

// SamplingParams returns a copy of the sampling parameters.
func (s Spec) SamplingParams() map[string]float64 {
	if len(s.sampling) == 0 {
		return map[string]float64{}
	}
	return maps.Clone(s.sampling)
}

// Param returns a single sampling parameter.
func (s Spec) Param(name string) (float64, bool) {
	v, ok := s.sampling[name]
	return v, ok
}

// ParamNames lists the configured sampling parameters in sorted order.
func (s Spec) ParamNames() []string {
	return slices.Sorted(maps.Keys(s.sampling))
}

// IsZero reports whether s was never constructed.
func (s Spec) IsZero() bool {
	return s.role == "" && s.backendRef == ""
}
