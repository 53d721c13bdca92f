// Package persona supplies the voice labels that parameterize micro workers.
package persona

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DefaultPersonas is used whenever a caller has no enabled personas.
var DefaultPersonas = []string{
	"sarcastic friend",
	"nostalgic storyteller",
	"curious teacher",
	"chaotic thinker",
	"casual confidant",
	"skeptical critic",
	"optimistic mentor",
	"grumpy old-timer",
	"chatty neighbor",
	"daydreamer",
}

// Rand is the random source a Pool draws from. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Weighted pairs a persona with a relative draw weight.
type Weighted struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Pool draws personas with replacement. It is never empty and is safe for
// concurrent use.
type Pool struct {
	mu       sync.Mutex
	rng      Rand
	names    []string
	weights  []float64 // nil for uniform draws
	total    float64
	fallback bool
}

// NewPool builds a uniform pool. Blank and duplicate names are dropped; an
// empty result falls back to DefaultPersonas. A nil rng is seeded from the
// clock.
func NewPool(names []string, rng Rand) *Pool {
	items := make([]Weighted, 0, len(names))
	for _, name := range names {
		items = append(items, Weighted{Name: name})
	}
	return NewWeightedPool(items, rng)
}

// NewWeightedPool builds a pool whose draws follow the given weights.
// Non-positive weights count as 1.
func NewWeightedPool(items []Weighted, rng Rand) *Pool {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p := &Pool{rng: rng}

	seen := make(map[string]struct{}, len(items))
	uniform := true
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		weight := item.Weight
		if weight <= 0 {
			weight = 1
		}
		if weight != 1 {
			uniform = false
		}
		p.names = append(p.names, name)
		p.weights = append(p.weights, weight)
		p.total += weight
	}

	if len(p.names) == 0 {
		p.names = append([]string(nil), DefaultPersonas...)
		p.weights = nil
		p.total = float64(len(p.names))
		p.fallback = true
		return p
	}
	if uniform {
		p.weights = nil
	}
	return p
}

// Draw returns one persona.
func (p *Pool) Draw() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.weights == nil {
		return p.names[p.rng.Intn(len(p.names))]
	}
	target := p.rng.Float64() * p.total
	for i, w := range p.weights {
		if target < w {
			return p.names[i]
		}
		target -= w
	}
	return p.names[len(p.names)-1]
}

// Names returns the personas in the pool.
func (p *Pool) Names() []string {
	return append([]string(nil), p.names...)
}

// Len reports the number of distinct personas.
func (p *Pool) Len() int { return len(p.names) }

// IsFallback reports whether the pool is using DefaultPersonas.
func (p *Pool) IsFallback() bool { return p.fallback }
