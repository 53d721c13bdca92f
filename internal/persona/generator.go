package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"quill/internal/agent"
	"quill/internal/llm"
	"quill/internal/shared/logging"
)

const (
	generatorSystem = "You are an expert 'micro humanizer' role generator. " +
		"Given blog text and extracted statistics, produce a JSON object (no extra text) " +
		"with fields: role, goal, backstory, tasks (array), tone, style, patterns (dict), micro_agent_list (array). " +
		"Keep values concise and practical for programmatic ingestion."
	generatorSampleRunes = 4000
)

// Generator derives micro humanizer profiles from writing samples.
type Generator struct {
	backend llm.Backend
	logger  logging.Logger
}

// NewGenerator returns a Generator. With a nil backend every profile comes
// from TemplateProfile.
func NewGenerator(backend llm.Backend, logger logging.Logger) *Generator {
	return &Generator{backend: backend, logger: logging.OrNop(logger)}
}

// Generate returns a profile for text. Backend or parse failures fall back to
// the template profile with Warning set, so only an empty sample is an error.
func (g *Generator) Generate(ctx context.Context, text, topic string) (Profile, error) {
	if strings.TrimSpace(text) == "" {
		return Profile{}, errors.New("persona: sample text is empty")
	}
	stats := Analyze(text)

	if g.backend == nil {
		profile := TemplateProfile(stats, topic)
		profile.Warning = "no generation backend configured; returned template fallback"
		return profile, nil
	}

	statsJSON, _ := json.MarshalIndent(stats, "", "  ")
	sample := []rune(text)
	if len(sample) > generatorSampleRunes {
		sample = sample[:generatorSampleRunes]
	}
	prompt := fmt.Sprintf("Blog text (first %d chars):\n%s\n\nExtracted stats:\n%s\n\n"+
		"Produce a JSON object only (no surrounding prose). The JSON must be parseable.",
		generatorSampleRunes, string(sample), statsJSON)

	raw, err := g.backend.Invoke(ctx, llm.Invocation{
		Role:           "Micro Humanizer Role Generator",
		Goal:           generatorSystem,
		Prompt:         prompt,
		ExpectedOutput: "micro-humanizer-json",
		Sampling:       map[string]float64{agent.ParamTemperature: 0.9},
	})
	if err != nil {
		g.logger.Warn("profile generation failed, using template: %v", err)
		profile := TemplateProfile(stats, topic)
		profile.Warning = fmt.Sprintf("generation failed: %v", err)
		return profile, nil
	}

	profile, err := ParseProfile(raw)
	if err != nil {
		g.logger.Warn("profile output unparseable, using template: %v", err)
		profile = TemplateProfile(stats, topic)
		profile.Warning = fmt.Sprintf("unparseable generation output: %v", err)
		return profile, nil
	}
	return profile, nil
}

// ParseProfile extracts the outermost JSON object from raw model output,
// repairing common defects such as trailing commas or single quotes.
func ParseProfile(raw string) (Profile, error) {
	candidate := raw
	if first, last := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); first >= 0 && last > first {
		candidate = raw[first : last+1]
	}

	var profile Profile
	if err := json.Unmarshal([]byte(candidate), &profile); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return Profile{}, fmt.Errorf("repair profile json: %w", repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &profile); err != nil {
			return Profile{}, fmt.Errorf("decode profile json: %w", err)
		}
	}
	if strings.TrimSpace(profile.Role) == "" && len(profile.MicroAgentList) == 0 {
		return Profile{}, errors.New("profile has neither role nor micro_agent_list")
	}
	return profile, nil
}
