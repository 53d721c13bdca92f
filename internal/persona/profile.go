package persona

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Profile describes a micro humanizer role derived from a writing sample.
type Profile struct {
	Role           string         `json:"role" yaml:"role"`
	Goal           string         `json:"goal" yaml:"goal"`
	Backstory      string         `json:"backstory" yaml:"backstory"`
	Tasks          []string       `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Tone           string         `json:"tone,omitempty" yaml:"tone,omitempty"`
	Style          string         `json:"style,omitempty" yaml:"style,omitempty"`
	Patterns       map[string]any `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	MicroAgentList []string       `json:"micro_agent_list" yaml:"micro_agent_list"`
	Warning        string         `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// DefaultMicroAgents is suggested when a profile carries no agent list.
var DefaultMicroAgents = []string{
	"ToneMatcher",
	"SentenceVariabilityAdjuster",
	"FlowEnhancer",
	"HumanErrorInjector",
}

// Agents returns the profile's micro agent names, or DefaultMicroAgents.
func (p Profile) Agents() []string {
	var out []string
	for _, name := range p.MicroAgentList {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultMicroAgents...)
	}
	return out
}

// Stats are surface features of a writing sample.
type Stats struct {
	WordCount            int      `json:"word_count"`
	SentenceCount        int      `json:"sentence_count"`
	AvgSentenceLength    float64  `json:"avg_sentence_length"`
	SentenceLengthStddev float64  `json:"sentence_length_stddev"`
	LexicalDiversity     float64  `json:"lexical_diversity"`
	CommonTransitions    []string `json:"common_transitions"`
	TopKeywords          []string `json:"top_keywords"`
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+\s+`)
	transitions   = []string{"however", "therefore", "meanwhile", "in reality", "that said", "on the other hand", "but then"}
)

const maxAnalyzedRunes = 20000

// Analyze computes Stats for text.
func Analyze(text string) Stats {
	if runes := []rune(text); len(runes) > maxAnalyzedRunes {
		text = string(runes[:maxAnalyzedRunes])
	}

	var lengths []int
	for _, sentence := range sentenceSplit.Split(strings.TrimSpace(text), -1) {
		if n := len(strings.Fields(sentence)); n > 0 {
			lengths = append(lengths, n)
		}
	}

	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' })
	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[strings.ToLower(w)]++
	}

	stats := Stats{WordCount: len(words), SentenceCount: len(lengths)}
	if len(lengths) > 0 {
		total := 0
		for _, n := range lengths {
			total += n
		}
		avg := float64(total) / float64(len(lengths))
		variance := 0.0
		for _, n := range lengths {
			variance += (float64(n) - avg) * (float64(n) - avg)
		}
		stats.AvgSentenceLength = round(avg, 2)
		stats.SentenceLengthStddev = round(math.Sqrt(variance/float64(len(lengths))), 2)
	}
	if len(words) > 0 {
		stats.LexicalDiversity = round(float64(len(freq))/float64(len(words)), 3)
	}

	lower := strings.ToLower(text)
	for _, t := range transitions {
		if strings.Contains(lower, t) {
			stats.CommonTransitions = append(stats.CommonTransitions, t)
		}
	}

	keys := make([]string, 0, len(freq))
	for w := range freq {
		keys = append(keys, w)
	}
	sort.Slice(keys, func(i, j int) bool {
		if freq[keys[i]] != freq[keys[j]] {
			return freq[keys[i]] > freq[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 20 {
		keys = keys[:20]
	}
	stats.TopKeywords = keys
	return stats
}

// TemplateProfile builds a Profile from Stats without a generation backend.
func TemplateProfile(stats Stats, topic string) Profile {
	style := "conversational"
	if stats.AvgSentenceLength >= 22 {
		style = "formal"
	}
	pattern := "medium/long sentences"
	if stats.AvgSentenceLength < 14 {
		pattern = "short/varied"
	}
	used := "none"
	if len(stats.CommonTransitions) > 0 {
		used = strings.Join(stats.CommonTransitions, ", ")
	}
	if strings.TrimSpace(topic) == "" {
		topic = "unspecified"
	}

	return Profile{
		Role:      "Micro Humanizer",
		Goal:      fmt.Sprintf("Transform AI-structured text about %s into natural human-like prose matching the source tone.", topic),
		Backstory: fmt.Sprintf("Derived from the author's writing fingerprint: %s style, %s, common transitions: %s.", style, pattern, used),
		Tasks: []string{
			"Preserve the author's voice and emotional pacing.",
			"Inject small human-like imperfections: pauses, hesitations, micro-digressions.",
			"Vary sentence lengths and punctuation distribution to match source variability.",
			"Avoid overwriting factual content; do not introduce hallucinations.",
		},
		Tone:  "neutral",
		Style: style,
		Patterns: map[string]any{
			"avg_sentence_length":    stats.AvgSentenceLength,
			"sentence_length_stddev": stats.SentenceLengthStddev,
			"lexical_diversity":      stats.LexicalDiversity,
			"common_transitions":     stats.CommonTransitions,
		},
		MicroAgentList: append([]string(nil), DefaultMicroAgents...),
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
