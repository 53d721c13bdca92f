// Package detect scores finished drafts for machine-generated text.
package detect

import (
	"context"
	"encoding/json"
)

// SegmentScore marks one sentence the classifier attributed to a model.
type SegmentScore struct {
	Text    string  `json:"text"`
	AIScore float64 `json:"ai_score"`
}

// Verdict is the classifier's judgement on one text.
type Verdict struct {
	IsHumanWritten bool            `json:"is_human_written"`
	AIPercentage   float64         `json:"ai_percentage"`
	Segments       []SegmentScore  `json:"segments,omitempty"`
	Feedback       string          `json:"feedback,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// Classifier scores text. Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Verdict, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, text string) (Verdict, error) {
	return f(ctx, text)
}

type noop struct{}

// Noop returns a classifier that reports every text as human written.
func Noop() Classifier { return noop{} }

func (noop) Classify(context.Context, string) (Verdict, error) {
	return Verdict{IsHumanWritten: true}, nil
}
