package http

import (
	"time"

	"quill/internal/pipeline"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StartRunResponse answers POST /api/runs.
type StartRunResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
	StreamURL string `json:"stream_url"`
}

// ProgressResponse answers GET /api/runs/:id.
type ProgressResponse struct {
	pipeline.Snapshot
	Fraction float64 `json:"fraction"`
}

// ActiveRequest toggles a persona profile.
type ActiveRequest struct {
	Active *bool `json:"active"`
}

// StreamMessage is one websocket frame.
type StreamMessage struct {
	Type      string    `json:"type"` // snapshot, done, error
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
}

// HealthResponse answers GET /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}
