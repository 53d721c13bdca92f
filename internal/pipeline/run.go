package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Run is one execution of a task list. The draft is owned by the executing
// worker; observers only read the status log.
type Run struct {
	ID    string
	Topic string
	Tasks []Task

	log *StatusLog
}

// NewRun checks that tasks are contiguous from zero and returns a run with a
// fresh identifier.
func NewRun(topic string, tasks []Task) (*Run, error) {
	if len(tasks) == 0 {
		return nil, &ValidationError{Field: "tasks", Reason: "run has no tasks"}
	}
	for i, task := range tasks {
		if task.Index != i {
			return nil, &ValidationError{Field: "tasks", Reason: fmt.Sprintf("task at position %d has index %d", i, task.Index)}
		}
		if task.Agent.IsZero() {
			return nil, &ValidationError{Field: "tasks", Reason: fmt.Sprintf("task %d has no agent", i)}
		}
	}
	return &Run{
		ID:    fmt.Sprintf("run-%s", uuid.New().String()),
		Topic: topic,
		Tasks: append([]Task(nil), tasks...),
		log:   NewStatusLog(),
	}, nil
}

// Log returns the run's status log.
func (r *Run) Log() *StatusLog { return r.log }

// Handle observes and controls a started run.
type Handle struct {
	run    *Run
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result Result
}

// Run returns the run this handle controls.
func (h *Handle) Run() *Run { return h.run }

// Done is closed when the run reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsDone reports whether the run reached a terminal state.
func (h *Handle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the terminal result once the run is done.
func (h *Handle) Result() (Result, bool) {
	if !h.IsDone() {
		return Result{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, true
}

// Wait blocks until the run is done or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		res, _ := h.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel asks the worker to stop. Tasks not yet started stay pending.
func (h *Handle) Cancel() { h.cancel() }

func (h *Handle) finish(res Result) {
	h.mu.Lock()
	h.result = res
	h.mu.Unlock()
	// done closes first so a Done snapshot implies Result is available.
	close(h.done)
	h.run.log.Close()
}
