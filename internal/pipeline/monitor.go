package pipeline

import (
	"context"
	"time"

	"quill/internal/shared/async"
	"quill/internal/shared/logging"
)

// DefaultPollInterval bounds how long a watcher waits between snapshots when
// the log is quiet.
const DefaultPollInterval = 500 * time.Millisecond

// TaskStatus is the derived display state of one task.
type TaskStatus struct {
	Index       int    `json:"index"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Snapshot is a consistent view of a run derived from its status log.
type Snapshot struct {
	RunID     string       `json:"run_id"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Tasks     []TaskStatus `json:"tasks"`
	Current   *TaskStatus  `json:"current,omitempty"`
	Failed    *TaskStatus  `json:"failed,omitempty"`
	Terminal  bool         `json:"terminal"`
	// Done is set once the worker has stopped and the result is available.
	Done bool `json:"done"`
	Seq  int  `json:"seq"`
}

// Fraction returns completed/total in [0, 1].
func (s Snapshot) Fraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// Monitor derives progress snapshots from runs without mutating them.
type Monitor struct {
	interval time.Duration
	logger   logging.Logger
}

// NewMonitor returns a Monitor. A non-positive interval uses
// DefaultPollInterval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{interval: interval, logger: logging.NewComponentLogger("monitor")}
}

// Snapshot reads the run's log and returns the latest state of every task.
func (m *Monitor) Snapshot(run *Run) Snapshot {
	closed := run.log.Closed()
	return Derive(run, run.log.Entries(), closed)
}

// Derive builds a snapshot from a prefix of a run's log. For each task the
// most recent entry wins.
func Derive(run *Run, entries []LogEntry, closed bool) Snapshot {
	snap := Snapshot{
		RunID: run.ID,
		Total: len(run.Tasks),
		Tasks: make([]TaskStatus, len(run.Tasks)),
		Seq:   len(entries),
		Done:  closed,
	}
	for i, task := range run.Tasks {
		snap.Tasks[i] = TaskStatus{
			Index:       i,
			Role:        task.Agent.Role(),
			Description: task.Title,
			Status:      StatusPending,
		}
	}
	for _, entry := range entries {
		if entry.TaskIndex < 0 || entry.TaskIndex >= len(snap.Tasks) {
			continue
		}
		ts := &snap.Tasks[entry.TaskIndex]
		ts.Status = entry.Status
		ts.Role = entry.AgentRole
		ts.Output = entry.Output
		ts.Error = entry.Error
	}

	for i := range snap.Tasks {
		ts := snap.Tasks[i]
		switch ts.Status {
		case StatusFinished:
			snap.Completed++
		case StatusStarting:
			current := ts
			snap.Current = &current
		case StatusFailed:
			failed := ts
			snap.Failed = &failed
		}
	}
	snap.Terminal = closed || snap.Failed != nil || snap.Completed == snap.Total
	return snap
}

// Watch emits a snapshot immediately and then after every log change, with
// the monitor interval as an upper bound on quiet periods. The channel is
// closed after the first Done snapshot or when ctx ends.
func (m *Monitor) Watch(ctx context.Context, run *Run) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	async.Go(m.logger, "watch", func() {
		defer close(out)
		seen := -1
		for {
			snap := m.Snapshot(run)
			if snap.Seq != seen || snap.Done {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				seen = snap.Seq
			}
			if snap.Done {
				return
			}

			waitCtx, cancel := context.WithTimeout(ctx, m.interval)
			_, _, err := run.log.Wait(waitCtx, seen)
			cancel()
			if err != nil && ctx.Err() != nil {
				return
			}
		}
	})
	return out
}
