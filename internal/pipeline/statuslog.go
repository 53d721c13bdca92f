package pipeline

import (
	"context"
	"sync"
	"time"
)

// Status is a task state. PENDING never appears in the log; it is the state
// of every task without entries.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusStarting Status = "STARTING"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether s ends a task.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// LogEntry is one immutable task status transition.
type LogEntry struct {
	Seq             int       `json:"seq"`
	TaskIndex       int       `json:"task_index"`
	Status          Status    `json:"status"`
	AgentRole       string    `json:"agent_role"`
	TaskDescription string    `json:"task_description"`
	Output          string    `json:"output,omitempty"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}

// StatusLog is an append-only log written by one worker and read by any
// number of observers. Readers always see a complete prefix.
type StatusLog struct {
	mu      sync.RWMutex
	entries []LogEntry
	changed chan struct{}
	closed  bool
	now     func() time.Time
}

// NewStatusLog returns an empty log.
func NewStatusLog() *StatusLog {
	return &StatusLog{changed: make(chan struct{}), now: time.Now}
}

// Append adds an entry, stamping its sequence number and time, and wakes
// waiting readers. Appends after Close are ignored.
func (l *StatusLog) Append(entry LogEntry) LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return entry
	}
	entry.Seq = len(l.entries)
	entry.At = l.now()
	l.entries = append(l.entries, entry)
	close(l.changed)
	l.changed = make(chan struct{})
	return entry
}

// Close marks the log complete and wakes waiting readers for the last time.
func (l *StatusLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.changed)
}

// Closed reports whether the writer has finished.
func (l *StatusLog) Closed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// Len returns the number of entries.
func (l *StatusLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the log.
func (l *StatusLog) Entries() []LogEntry {
	return l.Since(0)
}

// Since returns a copy of the entries from offset on.
func (l *StatusLog) Since(offset int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.entries) {
		return nil
	}
	return append([]LogEntry(nil), l.entries[offset:]...)
}

// Wait blocks until the log holds more than seen entries, the log is closed,
// or ctx is done. It returns the current length and whether the log is
// closed.
func (l *StatusLog) Wait(ctx context.Context, seen int) (int, bool, error) {
	for {
		l.mu.RLock()
		n, closed, changed := len(l.entries), l.closed, l.changed
		l.mu.RUnlock()
		if n > seen || closed {
			return n, closed, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return n, false, ctx.Err()
		}
	}
}
