package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockBackend is a deterministic offline backend. Each invocation appends a
// marker naming the worker to the prompt body, so the threaded draft records
// every stage it passed through.
type MockBackend struct {
	mu    sync.Mutex
	calls []Invocation
}

// NewMockBackend returns an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Invoke(ctx context.Context, inv Invocation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls = append(m.calls, inv)
	m.mu.Unlock()

	body := strings.TrimSpace(inv.Prompt)
	return fmt.Sprintf("%s\n[%s: %s]", body, inv.Role, inv.ExpectedOutput), nil
}

// Calls returns the invocations received so far.
func (m *MockBackend) Calls() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Invocation(nil), m.calls...)
}
