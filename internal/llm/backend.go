// Package llm binds pipeline workers to text generation backends.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Invocation is one generation request made on behalf of a worker.
type Invocation struct {
	Role           string
	Goal           string
	Backstory      string
	Prompt         string
	ExpectedOutput string
	Sampling       map[string]float64
}

// Backend generates text for an invocation.
type Backend interface {
	Invoke(ctx context.Context, inv Invocation) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, inv Invocation) (string, error)

func (f BackendFunc) Invoke(ctx context.Context, inv Invocation) (string, error) {
	return f(ctx, inv)
}

// UnknownBackendError is returned when a worker names an unregistered backend.
type UnknownBackendError struct {
	Ref string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("llm: no backend registered as %q", e.Ref)
}

// Registry maps backend references to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds ref to backend, replacing any previous binding.
func (r *Registry) Register(ref string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[strings.TrimSpace(ref)] = backend
}

// Resolve returns the backend bound to ref.
func (r *Registry) Resolve(ref string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[strings.TrimSpace(ref)]
	if !ok || backend == nil {
		return nil, &UnknownBackendError{Ref: ref}
	}
	return backend, nil
}

// Refs lists the registered references in sorted order.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.backends))
	for ref := range r.backends {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// SystemPrompt renders the worker persona that precedes every prompt.
func SystemPrompt(inv Invocation) string {
	var b strings.Builder
	if inv.Role != "" {
		fmt.Fprintf(&b, "You are %s.", inv.Role)
	}
	if inv.Backstory != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(inv.Backstory)
	}
	if inv.Goal != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Your goal: %s", inv.Goal)
	}
	return b.String()
}

// UserPrompt renders the task prompt with its expected output label.
func UserPrompt(inv Invocation) string {
	if inv.ExpectedOutput == "" {
		return inv.Prompt
	}
	return fmt.Sprintf("%s\n\nExpected output: %s", inv.Prompt, inv.ExpectedOutput)
}
