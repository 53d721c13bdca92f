package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quill/internal/shared/logging"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreakerConfig tunes a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the run of transient failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the run of half-open successes that closes it.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a probe is let through.
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig opens after five transient failures and probes
// again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

// CircuitBreaker stops calling a generation backend that keeps failing
// transiently. Permanent errors do not count against the backend.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	streak   int // consecutive failures when closed, successes when half-open
	openedAt time.Time
}

// NewCircuitBreaker returns a closed breaker. Non-positive thresholds take
// the defaults.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	return &CircuitBreaker{name: name, config: config, logger: logging.OrNop(logger), now: time.Now}
}

// ExecuteFunc calls fn unless the breaker is open. A nil breaker always
// calls fn.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	out, err := fn(ctx)
	cb.observe(err)
	return out, err
}

// State returns the breaker position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
}

// moveTo changes state and clears the streak. Callers hold mu.
func (cb *CircuitBreaker) moveTo(state CircuitState) {
	if cb.state != state {
		cb.logger.Info("circuit %s: %s -> %s", cb.name, cb.state, state)
	}
	cb.state = state
	cb.streak = 0
	if state == StateOpen {
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return nil
	}
	remaining := cb.config.Timeout - cb.now().Sub(cb.openedAt)
	if remaining <= 0 {
		cb.moveTo(StateHalfOpen)
		return nil
	}
	return NewDegradedError(
		fmt.Errorf("circuit %s is open", cb.name),
		fmt.Sprintf("backend %s keeps failing; retry in %v", cb.name, remaining.Round(time.Second)),
	)
}

func (cb *CircuitBreaker) observe(err error) {
	if err != nil && !IsTransient(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil && cb.state == StateHalfOpen:
		cb.streak++
		if cb.streak >= cb.config.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
	case err == nil:
		cb.streak = 0
	case cb.state == StateHalfOpen:
		cb.moveTo(StateOpen)
	case cb.state == StateClosed:
		cb.streak++
		if cb.streak >= cb.config.FailureThreshold {
			cb.logger.Warn("circuit %s: %d transient failures in a row", cb.name, cb.streak)
			cb.moveTo(StateOpen)
		}
	}
}
