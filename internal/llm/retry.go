package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	qerrors "quill/internal/errors"
	"quill/internal/shared/logging"
)

// RetryBackend wraps a backend with exponential backoff for transient
// failures and a circuit breaker. It is the only place generation calls are
// retried.
type RetryBackend struct {
	underlying Backend
	config     qerrors.RetryConfig
	breaker    *qerrors.CircuitBreaker
	logger     logging.Logger
}

// NewRetryBackend wraps backend. A nil breaker disables circuit breaking.
func NewRetryBackend(backend Backend, config qerrors.RetryConfig, breaker *qerrors.CircuitBreaker, logger logging.Logger) *RetryBackend {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("llm-retry")
	}
	return &RetryBackend{
		underlying: backend,
		config:     config,
		breaker:    breaker,
		logger:     logger,
	}
}

func (r *RetryBackend) Invoke(ctx context.Context, inv Invocation) (string, error) {
	start := time.Now()
	out, err := qerrors.RetryWithResult(ctx, r.config, func(ctx context.Context) (string, error) {
		return qerrors.ExecuteFunc(r.breaker, ctx, func(ctx context.Context) (string, error) {
			text, err := r.underlying.Invoke(ctx, inv)
			if err != nil {
				return "", classifyError(err)
			}
			return text, nil
		})
	}, r.logger)
	if err != nil {
		r.logger.Warn("role=%s generation failed after %v: %v", inv.Role, time.Since(start).Round(time.Millisecond), err)
		return "", err
	}
	return out, nil
}

// classifyError marks rate limits, retryable HTTP statuses and network faults
// as transient. Statuses are read with qerrors.StatusCode so bare digits in a
// message never count. Already-classified errors pass through.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var (
		transient *qerrors.TransientError
		permanent *qerrors.PermanentError
	)
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}

	if code := qerrors.StatusCode(err); code > 0 {
		if qerrors.IsTransient(err) {
			return &qerrors.TransientError{Err: err, StatusCode: code, Message: fmt.Sprintf("status %d: %v", code, err)}
		}
		return err
	}

	lower := strings.ToLower(err.Error())
	for _, phrase := range overloadPhrases {
		if strings.Contains(lower, phrase) {
			return qerrors.NewTransientError(err, "backend overloaded: "+err.Error())
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || qerrors.IsTransient(err) {
		return qerrors.NewTransientError(err, "network error: "+err.Error())
	}
	return err
}

var overloadPhrases = []string{
	"rate limit", "too many requests", "overloaded",
	"internal server error", "bad gateway", "service unavailable", "gateway timeout",
}
