package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"quill/internal/shared/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries   int           // retries after the first attempt
	BaseDelay    time.Duration // delay before the first retry
	MaxDelay     time.Duration // upper bound for a single delay
	JitterFactor float64       // 0.25 = ±25%

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig mirrors the generation backend contract: up to eight
// retries, doubling from one second and capped at twenty.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   8,
		BaseDelay:    time.Second,
		MaxDelay:     20 * time.Second,
		JitterFactor: 0,
	}
}

// Retry executes fn with exponential backoff while it returns transient errors.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error, logger logging.Logger) error {
	_, err := RetryWithResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, logger)
	return err
}

// RetryWithResult executes fn with exponential backoff and returns its result.
// Non-transient errors are returned unchanged and immediately.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)
	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		if attempt == config.MaxRetries {
			logger.Warn("Max retries (%d) exhausted: %v", config.MaxRetries, err)
			break
		}

		delay := Backoff(attempt, config)
		if hint := RetryAfter(err); hint > delay {
			delay = hint
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, delay, err)
		}
		logger.Debug("Attempt %d failed (%v), waiting %v", attempt+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Backoff returns BaseDelay * 2^attempt capped at MaxDelay, with jitter.
func Backoff(attempt int, config RetryConfig) time.Duration {
	raw := float64(config.BaseDelay) * math.Pow(2, float64(attempt))
	delay := config.MaxDelay
	if config.MaxDelay <= 0 || raw < float64(config.MaxDelay) {
		delay = time.Duration(math.Min(raw, float64(math.MaxInt64>>1)))
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}
