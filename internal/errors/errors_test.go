package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"explicit transient", NewTransientError(stderrors.New("x"), ""), KindTransient},
		{"explicit permanent", NewPermanentError(stderrors.New("x"), ""), KindPermanent},
		{"degraded", NewDegradedError(stderrors.New("x"), ""), KindDegraded},
		{"rate limited status", fmt.Errorf("status 429: slow down"), KindTransient},
		{"bad gateway", fmt.Errorf("API error 502: upstream"), KindTransient},
		{"unauthorized", fmt.Errorf("HTTP 401 unauthorized"), KindPermanent},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), KindTransient},
		{"plain", stderrors.New("template: missing key"), KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.kind, KindOf(tc.err))
		})
	}
}

func TestStatusCodePrefersTypedField(t *testing.T) {
	err := &TransientError{Err: stderrors.New("boom"), StatusCode: 503}
	require.Equal(t, 503, StatusCode(fmt.Errorf("wrapped: %w", err)))
	require.Equal(t, 0, StatusCode(stderrors.New("no code here")))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cfg := DefaultRetryConfig()
	require.Equal(t, time.Second, Backoff(0, cfg))
	require.Equal(t, 4*time.Second, Backoff(2, cfg))
	require.Equal(t, 16*time.Second, Backoff(4, cfg))
	require.Equal(t, 20*time.Second, Backoff(5, cfg))
	require.Equal(t, 20*time.Second, Backoff(60, cfg))
}

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryWithResultRetriesTransient(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

	out, err := RetryWithResult(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(stderrors.New("429"), "rate limited")
		}
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retried)
}

func TestRetryWithResultStopsOnPermanent(t *testing.T) {
	calls := 0
	permanent := NewPermanentError(stderrors.New("bad key"), "")
	_, err := RetryWithResult(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, permanent
	}, nil)

	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestRetryWithResultExhausts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		return NewTransientError(stderrors.New("busy"), "")
	}, nil)

	require.Error(t, err)
	require.Contains(t, err.Error(), "max retries exceeded")
	require.Equal(t, 3, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetry(2), func(context.Context) error { return nil }, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("backend", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, nil)
	cb.now = func() time.Time { return now }

	failing := func(context.Context) (string, error) {
		return "", NewTransientError(stderrors.New("503"), "")
	}
	for i := 0; i < 2; i++ {
		_, err := ExecuteFunc(cb, context.Background(), failing)
		require.True(t, IsTransient(err))
	}
	require.Equal(t, StateOpen, cb.State())

	_, err := ExecuteFunc(cb, context.Background(), failing)
	require.True(t, IsDegraded(err))
	require.False(t, IsTransient(err))

	now = now.Add(2 * time.Minute)
	out, err := ExecuteFunc(cb, context.Background(), func(context.Context) (string, error) { return "up", nil })
	require.NoError(t, err)
	require.Equal(t, "up", out)
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresPermanentErrors(t *testing.T) {
	cb := NewCircuitBreaker("backend", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute}, nil)
	_, _ = ExecuteFunc(cb, context.Background(), func(context.Context) (int, error) {
		return 0, NewPermanentError(stderrors.New("bad request"), "")
	})
	require.Equal(t, StateClosed, cb.State())
}

func TestRetryAfterHintRaisesDelayWithinCap(t *testing.T) {
	cfg := fastRetry(1)
	var delays []time.Duration
	cfg.OnRetry = func(_ int, delay time.Duration, _ error) { delays = append(delays, delay) }

	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &TransientError{Err: stderrors.New("429"), StatusCode: 429, RetryAfter: 30}
		}
		return 1, nil
	}, nil)

	require.NoError(t, err)
	require.Equal(t, []time.Duration{cfg.MaxDelay}, delays)
	require.Equal(t, 30*time.Second, RetryAfter(NewTransientError(&TransientError{RetryAfter: 30}, "")))
}
