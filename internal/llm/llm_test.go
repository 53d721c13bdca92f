package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quill/internal/agent"
	qerrors "quill/internal/errors"
	"quill/internal/shared/logging"
)

func fastRetry() qerrors.RetryConfig {
	return qerrors.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	mock := NewMockBackend()
	reg.Register(agent.BackendPrimary, mock)

	got, err := reg.Resolve(" primary ")
	require.NoError(t, err)
	require.Same(t, mock, got)

	_, err = reg.Resolve("entropy")
	var unknown *UnknownBackendError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, []string{"primary"}, reg.Refs())
}

func TestRetryBackendRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	flaky := BackendFunc(func(context.Context, Invocation) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("Error 429: rate limit exceeded")
		}
		return "done", nil
	})

	out, err := NewRetryBackend(flaky, fastRetry(), nil, logging.Nop()).Invoke(context.Background(), Invocation{Role: "Researcher"})
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.EqualValues(t, 3, calls.Load())
}

func TestRetryBackendSurfacesPermanentImmediately(t *testing.T) {
	var calls atomic.Int32
	broken := BackendFunc(func(context.Context, Invocation) (string, error) {
		calls.Add(1)
		return "", errors.New("invalid api key")
	})

	_, err := NewRetryBackend(broken, fastRetry(), nil, logging.Nop()).Invoke(context.Background(), Invocation{})
	require.EqualError(t, err, "invalid api key")
	require.EqualValues(t, 1, calls.Load())
}

func TestRetryBackendIgnoresStatusLikeDigits(t *testing.T) {
	var calls atomic.Int32
	tooLong := BackendFunc(func(context.Context, Invocation) (string, error) {
		calls.Add(1)
		return "", errors.New("max_tokens 1500 exceeds the 502-token budget")
	})

	_, err := NewRetryBackend(tooLong, fastRetry(), nil, logging.Nop()).Invoke(context.Background(), Invocation{})
	require.EqualError(t, err, "max_tokens 1500 exceeds the 502-token budget")
	require.EqualValues(t, 1, calls.Load())
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg       string
		transient bool
	}{
		{"status 429: slow down", true},
		{"API error 503: try later", true},
		{"HTTP 400 bad request", false},
		{"upstream overloaded", true},
		{"dial tcp 10.0.0.1:500: connection refused", true},
		{"prompt has 1500 tokens", false},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			require.Equal(t, tc.transient, qerrors.IsTransient(classifyError(errors.New(tc.msg))))
		})
	}
	require.ErrorIs(t, classifyError(context.Canceled), context.Canceled)
}

func TestRetryBackendExhaustion(t *testing.T) {
	var calls atomic.Int32
	busy := BackendFunc(func(context.Context, Invocation) (string, error) {
		calls.Add(1)
		return "", errors.New("503 service unavailable")
	})
	breaker := qerrors.NewCircuitBreaker("primary", qerrors.CircuitBreakerConfig{FailureThreshold: 100, Timeout: time.Minute}, nil)

	_, err := NewRetryBackend(busy, fastRetry(), breaker, logging.Nop()).Invoke(context.Background(), Invocation{})
	require.ErrorContains(t, err, "max retries exceeded")
	require.EqualValues(t, 4, calls.Load())
}

func TestOpenAIBackendSendsSamplingAndPersona(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"draft text"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	backend, err := NewOpenAIBackend(Config{Model: "gpt-4.1-mini", APIKey: "sk-test", BaseURL: srv.URL + "/v1",
		Defaults: map[string]float64{agent.ParamTemperature: 1.0, agent.ParamTopP: 0.9}})
	require.NoError(t, err)

	spec := agent.Writer("Write it.", "", agent.BackendPrimary)
	out, err := backend.Invoke(context.Background(), Invocation{
		Role: spec.Role(), Goal: spec.Goal(), Backstory: spec.Backstory(),
		Prompt: "Write messy raw draft for 'Coffee'.", ExpectedOutput: "raw-draft",
		Sampling: spec.SamplingParams(),
	})
	require.NoError(t, err)
	require.Equal(t, "draft text", out)

	require.Equal(t, "gpt-4.1-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	require.Contains(t, captured.Messages[0].Content, "You are Content Writer.")
	require.Contains(t, captured.Messages[1].Content, "Expected output: raw-draft")
	require.InDelta(t, 1.15, *captured.Temperature, 1e-9)
	require.InDelta(t, 0.9, *captured.TopP, 1e-9)
	require.InDelta(t, 0.75, *captured.FrequencyPenalty, 1e-9)
}

func TestOpenAIBackendMapsStatusCodes(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	backend, err := NewOpenAIBackend(Config{Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = backend.Invoke(context.Background(), Invocation{Prompt: "x"})
	var transient *qerrors.TransientError
	require.ErrorAs(t, err, &transient)
	require.Equal(t, 3, transient.RetryAfter)

	status.Store(http.StatusUnauthorized)
	_, err = backend.Invoke(context.Background(), Invocation{Prompt: "x"})
	require.True(t, qerrors.IsPermanent(err))
	require.False(t, qerrors.IsTransient(err))
}

func TestMockBackendThreadsPrompt(t *testing.T) {
	mock := NewMockBackend()
	out, err := mock.Invoke(context.Background(), Invocation{Role: "Editor", Prompt: "draft", ExpectedOutput: "edited"})
	require.NoError(t, err)
	require.Equal(t, "draft\n[Editor: edited]", out)
	require.Len(t, mock.Calls(), 1)
}

func TestClampTruncatesLongPrompts(t *testing.T) {
	var seen string
	capture := BackendFunc(func(_ context.Context, inv Invocation) (string, error) {
		seen = inv.Prompt
		return "", nil
	})

	long := strings.Repeat("coffee beans roast slowly ", 400)
	_, err := Clamp(capture, 50).Invoke(context.Background(), Invocation{Prompt: long})
	require.NoError(t, err)
	require.Less(t, len(seen), len(long))
	require.True(t, strings.HasPrefix(long, seen))

	_, err = Clamp(capture, 50).Invoke(context.Background(), Invocation{Prompt: "short"})
	require.NoError(t, err)
	require.Equal(t, "short", seen)
}
