package async

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Error(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestGoRecoversPanicAndSignalsDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := &captureLogger{}
	done := Go(logger, "worker", func() { panic("boom") })
	<-done

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.lines, 1)
	require.Contains(t, logger.lines[0], "goroutine panic [worker]: boom")
}

func TestCaptureConvertsPanic(t *testing.T) {
	err := Capture(func() error { panic("kaboom") })

	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	require.Equal(t, "kaboom", panicErr.Value)
	require.NotEmpty(t, panicErr.Stack)

	sentinel := errors.New("plain")
	require.ErrorIs(t, Capture(func() error { return sentinel }), sentinel)
}
