package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add("ERROR", format, args...) }

func (r *recordingLogger) add(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	require.True(t, IsNil(typed))
	require.NotPanics(t, func() { OrNop(typed).Info("hello %d", 1) })

	real := &recordingLogger{}
	require.Same(t, real, OrNop(real))
}

func TestPrefixedNestsAndFormats(t *testing.T) {
	rec := &recordingLogger{}
	logger := Prefixed(Prefixed(rec, "backend=primary "), "retry ")
	logger.Warn("attempt %d", 2)

	require.Equal(t, []string{"WARN backend=primary retry attempt 2"}, rec.lines)
	require.Same(t, rec, Prefixed(rec, ""))
	require.IsType(t, nop{}, Prefixed(nil, ""))
}

func TestFromZapFormatsMessages(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := FromZap(zap.New(core).Named("pipeline"))

	logger.Info("task %d finished", 3)
	logger.Error("failed: %v", "boom")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "task 3 finished", entries[0].Message)
	require.Equal(t, "pipeline", entries[0].LoggerName)
	require.Equal(t, "failed: boom", entries[1].Message)
}

func TestConfigureFallsBackToInfoLevel(t *testing.T) {
	require.NoError(t, Configure(Options{Level: "verbose", Format: "json", Output: "stderr"}))
	t.Cleanup(func() {
		baseMu.Lock()
		base = zap.NewNop()
		baseMu.Unlock()
	})
	require.NotNil(t, NewComponentLogger("test"))
}
