package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommandFor(&CLI{isTTY: func() bool { return false }})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func offlineEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("QUILL_LOGGING_LEVEL", "error")
	t.Setenv("QUILL_PIPELINE_POLL_INTERVAL", "5ms")
	return filepath.Join(dir, "quill.db")
}

func TestRunThenHistory(t *testing.T) {
	db := offlineEnv(t)

	out, err := execute(t, "run", "Coffee",
		"--store", db, "--caller", "alice",
		"--provider", "mock", "--entropy-provider", "mock",
		"--micro-intro", "1", "--micro-body", "0", "--micro-conclusion", "0",
		"--passes", "0", "--finishing", "Editor",
		"--no-tui", "--plain")
	require.NoError(t, err, out)
	assert.Contains(t, out, "[1/4] Researcher")
	assert.Contains(t, out, "[4/4] Editor done")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "saved as")

	out, err = execute(t, "history", "list", "--store", db, "--caller", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Coffee")
	assert.Contains(t, out, "TOPIC")

	out, err = execute(t, "history", "list", "--store", db, "--caller", "bob")
	require.NoError(t, err, out)
	assert.Contains(t, out, "no recorded runs")
}

func TestRunRequiresTopicWithoutTerminal(t *testing.T) {
	db := offlineEnv(t)
	_, err := execute(t, "run", "--store", db, "--provider", "mock", "--entropy-provider", "mock", "--no-tui", "--plain")
	assert.ErrorContains(t, err, "topic")
}

func TestPersonasImportExport(t *testing.T) {
	db := offlineEnv(t)
	file := filepath.Join(filepath.Dir(db), "personas.yaml")
	require.NoError(t, os.WriteFile(file, []byte("personas:\n  - Skeptic\n  - name: Poet\n    weight: 2\n"), 0o600))

	out, err := execute(t, "personas", "import", file, "--store", db, "--caller", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "imported 2 personas")

	out, err = execute(t, "personas", "export", "--store", db, "--caller", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "name: Skeptic")
	assert.Contains(t, out, "name: Poet")

	out, err = execute(t, "personas", "list", "--store", db, "--caller", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "active pool: Skeptic, Poet")
}

func TestUnknownProviderFailsConfig(t *testing.T) {
	db := offlineEnv(t)
	_, err := execute(t, "history", "list", "--store", db)
	require.NoError(t, err)

	_, err = execute(t, "run", "Coffee", "--store", db, "--provider", "bogus")
	assert.ErrorContains(t, err, "unsupported")
}
