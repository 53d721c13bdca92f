package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"quill/internal/pipeline"
)

func sampleSnapshot(done bool) pipeline.Snapshot {
	tasks := []pipeline.TaskStatus{
		{Index: 0, Role: "Researcher", Description: "Research topic", Status: pipeline.StatusFinished},
		{Index: 1, Role: "Content Writer", Description: "Write raw draft", Status: pipeline.StatusStarting},
		{Index: 2, Role: "Micro-intro-1", Description: "Rewrite micro-intro 1", Status: pipeline.StatusPending},
	}
	snap := pipeline.Snapshot{RunID: "run-1", Completed: 1, Total: 3, Tasks: tasks, Done: done}
	snap.Current = &tasks[1]
	return snap
}

func TestModelRendersTasks(t *testing.T) {
	ch := make(chan pipeline.Snapshot)
	m := NewModel("Coffee", ch)

	updated, cmd := m.Update(snapshotMsg(sampleSnapshot(false)))
	assert.NotNil(t, cmd)
	view := updated.(Model).View()

	assert.Contains(t, view, "quill: Coffee")
	assert.Contains(t, view, "Researcher")
	assert.Contains(t, view, "Content Writer")
	assert.Contains(t, view, "Rewrite micro-intro 1")
	assert.Contains(t, view, "1/3")
	assert.Contains(t, view, "q to cancel")
}

func TestModelQuitsWhenDone(t *testing.T) {
	m := NewModel("Coffee", make(chan pipeline.Snapshot))
	updated, cmd := m.Update(snapshotMsg(sampleSnapshot(true)))
	assert.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, updated.(Model).Snapshot().Done)
	assert.False(t, updated.(Model).Cancelled())
}

func TestModelCancelOnKey(t *testing.T) {
	m := NewModel("Coffee", make(chan pipeline.Snapshot))
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, updated.(Model).Cancelled())
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelShowsFailure(t *testing.T) {
	snap := sampleSnapshot(true)
	snap.Tasks[1].Status = pipeline.StatusFailed
	snap.Tasks[1].Error = "boom"
	snap.Failed = &snap.Tasks[1]
	snap.Current = nil

	m := NewModel("Coffee", make(chan pipeline.Snapshot))
	updated, _ := m.Update(snapshotMsg(snap))
	assert.Contains(t, updated.(Model).View(), "failed at Content Writer: boom")
}

func TestWaitForSnapshotReportsClose(t *testing.T) {
	ch := make(chan pipeline.Snapshot)
	close(ch)
	assert.Equal(t, streamClosedMsg{}, waitForSnapshot(ch)())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
