// Package tui renders live run progress in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"quill/internal/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type (
	snapshotMsg     pipeline.Snapshot
	streamClosedMsg struct{}
)

// Model is a bubbletea model following one run's snapshots.
type Model struct {
	topic     string
	snapshots <-chan pipeline.Snapshot
	spinner   spinner.Model
	bar       progress.Model
	snap      pipeline.Snapshot
	width     int
	cancelled bool
	closed    bool
	// maxRows bounds the task list; the rest is summarized.
	maxRows int
}

// NewModel returns a model reading snapshots until the channel closes.
func NewModel(topic string, snapshots <-chan pipeline.Snapshot) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = currentStyle
	return Model{
		topic:     topic,
		snapshots: snapshots,
		spinner:   sp,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		maxRows:   12,
	}
}

func waitForSnapshot(ch <-chan pipeline.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.snapshots))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 10; w > 10 && w < 80 {
			m.bar.Width = w
		}
	case snapshotMsg:
		m.snap = pipeline.Snapshot(msg)
		if m.snap.Done {
			return m, tea.Quit
		}
		return m, waitForSnapshot(m.snapshots)
	case streamClosedMsg:
		m.closed = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("quill: %s", m.topic)))
	b.WriteString("\n")
	if m.snap.RunID != "" {
		b.WriteString(dimStyle.Render(m.snap.RunID))
	}
	b.WriteString("\n\n")

	start := 0
	if m.snap.Current != nil && len(m.snap.Tasks) > m.maxRows {
		start = max(0, min(m.snap.Current.Index-m.maxRows/2, len(m.snap.Tasks)-m.maxRows))
	}
	end := min(len(m.snap.Tasks), start+m.maxRows)
	if start > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d earlier tasks", start)) + "\n")
	}
	for _, task := range m.snap.Tasks[start:end] {
		b.WriteString(m.row(task))
		b.WriteString("\n")
	}
	if end < len(m.snap.Tasks) {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more tasks", len(m.snap.Tasks)-end)) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.snap.Fraction()))
	b.WriteString(fmt.Sprintf("  %d/%d\n", m.snap.Completed, m.snap.Total))
	if m.snap.Failed != nil {
		b.WriteString(failStyle.Render(fmt.Sprintf("failed at %s: %s", m.snap.Failed.Role, m.snap.Failed.Error)) + "\n")
	} else if !m.snap.Done {
		b.WriteString(dimStyle.Render("q to cancel") + "\n")
	}
	return b.String()
}

func (m Model) row(task pipeline.TaskStatus) string {
	label := fmt.Sprintf("%-28s %s", truncate(task.Role, 28), task.Description)
	switch task.Status {
	case pipeline.StatusFinished:
		return okStyle.Render("  ✓ ") + label
	case pipeline.StatusFailed:
		return failStyle.Render("  ✗ ") + label
	case pipeline.StatusStarting:
		return " " + m.spinner.View() + " " + currentStyle.Render(label)
	default:
		return dimStyle.Render("  · " + label)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Snapshot returns the latest snapshot received.
func (m Model) Snapshot() pipeline.Snapshot { return m.snap }

// Cancelled reports whether the user asked to stop the run.
func (m Model) Cancelled() bool { return m.cancelled }

// Run shows the progress view until the run is done, the user quits or ctx
// ends. It returns the final model.
func Run(ctx context.Context, topic string, snapshots <-chan pipeline.Snapshot, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewModel(topic, snapshots), opts...).Run()
	if m, ok := final.(Model); ok {
		return m, err
	}
	return Model{}, err
}
