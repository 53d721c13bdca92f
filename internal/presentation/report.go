package presentation

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"quill/internal/app"
)

// ReportOptions controls what Report prints.
type ReportOptions struct {
	Color bool
	// ShowDiffs prints the inline diff of every stage, not only its summary.
	ShowDiffs bool
	// Markdown renders the final draft; nil prints it raw.
	Markdown *MarkdownRenderer
}

// Report writes a human-readable account of a finished run.
func Report(w io.Writer, outcome app.Outcome, opts ReportOptions) error {
	paint := func(attr color.Attribute, format string, args ...any) string {
		s := fmt.Sprintf(format, args...)
		if !opts.Color {
			return s
		}
		return color.New(attr).Sprint(s)
	}

	var b strings.Builder
	switch {
	case outcome.Succeeded():
		b.WriteString(paint(color.FgGreen, "✓ run %s succeeded", outcome.RunID))
	case outcome.Status == "cancelled":
		b.WriteString(paint(color.FgYellow, "■ run %s cancelled", outcome.RunID))
	default:
		b.WriteString(paint(color.FgRed, "✗ run %s failed", outcome.RunID))
	}
	b.WriteString("\n")
	if outcome.FailedTask != nil {
		b.WriteString(paint(color.FgRed, "  task %d (%s): %s", *outcome.FailedTask, outcome.FailedRole, outcome.Error))
		b.WriteString("\n")
	} else if outcome.Error != "" {
		b.WriteString(paint(color.FgRed, "  %s", outcome.Error))
		b.WriteString("\n")
	}

	if deltas := Deltas(outcome.Outputs); len(deltas) > 0 {
		b.WriteString("\nstages:\n")
		for _, d := range deltas {
			fmt.Fprintf(&b, "  %3d  %-32s %s\n", d.Index, d.Role, d.Summary())
			if opts.ShowDiffs && d.Changed() {
				b.WriteString(indent(d.Diff(opts.Color), "       "))
				b.WriteString("\n")
			}
		}
	}

	if v := outcome.Detection; v != nil {
		verdict := paint(color.FgGreen, "human")
		if !v.IsHumanWritten {
			verdict = paint(color.FgRed, "ai")
		}
		fmt.Fprintf(&b, "\ndetection: %s (%.1f%% ai)\n", verdict, v.AIPercentage)
		if v.Feedback != "" {
			fmt.Fprintf(&b, "  %s\n", v.Feedback)
		}
	} else if outcome.DetectionError != "" {
		b.WriteString(paint(color.FgYellow, "\ndetection unavailable: %s", outcome.DetectionError))
		b.WriteString("\n")
	}
	if outcome.RecordID != "" {
		fmt.Fprintf(&b, "saved as %s\n", outcome.RecordID)
	}

	if outcome.Succeeded() {
		b.WriteString("\n")
		body := outcome.Output
		if opts.Markdown != nil {
			if rendered, err := opts.Markdown.Render(body); err == nil {
				body = rendered
			}
		}
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
