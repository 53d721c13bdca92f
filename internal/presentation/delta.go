// Package presentation formats run results for terminals.
package presentation

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"quill/internal/pipeline"
)

// Delta summarizes how one stage changed the draft it received.
type Delta struct {
	Index        int
	Role         string
	AddedWords   int
	DeletedWords int
	// Distance is the Levenshtein distance of the semantic diff in characters.
	Distance int
	diffs    []diffmatchpatch.Diff
}

// Changed reports whether the stage altered the draft at all.
func (d Delta) Changed() bool { return d.AddedWords > 0 || d.DeletedWords > 0 }

// Summary returns a short "+N -M words" description.
func (d Delta) Summary() string {
	if !d.Changed() {
		return "no changes"
	}
	var parts []string
	if d.AddedWords > 0 {
		parts = append(parts, fmt.Sprintf("+%d", d.AddedWords))
	}
	if d.DeletedWords > 0 {
		parts = append(parts, fmt.Sprintf("-%d", d.DeletedWords))
	}
	return strings.Join(parts, " ") + " words"
}

// Diff renders the inline diff, insertions in green and deletions in red.
// With color disabled insertions are wrapped in {+ +} and deletions in [- -].
func (d Delta) Diff(colorEnabled bool) string {
	var b strings.Builder
	for _, diff := range d.diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString(mark(diff.Text, "{+", "+}", color.FgGreen, colorEnabled))
		case diffmatchpatch.DiffDelete:
			b.WriteString(mark(diff.Text, "[-", "-]", color.FgRed, colorEnabled))
		default:
			b.WriteString(diff.Text)
		}
	}
	return b.String()
}

func mark(text, open, closing string, attr color.Attribute, colorEnabled bool) string {
	if colorEnabled {
		return color.New(attr).Sprint(text)
	}
	return open + text + closing
}

// Compare computes the delta from prev to next.
func Compare(prev, next string) Delta {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prev, next, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	d := Delta{diffs: diffs, Distance: dmp.DiffLevenshtein(diffs)}
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			d.AddedWords += len(strings.Fields(diff.Text))
		case diffmatchpatch.DiffDelete:
			d.DeletedWords += len(strings.Fields(diff.Text))
		}
	}
	return d
}

// Deltas compares each draft-producing output with the one before it. The
// research notes of task 0 have no predecessor and are skipped.
func Deltas(outputs []pipeline.TaskOutput) []Delta {
	var deltas []Delta
	for i := 1; i < len(outputs); i++ {
		prev := ""
		if i > 1 {
			prev = outputs[i-1].Output
		}
		d := Compare(prev, outputs[i].Output)
		d.Index = outputs[i].Index
		d.Role = outputs[i].Role
		deltas = append(deltas, d)
	}
	return deltas
}
