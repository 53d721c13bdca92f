// Package pipeline assembles and runs the sequential content pipeline: an
// ordered task list where each task's output becomes the next task's draft.
package pipeline

import (
	"fmt"
	"strings"
	"text/template"

	"quill/internal/agent"
)

// Stage groups tasks for metrics and display.
type Stage string

const (
	StageResearch  Stage = "research"
	StageWrite     Stage = "write"
	StageMicro     Stage = "micro"
	StageRefine    Stage = "refine"
	StageFinishing Stage = "finishing"
)

// Template placeholders. Only the first two tasks may reference Topic.
const (
	topicKey = "Topic"
	draftKey = "Draft"
)

// Task is one immutable unit of work bound to a worker.
type Task struct {
	Index          int
	Stage          Stage
	Title          string
	Description    string // text/template over {{.Topic}} and {{.Draft}}
	ExpectedOutput string
	Agent          agent.Spec

	tmpl *template.Template
}

func newTask(stage Stage, title, description, expected string, spec agent.Spec) Task {
	return Task{
		Stage:          stage,
		Title:          title,
		Description:    description,
		ExpectedOutput: expected,
		Agent:          spec,
	}
}

// Inputs returns the placeholder values bound to the task at index i: the
// topic alone for the first task, topic and draft for the second, and the
// draft alone afterwards.
func Inputs(index int, topic, draft string) map[string]string {
	switch index {
	case 0:
		return map[string]string{topicKey: topic}
	case 1:
		return map[string]string{topicKey: topic, draftKey: draft}
	default:
		return map[string]string{draftKey: draft}
	}
}

// Render executes the description template. Referencing a placeholder that
// is not bound at this index is an error.
func (t Task) Render(inputs map[string]string) (string, error) {
	tmpl := t.tmpl
	if tmpl == nil {
		var err error
		tmpl, err = parseDescription(t.Title, t.Description)
		if err != nil {
			return "", err
		}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, inputs); err != nil {
		return "", fmt.Errorf("render task %d (%s): %w", t.Index, t.Agent.Role(), err)
	}
	return b.String(), nil
}

func parseDescription(name, description string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(description)
	if err != nil {
		return nil, fmt.Errorf("parse task template %q: %w", name, err)
	}
	return tmpl, nil
}

// References reports whether the description uses the given placeholder.
func (t Task) References(key string) bool {
	return strings.Contains(t.Description, "{{."+key+"}}")
}
