package presentation

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

// MarkdownRenderer renders drafts as styled terminal markdown.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
}

// NewMarkdownRenderer builds a renderer wrapping at width. Plain output uses
// the notty style so it is safe to pipe.
func NewMarkdownRenderer(width int, plain bool) (*MarkdownRenderer, error) {
	if width <= 0 {
		width = 80
	}
	style := glamour.WithStandardStyle("dark")
	if plain {
		style = glamour.WithStandardStyle("notty")
	}
	renderer, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &MarkdownRenderer{renderer: renderer}, nil
}

// Render returns content rendered for the terminal. On render errors the
// raw content is returned with the error.
func (r *MarkdownRenderer) Render(content string) (string, error) {
	if content == "" {
		return "", nil
	}
	out, err := r.renderer.Render(content)
	if err != nil {
		return content, fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
