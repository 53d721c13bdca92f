package persona

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"quill/internal/llm"
)

func TestAnalyze(t *testing.T) {
	stats := Analyze("Coffee is good. However, tea is fine too! Coffee wins.")
	require.Equal(t, 3, stats.SentenceCount)
	require.Equal(t, 10, stats.WordCount)
	require.Equal(t, []string{"however"}, stats.CommonTransitions)
	require.Equal(t, "coffee", stats.TopKeywords[0])
	require.InDelta(t, 3.33, stats.AvgSentenceLength, 0.01)
}

func TestParseProfileRepairsAndExtracts(t *testing.T) {
	raw := "Sure! Here you go:\n```json\n{'role': 'Tone Twin', 'goal': 'match', 'micro_agent_list': ['A', 'B',],}\n```"
	profile, err := ParseProfile(raw)
	require.NoError(t, err)
	require.Equal(t, "Tone Twin", profile.Role)
	require.Equal(t, []string{"A", "B"}, profile.Agents())

	_, err = ParseProfile("no json at all")
	require.Error(t, err)
}

func TestGeneratorFallbacks(t *testing.T) {
	ctx := context.Background()
	sample := "I walked in. The place smelled like burnt toast and regret. Meanwhile the barista ignored me."

	profile, err := NewGenerator(nil, nil).Generate(ctx, sample, "cafes")
	require.NoError(t, err)
	require.Equal(t, DefaultMicroAgents, profile.Agents())
	require.NotEmpty(t, profile.Warning)

	failing := llm.BackendFunc(func(context.Context, llm.Invocation) (string, error) {
		return "", errors.New("status 500")
	})
	profile, err = NewGenerator(failing, nil).Generate(ctx, sample, "")
	require.NoError(t, err)
	require.Contains(t, profile.Warning, "generation failed")

	ok := llm.BackendFunc(func(_ context.Context, inv llm.Invocation) (string, error) {
		require.Contains(t, inv.Prompt, "burnt toast")
		return `{"role":"Cafe Grump","goal":"g","backstory":"b","micro_agent_list":["Grumbler"]}`, nil
	})
	profile, err = NewGenerator(ok, nil).Generate(ctx, sample, "")
	require.NoError(t, err)
	require.Equal(t, "Cafe Grump", profile.Role)
	require.Equal(t, []string{"Grumbler"}, profile.Agents())

	_, err = NewGenerator(ok, nil).Generate(ctx, "   ", "")
	require.Error(t, err)
}

func TestExtractArticlePrefersArticle(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body>
<nav>menu</nav>
<article><h1>Title</h1><script>track()</script><p>First   line.</p><p>Second line.</p></article>
</body></html>`
	text, err := ExtractArticle(strings.NewReader(html))
	require.NoError(t, err)
	require.Equal(t, "Title First line. Second line.", text)
}

func TestPersonaFileRoundTrip(t *testing.T) {
	in := "personas:\n  - daydreamer\n  - name: skeptical critic\n    weight: 2\n"
	items, err := ReadFile(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []Weighted{{Name: "daydreamer"}, {Name: "skeptical critic", Weight: 2}}, items)

	var buf bytes.Buffer
	require.NoError(t, WriteFile(&buf, items))
	again, err := ReadFile(&buf)
	require.NoError(t, err)
	require.Equal(t, items, again)
}
