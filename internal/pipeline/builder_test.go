package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"quill/internal/agent"
	"quill/internal/observability"
)

// fixedDrawer replays personas in order.
type fixedDrawer struct {
	names []string
	next  int
}

func (f *fixedDrawer) Draw() string {
	name := f.names[f.next%len(f.names)]
	f.next++
	return name
}

func coffeeRequest() BuildRequest {
	return BuildRequest{
		Topic:           "Coffee",
		ResearcherGoal:  "Investigate this topic in a messy but accurate way.",
		WriterGoal:      "Write a first messy draft about the topic.",
		EditorGoal:      "Lightly edit for clarity but preserve mess.",
		Micro:           MicroCounts{Intro: 1},
		MaxDynamicTasks: 40,
	}
}

func roles(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Agent.Role()
	}
	return out
}

func TestBuildCoffeeScenario(t *testing.T) {
	tasks := NewBuilder(nil, nil).Build(coffeeRequest(), &fixedDrawer{names: []string{"daydreamer"}})

	require.Len(t, tasks, 3)
	require.Equal(t, []string{agent.RoleResearcher, agent.RoleWriter, "Micro-intro-1"}, roles(tasks))
	for i, task := range tasks {
		require.Equal(t, i, task.Index)
	}
	require.Equal(t, "You are a daydreamer", tasks[2].Agent.Backstory())
	require.Equal(t, StageMicro, tasks[2].Stage)
	require.Equal(t, "intro-1", tasks[2].ExpectedOutput)
}

func TestBuildOnlyFirstTwoTasksReferenceTopic(t *testing.T) {
	req := coffeeRequest()
	req.Micro = MicroCounts{Intro: 2, Body: 4, Conclusion: 2}
	req.RefinementPasses = 1
	req.Finishing = DefaultFinishing

	tasks := NewBuilder(nil, nil).Build(req, &fixedDrawer{names: []string{"a", "b"}})
	require.Len(t, tasks, 2+8+8+len(DefaultFinishing))

	require.True(t, tasks[0].References(topicKey))
	require.False(t, tasks[0].References(draftKey))
	require.True(t, tasks[1].References(topicKey))
	require.True(t, tasks[1].References(draftKey))
	for _, task := range tasks[2:] {
		require.False(t, task.References(topicKey), "task %d", task.Index)
		require.True(t, task.References(draftKey), "task %d", task.Index)
	}
	require.Equal(t, agent.RolePublisher, tasks[len(tasks)-1].Agent.Role())
	require.Equal(t, agent.BackendEntropy, tasks[len(tasks)-4].Agent.BackendRef())
}

func TestBuildRefinementReusesMicroAgents(t *testing.T) {
	req := coffeeRequest()
	req.Micro = MicroCounts{Intro: 1, Body: 1}
	req.RefinementPasses = 2

	tasks := NewBuilder(nil, nil).Build(req, &fixedDrawer{names: []string{"x"}})
	require.Len(t, tasks, 2+2+4)

	microIntro, microBody := tasks[2].Agent.Role(), tasks[3].Agent.Role()
	got := []string{tasks[4].Agent.Role(), tasks[5].Agent.Role(), tasks[6].Agent.Role(), tasks[7].Agent.Role()}
	require.Equal(t, []string{microIntro, microIntro, microBody, microBody}, got)
	require.Equal(t, "Refine micro 2 pass 2", tasks[7].Title)
	require.Equal(t, "micro-2-p2", tasks[7].ExpectedOutput)
}

func TestBuildCapsRefinementTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(reg)

	req := coffeeRequest()
	req.Micro = MicroCounts{Intro: 2, Body: 2, Conclusion: 1}
	req.RefinementPasses = 2
	req.MaxDynamicTasks = 3

	tasks := NewBuilder(nil, metrics).Build(req, &fixedDrawer{names: []string{"x"}})

	var refinements []string
	for _, task := range tasks {
		if task.Stage == StageRefine {
			refinements = append(refinements, task.Title)
		}
	}
	require.Equal(t, []string{"Refine micro 1 pass 1", "Refine micro 1 pass 2", "Refine micro 2 pass 1"}, refinements)

	count, err := testutil.GatherAndCount(reg, "quill_pipeline_truncated_tasks_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP quill_pipeline_truncated_tasks_total Refinement tasks dropped by the dynamic task cap.
# TYPE quill_pipeline_truncated_tasks_total counter
quill_pipeline_truncated_tasks_total 7
`), "quill_pipeline_truncated_tasks_total"))
}

func TestBuildClampsNegativeCounts(t *testing.T) {
	req := coffeeRequest()
	req.Micro = MicroCounts{Intro: -3, Body: -1, Conclusion: -9}
	req.RefinementPasses = -2
	req.MaxDynamicTasks = -5

	tasks := NewBuilder(nil, nil).Build(req, &fixedDrawer{names: []string{"x"}})
	require.Equal(t, []string{agent.RoleResearcher, agent.RoleWriter}, roles(tasks))
}

func TestBuildShapeIsIdempotent(t *testing.T) {
	req := coffeeRequest()
	req.Micro = MicroCounts{Intro: 2, Body: 3, Conclusion: 1}
	req.RefinementPasses = 1
	req.Finishing = []string{agent.RoleEditor, agent.RolePublisher}

	b := NewBuilder(nil, nil)
	first := b.Build(req, &fixedDrawer{names: []string{"p1", "p2", "p3"}})
	second := b.Build(req, &fixedDrawer{names: []string{"p1", "p2", "p3"}})

	shape := func(tasks []Task) []string {
		out := make([]string, len(tasks))
		for i, task := range tasks {
			out[i] = fmt.Sprintf("%d|%s|%s|%s|%s", task.Index, task.Stage, task.Title, task.Agent.Backstory(), task.Agent.Role())
		}
		return out
	}
	if diff := cmp.Diff(shape(first), shape(second)); diff != "" {
		t.Fatalf("graph shape changed (-first +second):\n%s", diff)
	}
}

func TestBuildRequestValidate(t *testing.T) {
	require.NoError(t, coffeeRequest().Validate())

	req := coffeeRequest()
	req.Topic = "   "
	err := req.Validate()
	require.True(t, IsValidation(err))
	require.Contains(t, err.Error(), "topic")

	req = coffeeRequest()
	req.EditorGoal = ""
	req.Finishing = []string{agent.RoleEditor}
	require.ErrorContains(t, req.Validate(), "editor_goal")

	req = coffeeRequest()
	req.Finishing = []string{"Polisher"}
	require.ErrorContains(t, req.Validate(), `unknown stage "Polisher"`)
}

func TestRenderRejectsUnboundPlaceholders(t *testing.T) {
	tasks := NewBuilder(nil, nil).Build(coffeeRequest(), &fixedDrawer{names: []string{"x"}})

	prompt, err := tasks[1].Render(Inputs(1, "Coffee", "notes"))
	require.NoError(t, err)
	require.Contains(t, prompt, "'Coffee'")
	require.Contains(t, prompt, "notes")

	bad := tasks[0]
	bad.Index = 5
	_, err = bad.Render(Inputs(5, "Coffee", "draft"))
	require.Error(t, err)
}
