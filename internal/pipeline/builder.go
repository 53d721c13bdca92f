package pipeline

import (
	"fmt"
	"strings"

	"quill/internal/agent"
	"quill/internal/observability"
	"quill/internal/shared/logging"
)

// MicroCounts sets how many micro rewrite tasks each section gets.
type MicroCounts struct {
	Intro      int `json:"intro" mapstructure:"intro"`
	Body       int `json:"body" mapstructure:"body"`
	Conclusion int `json:"conclusion" mapstructure:"conclusion"`
}

// For returns the count configured for section.
func (m MicroCounts) For(section agent.Section) int {
	switch section {
	case agent.SectionIntro:
		return m.Intro
	case agent.SectionBody:
		return m.Body
	case agent.SectionConclusion:
		return m.Conclusion
	}
	return 0
}

// BuildRequest carries everything the builder needs for one run.
type BuildRequest struct {
	Topic               string
	ResearcherGoal      string
	ResearcherBackstory string
	WriterGoal          string
	WriterBackstory     string
	EditorGoal          string
	EditorBackstory     string

	Micro            MicroCounts
	RefinementPasses int
	MaxDynamicTasks  int
	// Finishing lists whole-draft roles appended after refinement, in order.
	Finishing []string

	PrimaryBackend string
	EntropyBackend string
}

// DefaultFinishing is the full finishing sequence.
var DefaultFinishing = []string{
	agent.RoleMemoryNoise,
	agent.RoleRhythmBreaker,
	agent.RoleHumanOverthinker,
	agent.RoleEntropyBreaker,
	agent.RoleEditor,
	agent.RoleFinalDisorder,
	agent.RolePublisher,
}

// Drawer supplies personas. *persona.Pool satisfies it.
type Drawer interface {
	Draw() string
}

// Validate checks the request before any task is built or run.
func (r BuildRequest) Validate() error {
	required := []struct{ field, value string }{
		{"topic", r.Topic},
		{"researcher_goal", r.ResearcherGoal},
		{"writer_goal", r.WriterGoal},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Reason: "must not be blank"}
		}
	}
	for _, role := range r.Finishing {
		if role == agent.RoleEditor {
			if strings.TrimSpace(r.EditorGoal) == "" {
				return &ValidationError{Field: "editor_goal", Reason: "required when the Editor stage is enabled"}
			}
			continue
		}
		if _, ok := agent.Finishing(role, "", ""); !ok {
			return &ValidationError{Field: "finishing", Reason: fmt.Sprintf("unknown stage %q", role)}
		}
	}
	return nil
}

// Builder assembles task lists.
type Builder struct {
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewBuilder returns a Builder. Both arguments may be nil.
func NewBuilder(logger logging.Logger, metrics *observability.Metrics) *Builder {
	return &Builder{logger: logging.OrNop(logger), metrics: metrics}
}

type microSlot struct {
	section agent.Section
	n       int
	spec    agent.Spec
}

// Build returns the ordered task list for req, drawing one persona per micro
// task from personas. Negative counts are treated as zero. The result is
// never empty and its indices are contiguous from zero.
func (b *Builder) Build(req BuildRequest, personas Drawer) []Task {
	primary := orDefault(req.PrimaryBackend, agent.BackendPrimary)
	entropy := orDefault(req.EntropyBackend, agent.BackendEntropy)

	tasks := []Task{
		newTask(StageResearch, "Research topic",
			"Research '{{.Topic}}' with interpretive notes.",
			"research-notes",
			agent.Researcher(req.ResearcherGoal, req.ResearcherBackstory, primary)),
		newTask(StageWrite, "Write raw draft",
			"Write messy raw draft for '{{.Topic}}'.\n\nResearch notes:\n{{.Draft}}",
			"raw-draft",
			agent.Writer(req.WriterGoal, req.WriterBackstory, primary)),
	}

	var slots []microSlot
	for _, section := range agent.Sections {
		for n := 1; n <= max(req.Micro.For(section), 0); n++ {
			spec := agent.Micro(section, n, personas.Draw(), primary)
			slots = append(slots, microSlot{section: section, n: n, spec: spec})
			title := fmt.Sprintf("Rewrite micro-%s %d", section, n)
			tasks = append(tasks, newTask(StageMicro, title,
				title+" of the draft below.\n\n{{.Draft}}",
				fmt.Sprintf("%s-%d", section, n),
				spec))
		}
	}

	limit := max(req.MaxDynamicTasks, 0)
	passes := max(req.RefinementPasses, 0)
	requested, emitted := len(slots)*passes, 0
	for idx, slot := range slots {
		for p := 1; p <= passes && emitted < limit; p++ {
			title := fmt.Sprintf("Refine micro %d pass %d", idx+1, p)
			tasks = append(tasks, newTask(StageRefine, title,
				title+": add small digression/hesitancy.\n\n{{.Draft}}",
				fmt.Sprintf("micro-%d-p%d", idx+1, p),
				slot.spec))
			emitted++
		}
	}
	if dropped := requested - emitted; dropped > 0 {
		b.logger.Warn("dynamic task cap %d reached: dropped %d of %d refinement tasks", limit, dropped, requested)
		b.metrics.AddTruncated(dropped)
	}

	for _, role := range req.Finishing {
		spec, description, expected, ok := finishingStage(role, req, primary, entropy)
		if !ok {
			b.logger.Warn("skipping unknown finishing stage %q", role)
			continue
		}
		tasks = append(tasks, newTask(StageFinishing, role, description+"\n\n{{.Draft}}", expected, spec))
	}

	for i := range tasks {
		tasks[i].Index = i
		tmpl, err := parseDescription(tasks[i].Title, tasks[i].Description)
		if err != nil {
			// Descriptions are package constants; a parse failure is a bug.
			panic(err)
		}
		tasks[i].tmpl = tmpl
	}
	b.logger.Debug("built %d tasks (%d micro, %d refinement, %d finishing)",
		len(tasks), len(slots), emitted, len(tasks)-2-len(slots)-emitted)
	return tasks
}

func finishingStage(role string, req BuildRequest, primary, entropy string) (agent.Spec, string, string, bool) {
	switch role {
	case agent.RoleEditor:
		return agent.Editor(req.EditorGoal, req.EditorBackstory, primary),
			"Light edit (keep voice).", "light-edited", true
	case agent.RoleMemoryNoise:
		spec, _ := agent.Finishing(role, primary, entropy)
		return spec, "Introduce tiny memory inconsistencies across the draft.", "memory-noise", true
	case agent.RoleRhythmBreaker:
		spec, _ := agent.Finishing(role, primary, entropy)
		return spec, "Apply rhythm changes across draft to break sentence length regularity.", "rhythm-changed", true
	case agent.RoleHumanOverthinker:
		spec, _ := agent.Finishing(role, primary, entropy)
		return spec, "Overthink full-document messy pass.", "overthought-draft", true
	case agent.RoleEntropyBreaker:
		spec, _ := agent.Finishing(role, primary, entropy)
		return spec, "Entropy model-mix rewrite to break model fingerprints.", "entropy-draft", true
	case agent.RoleFinalDisorder:
		spec, _ := agent.Finishing(role, primary, entropy)
		return spec, "Final readable disorder pass.", "final-disorder", true
	case agent.RolePublisher:
		spec, _ := agent.Finishing(role, primary, entropy)
		return spec, "Format article for publish (markdown).", "publish-ready", true
	}
	return agent.Spec{}, "", "", false
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
