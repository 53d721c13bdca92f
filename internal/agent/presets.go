package agent

import "fmt"

// Fixed role names.
const (
	RoleResearcher       = "Researcher"
	RoleWriter           = "Content Writer"
	RoleEditor           = "Editor"
	RoleMemoryNoise      = "MemoryNoise"
	RoleRhythmBreaker    = "RhythmBreaker"
	RoleHumanOverthinker = "HumanOverthinker"
	RoleEntropyBreaker   = "EntropyBreaker"
	RoleFinalDisorder    = "FinalDisorder"
	RolePublisher        = "Publisher"
)

// Section is a micro-section of the article that micro workers rewrite.
type Section string

const (
	SectionIntro      Section = "intro"
	SectionBody       Section = "body"
	SectionConclusion Section = "conclusion"
)

// Sections lists the micro-sections in emission order.
var Sections = []Section{SectionIntro, SectionBody, SectionConclusion}

const (
	researcherSuffix = " Provide messy interpretive research notes with doubt and short opinions."
	writerSuffix     = " Produce a messy human-first draft with tangents, rhetorical questions, and uneven sentences."
	editorSuffix     = " Fix only clarity issues. Preserve voice, tangents and mild contradictions. Do NOT sanitize."
)

// Default backstories used when the caller leaves them blank.
const (
	DefaultResearcherBackstory = "Experienced researcher"
	DefaultWriterBackstory     = "Practical messy writer"
	DefaultEditorBackstory     = "Editor preserving human flaws"
)

// Researcher returns the Spec for the research stage.
func Researcher(goal, backstory, backendRef string) Spec {
	return NewSpec(RoleResearcher, goal+researcherSuffix, orDefault(backstory, DefaultResearcherBackstory), backendRef,
		map[string]float64{ParamTemperature: 1.05, ParamPresencePenalty: 0.5, ParamFrequencyPenalty: 0.45})
}

// Writer returns the Spec for the first-draft stage.
func Writer(goal, backstory, backendRef string) Spec {
	return NewSpec(RoleWriter, goal+writerSuffix, orDefault(backstory, DefaultWriterBackstory), backendRef,
		map[string]float64{ParamTemperature: 1.15, ParamPresencePenalty: 0.9, ParamFrequencyPenalty: 0.75})
}

// Editor returns the Spec for the light clarity edit.
func Editor(goal, backstory, backendRef string) Spec {
	return NewSpec(RoleEditor, goal+editorSuffix, orDefault(backstory, DefaultEditorBackstory), backendRef,
		map[string]float64{ParamTemperature: 0.6})
}

// Micro returns the worker for slot n of a section, carrying the drawn
// persona as its backstory. The role name is unique within a run.
func Micro(section Section, n int, persona, backendRef string) Spec {
	role := fmt.Sprintf("Micro-%s-%d", section, n)
	goal := fmt.Sprintf("Rewrite assigned micro-section (%s#%d) with persona: %s. "+
		"Inject small digressions, rhetorical Qs, mild grammar breaks.", section, n, persona)
	return NewSpec(role, goal, "You are a "+persona, backendRef,
		map[string]float64{ParamTemperature: 1.3, ParamPresencePenalty: 1.05})
}

// Finishing returns the Spec for a whole-draft finishing role, or false when
// role is not a finishing role. Editor is built by Editor because it carries
// caller-supplied text.
func Finishing(role, primaryRef, entropyRef string) (Spec, bool) {
	switch role {
	case RoleMemoryNoise:
		return NewSpec(role,
			"Introduce 2-4 tiny human memory inconsistencies (dates, small numbers) without breaking key facts.",
			"You misremember little details occasionally.", primaryRef,
			map[string]float64{ParamTemperature: 1.25}), true
	case RoleRhythmBreaker:
		return NewSpec(role,
			"Change sentence rhythm: short line, then long run-on, then medium. Break regular cadence across paragraphs.",
			"You speak with uneven cadence.", primaryRef,
			map[string]float64{ParamTemperature: 1.35}), true
	case RoleHumanOverthinker:
		return NewSpec(role,
			"Rewrite ENTIRE draft with readable human flaws: second thoughts, mild contradictions, micro-digressions.",
			"You think out loud and write in a messy way.", primaryRef,
			map[string]float64{ParamTemperature: 1.45, ParamPresencePenalty: 1.25}), true
	case RoleEntropyBreaker:
		return NewSpec(role,
			"Rewrite draft using alternate phrasing, unexpected idioms, and different word choices to break model signature.",
			"You are impulsive and different from the main writer.", entropyRef,
			map[string]float64{ParamTemperature: 1.7, ParamPresencePenalty: 1.4}), true
	case RoleFinalDisorder:
		return NewSpec(role,
			"Make final small readable unpredictable edits: interjections, small contradictions, interruptions.",
			"You are the last humanizer.", primaryRef,
			map[string]float64{ParamTemperature: 1.5}), true
	case RolePublisher:
		return NewSpec(role,
			"Format the final article to markdown without altering voice or content meaning.",
			"You are purely a formatter.", primaryRef,
			map[string]float64{ParamTemperature: 0.5}), true
	}
	return Spec{}, false
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
