package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpecIsImmutable(t *testing.T) {
	params := map[string]float64{ParamTemperature: 1.0}
	spec := NewSpec("Researcher", "goal", "story", "", params)

	params[ParamTemperature] = 2.0
	got := spec.SamplingParams()
	got[ParamTopP] = 0.1

	v, ok := spec.Param(ParamTemperature)
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	require.Equal(t, []string{ParamTemperature}, spec.ParamNames())
	require.Equal(t, BackendPrimary, spec.BackendRef())
}

func TestPresetsCarrySampling(t *testing.T) {
	researcher := Researcher("Investigate.", "", BackendPrimary)
	require.Equal(t, RoleResearcher, researcher.Role())
	require.Contains(t, researcher.Goal(), "Investigate.")
	require.Equal(t, DefaultResearcherBackstory, researcher.Backstory())
	require.Equal(t, map[string]float64{
		ParamTemperature: 1.05, ParamPresencePenalty: 0.5, ParamFrequencyPenalty: 0.45,
	}, researcher.SamplingParams())

	writer := Writer("Draft.", "Tired blogger", BackendPrimary)
	require.Equal(t, RoleWriter, writer.Role())
	require.Equal(t, "Tired blogger", writer.Backstory())
}

func TestMicroRoleIsDeterministic(t *testing.T) {
	a := Micro(SectionIntro, 1, "daydreamer", BackendPrimary)
	b := Micro(SectionIntro, 1, "daydreamer", BackendPrimary)

	require.Equal(t, "Micro-intro-1", a.Role())
	require.Equal(t, a.Role(), b.Role())
	require.Equal(t, "Micro-body-2", Micro(SectionBody, 2, "daydreamer", BackendPrimary).Role())
	require.Equal(t, "You are a daydreamer", a.Backstory())
	require.Contains(t, a.Goal(), "persona: daydreamer")
}

func TestFinishingUsesEntropyBackend(t *testing.T) {
	spec, ok := Finishing(RoleEntropyBreaker, BackendPrimary, BackendEntropy)
	require.True(t, ok)
	require.Equal(t, BackendEntropy, spec.BackendRef())

	spec, ok = Finishing(RolePublisher, BackendPrimary, BackendEntropy)
	require.True(t, ok)
	require.Equal(t, BackendPrimary, spec.BackendRef())

	_, ok = Finishing(RoleEditor, BackendPrimary, BackendEntropy)
	require.False(t, ok)
}
