package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quill/internal/persona"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "quill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	id, err := s.SaveRun(ctx, RunRecord{
		CallerID:       "alice",
		RunID:          "run-1",
		Topic:          "Coffee",
		ResearcherGoal: "dig",
		WriterGoal:     "write",
		FinalOutput:    "final draft",
		Outputs:        []TaskOutput{{Index: 0, Role: "Researcher", Output: "notes"}},
		Detection:      json.RawMessage(`{"ai_percentage":12}`),
	})
	require.NoError(t, err)
	require.Len(t, id, 26)

	rec, err := s.LoadRun(ctx, "alice", id)
	require.NoError(t, err)
	require.Equal(t, "Coffee", rec.Topic)
	require.Equal(t, "final draft", rec.FinalOutput)
	require.Equal(t, []TaskOutput{{Index: 0, Role: "Researcher", Output: "notes"}}, rec.Outputs)
	require.JSONEq(t, `{"ai_percentage":12}`, string(rec.Detection))
	require.Equal(t, fixed, rec.CreatedAt)

	_, err = s.LoadRun(ctx, "bob", id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, topic := range []string{"one", "two", "three"} {
		id, err := s.SaveRun(ctx, RunRecord{CallerID: "alice", RunID: "run-" + topic, Topic: topic, FinalOutput: topic})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := s.SaveRun(ctx, RunRecord{CallerID: "bob", RunID: "run-x", Topic: "x", FinalOutput: "x"})
	require.NoError(t, err)

	all, err := s.ListRuns(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "three", all[0].Topic)

	limited, err := s.ListRuns(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	require.NoError(t, s.DeleteRun(ctx, "alice", ids[0]))
	require.ErrorIs(t, s.DeleteRun(ctx, "alice", ids[0]), ErrNotFound)
	all, err = s.ListRuns(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestActivePersonasFollowActiveProfiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.SavePersonaProfile(ctx, PersonaProfile{
		CallerID:   "alice",
		SourceType: "text",
		Profile:    persona.Profile{Role: "Blogger", MicroAgentList: []string{"ToneMatcher", "FlowEnhancer"}},
	})
	require.NoError(t, err)
	_, err = s.SavePersonaProfile(ctx, PersonaProfile{
		CallerID:   "alice",
		SourceType: "url",
		Profile:    persona.Profile{Role: "Essayist", MicroAgentList: []string{"flowenhancer", "Rambler", " "}},
	})
	require.NoError(t, err)

	names, err := s.ActivePersonas(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []persona.Weighted{{Name: "flowenhancer"}, {Name: "Rambler"}, {Name: "ToneMatcher"}}, names)

	require.NoError(t, s.SetPersonaProfileActive(ctx, "alice", first, false))
	names, err = s.Personas(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []persona.Weighted{{Name: "flowenhancer"}, {Name: "Rambler"}}, names)

	profiles, err := s.ListPersonaProfiles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.False(t, profiles[1].Active)

	loaded, err := s.LoadPersonaProfile(ctx, "alice", first)
	require.NoError(t, err)
	require.Equal(t, "Blogger", loaded.Profile.Role)

	require.ErrorIs(t, s.SetPersonaProfileActive(ctx, "bob", first, true), ErrNotFound)
	empty, err := s.ActivePersonas(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStoreFeedsPersonaResolver(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.SavePersonaProfile(ctx, PersonaProfile{CallerID: "alice", Profile: persona.Profile{MicroAgentList: []string{"Rambler"}}})
	require.NoError(t, err)

	resolver := persona.NewResolver(s, persona.ResolverConfig{}, nil)
	pool := resolver.Pool(ctx, "alice", nil)
	require.Equal(t, []string{"Rambler"}, pool.Names())
	require.True(t, resolver.Pool(ctx, "nobody", nil).IsFallback())
}
