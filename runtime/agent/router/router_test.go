package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMatcher struct {
	match SkillMatch
	ok    bool
}

func (f fakeMatcher) Match(context.Context, string) (SkillMatch, bool) { return f.match, f.ok }

type fakeExecutability struct{ executable bool }

func (f fakeExecutability) CanExecute(string) bool { return f.executable }

func TestRoute_HighConfidenceExecutableSkillWins(t *testing.T) {
	r := New(
		fakeMatcher{match: SkillMatch{SkillID: "send_email", Score: 0.9}, ok: true},
		fakeExecutability{executable: true},
		DefaultThresholds(),
	)

	d := r.Route(context.Background(), "please send the weekly report")
	require.Equal(t, PathSkill, d.Path)
	require.Equal(t, PathSandboxedCode, d.Fallback)
	require.InDelta(t, 0.9, d.Confidence, 1e-9)
}

func TestRoute_SkillMatchBelowThresholdFallsThrough(t *testing.T) {
	r := New(
		fakeMatcher{match: SkillMatch{SkillID: "send_email", Score: 0.5}, ok: true},
		fakeExecutability{executable: true},
		DefaultThresholds(),
	)

	d := r.Route(context.Background(), "calculate the sum of these values")
	require.NotEqual(t, PathSkill, d.Path)
}

func TestRoute_MatchedButNotExecutableSkillFallsThrough(t *testing.T) {
	r := New(
		fakeMatcher{match: SkillMatch{SkillID: "send_email", Score: 0.95}, ok: true},
		fakeExecutability{executable: false},
		DefaultThresholds(),
	)

	d := r.Route(context.Background(), "compute the average for me")
	require.NotEqual(t, PathSkill, d.Path)
}

func TestRoute_StructuredKeywordsSelectSandboxedCode(t *testing.T) {
	r := New(nil, nil, DefaultThresholds())

	d := r.Route(context.Background(), "parse this csv and compute the average and sum")
	require.Equal(t, PathSandboxedCode, d.Path)
	require.Equal(t, PathReasoning, d.Fallback)
}

func TestRoute_UnstructuredTextFallsBackToReasoning(t *testing.T) {
	r := New(nil, nil, DefaultThresholds())

	d := r.Route(context.Background(), "tell me a story about a brave knight")
	require.Equal(t, PathReasoning, d.Path)
	require.Equal(t, "", string(d.Fallback))
}

func TestRoute_NilMatcherSkipsSkillPath(t *testing.T) {
	r := New(nil, nil, DefaultThresholds())
	d := r.Route(context.Background(), "query the database for sales records")
	require.Equal(t, PathSandboxedCode, d.Path)
}

func TestRoute_TracksStatsAcrossCalls(t *testing.T) {
	r := New(nil, nil, DefaultThresholds())
	r.Route(context.Background(), "parse this json file")
	r.Route(context.Background(), "tell me about your day")

	stats := r.Stats()
	require.Equal(t, int64(2), stats.Total)
	require.Equal(t, int64(1), stats.SandboxedCode)
	require.Equal(t, int64(1), stats.Reasoning)
}

func TestSetThresholds_ChangesSubsequentDecisions(t *testing.T) {
	// An evenly mixed message ("write" appears in both keyword lists, the
	// rest split 2/2 structured vs. unstructured) scores 0.5, so moving the
	// threshold across it flips the decision.
	const mixed = "write a script to compute it, but first explain and discuss this"

	r := New(nil, nil, Thresholds{SkillConfidence: 0.85, StructuredTask: 0.99})
	d := r.Route(context.Background(), mixed)
	require.Equal(t, PathReasoning, d.Path)

	r.SetThresholds(Thresholds{SkillConfidence: 0.85, StructuredTask: 0.1})
	d = r.Route(context.Background(), mixed)
	require.Equal(t, PathSandboxedCode, d.Path)
}
