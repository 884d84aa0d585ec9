package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_MatchesOriginalDefaults(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, 5, p.SaveInterval)
	require.Equal(t, 3, p.MaxCheckpoints)
}

func TestShouldSave_OnlyTrueOnIntervalBoundaries(t *testing.T) {
	p := Policy{SaveInterval: 5}
	require.False(t, p.ShouldSave(0))
	require.False(t, p.ShouldSave(4))
	require.True(t, p.ShouldSave(5))
	require.False(t, p.ShouldSave(6))
	require.True(t, p.ShouldSave(10))
}

func TestShouldSave_DisabledWhenIntervalIsZero(t *testing.T) {
	p := Policy{SaveInterval: 0}
	require.False(t, p.ShouldSave(5))
}

func TestSuccessRate_EmptyHistoryIsZero(t *testing.T) {
	require.Equal(t, 0.0, SuccessRate(nil))
}

func TestSuccessRate_CountsNonFailuresOverTotal(t *testing.T) {
	history := []map[string]any{
		{"is_failure": false},
		{"is_failure": false},
		{"is_failure": true},
		{"is_failure": false},
	}
	require.InDelta(t, 0.75, SuccessRate(history), 1e-9)
}

func TestSuccessRate_MissingFieldTreatedAsSuccess(t *testing.T) {
	history := []map[string]any{
		{"other": "field"},
	}
	require.InDelta(t, 1.0, SuccessRate(history), 1e-9)
}
