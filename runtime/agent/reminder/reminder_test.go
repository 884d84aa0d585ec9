package reminder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDrain_EmptyWhenNothingQueued(t *testing.T) {
	e := NewEngine()
	require.Empty(t, e.Drain("session-1"))
}

func TestInjectActionRule_DrainedOnceThenCleared(t *testing.T) {
	e := NewEngine()
	e.InjectActionRule("session-1")

	pending := e.Drain("session-1")
	require.Len(t, pending, 1)
	require.Equal(t, TierAction, pending[0].Tier)
	require.Equal(t, "2-action-rule", pending[0].ID)
	require.Equal(t, 1, e.EmittedCount("session-1", "2-action-rule"))

	require.Empty(t, e.Drain("session-1"), "a second drain must not repeat the same reminder")
}

func TestInjectStrikeProtocol_IDIncludesErrorKind(t *testing.T) {
	e := NewEngine()
	e.InjectStrikeProtocol("session-1", "tool_transient")

	pending := e.Drain("session-1")
	require.Len(t, pending, 1)
	require.Equal(t, TierSafety, pending[0].Tier)
	require.Equal(t, "3-strike-tool_transient", pending[0].ID)
}

func TestReminders_AreScopedPerSession(t *testing.T) {
	e := NewEngine()
	e.InjectActionRule("session-a")

	require.Empty(t, e.Drain("session-b"))
	require.Len(t, e.Drain("session-a"), 1)
}

func TestDrain_ReturnsMultiplePendingInOrder(t *testing.T) {
	e := NewEngine()
	e.InjectActionRule("session-1")
	e.InjectStrikeProtocol("session-1", "sandbox_timeout")

	pending := e.Drain("session-1")
	require.Len(t, pending, 2)
	require.Equal(t, "2-action-rule", pending[0].ID)
	require.Equal(t, "3-strike-sandbox_timeout", pending[1].ID)
}

func TestEmittedCount_AccumulatesAcrossDrains(t *testing.T) {
	e := NewEngine()
	e.InjectActionRule("session-1")
	e.Drain("session-1")
	e.InjectActionRule("session-1")
	e.Drain("session-1")

	require.Equal(t, 2, e.EmittedCount("session-1", "2-action-rule"))
}
