package temporal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
)

// sessionRelayWorkflow is tested against Temporal's workflow test
// environment rather than a live server, the same way the SDK's own
// examples unit-test workflow bodies: it runs the workflow's deterministic
// logic in-process, giving direct control over which signals arrive.
func TestSessionRelayWorkflow_AccumulatesSignalsUntilDone(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("agentcore.confirm", map[string]any{"approved": true})
	}, 0)
	env.RegisterDelayedCallback(func() {
		var state relayState
		val, err := env.QueryWorkflow(queryLatest)
		require.NoError(t, err)
		require.NoError(t, val.Get(&state))
		require.EqualValues(t, 1, state.Seq["agentcore.confirm"])

		approved, _ := state.Value["agentcore.confirm"].(map[string]any)
		require.Equal(t, true, approved["approved"])
	}, 0)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(signalDone, nil)
	}, 0)

	env.ExecuteWorkflow(sessionRelayWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}

func TestRelayWorkflowID_IsDeterministicPerRun(t *testing.T) {
	require.Equal(t, relayWorkflowID("run-1"), relayWorkflowID("run-1"))
	require.NotEqual(t, relayWorkflowID("run-1"), relayWorkflowID("run-2"))
}

func TestAssignValue_MatchingTypeDirectSet(t *testing.T) {
	var dest string
	require.NoError(t, assignValue(&dest, "hello"))
	require.Equal(t, "hello", dest)
}

func TestAssignValue_MismatchedTypeRoundTripsThroughJSON(t *testing.T) {
	type payload struct {
		Approved bool `json:"approved"`
	}
	var dest payload
	require.NoError(t, assignValue(&dest, map[string]any{"approved": true}))
	require.True(t, dest.Approved)
}

func TestAssignValue_NilValueIsNoop(t *testing.T) {
	var dest string
	require.NoError(t, assignValue(&dest, nil))
	require.Equal(t, "", dest)
}

func TestNew_RequiresClientAndTaskQueue(t *testing.T) {
	_, err := New(nil, "queue")
	require.Error(t, err)

	_, err = New(struct{ client.Client }{}, "")
	require.Error(t, err)
}
