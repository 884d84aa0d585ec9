package interrupt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goatomic.dev/runtime/runtime/agent/engine/inmem"
)

func TestAwait_ResolvesApproved(t *testing.T) {
	eng := inmem.New()
	gate := NewGate(eng, "run-1")

	go func() {
		_ = Respond(context.Background(), eng, "run-1", ConfirmResponse{RequestID: "req-1", Approved: true})
	}()

	d, err := gate.Await(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, d)
}

func TestAwait_ResolvesRejected(t *testing.T) {
	eng := inmem.New()
	gate := NewGate(eng, "run-1")

	go func() {
		_ = Respond(context.Background(), eng, "run-1", ConfirmResponse{RequestID: "req-1", Approved: false, Notes: "too risky"})
	}()

	d, err := gate.Await(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, d)
}

func TestAwait_TimesOutWithoutError(t *testing.T) {
	eng := inmem.New()
	gate := NewGate(eng, "run-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d, err := gate.Await(ctx, "req-never-answered")
	require.NoError(t, err)
	require.Equal(t, DecisionTimeout, d)
}

func TestAwait_IgnoresResponsesForOtherRequests(t *testing.T) {
	eng := inmem.New()
	gate := NewGate(eng, "run-1")

	go func() {
		_ = Respond(context.Background(), eng, "run-1", ConfirmResponse{RequestID: "other-req", Approved: true})
		time.Sleep(10 * time.Millisecond)
		_ = Respond(context.Background(), eng, "run-1", ConfirmResponse{RequestID: "req-1", Approved: true})
	}()

	d, err := gate.Await(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, d)
}

func TestAwait_IsIdempotentOnceResolved(t *testing.T) {
	eng := inmem.New()
	gate := NewGate(eng, "run-1")

	go func() {
		_ = Respond(context.Background(), eng, "run-1", ConfirmResponse{RequestID: "req-1", Approved: true})
	}()
	first, err := gate.Await(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, first)

	// No further signal is sent; a second Await for the same request must
	// resolve immediately from the cached decision rather than block.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second, err := gate.Await(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, second)
}
