package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalChannel_SendThenReceiveRoundTrips(t *testing.T) {
	e := New()
	ch := e.SignalChannel("run-1", "greeting")

	type payload struct{ Text string }
	require.NoError(t, ch.Send(context.Background(), payload{Text: "hello"}))

	var got payload
	require.NoError(t, ch.Receive(context.Background(), &got))
	require.Equal(t, "hello", got.Text)
}

func TestSignalChannel_SameNameAndRunReturnsSameChannel(t *testing.T) {
	e := New()
	a := e.SignalChannel("run-1", "c")
	b := e.SignalChannel("run-1", "c")

	require.NoError(t, a.Send(context.Background(), 42))
	var got int
	require.NoError(t, b.Receive(context.Background(), &got))
	require.Equal(t, 42, got)
}

func TestSignalChannel_DifferentRunsAreIsolated(t *testing.T) {
	e := New()
	a := e.SignalChannel("run-1", "c")
	b := e.SignalChannel("run-2", "c")

	require.NoError(t, a.Send(context.Background(), 1))

	var got int
	ok := b.ReceiveAsync(&got)
	require.False(t, ok)
}

func TestReceive_BlocksUntilContextDone(t *testing.T) {
	e := New()
	ch := e.SignalChannel("run-1", "c")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var got int
	err := ch.Receive(ctx, &got)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceiveAsync_FalseWhenNothingPending(t *testing.T) {
	e := New()
	ch := e.SignalChannel("run-1", "c")

	var got int
	require.False(t, ch.ReceiveAsync(&got))
}

func TestForget_DropsAllChannelsForRun(t *testing.T) {
	e := New()
	ch := e.SignalChannel("run-1", "c")
	require.NoError(t, ch.Send(context.Background(), 7))

	e.Forget("run-1")

	fresh := e.SignalChannel("run-1", "c")
	var got int
	require.False(t, fresh.ReceiveAsync(&got))
}

func TestAssign_SkipsMismatchedTypesSilently(t *testing.T) {
	e := New()
	ch := e.SignalChannel("run-1", "c")
	require.NoError(t, ch.Send(context.Background(), "a string"))

	var got int
	require.NoError(t, ch.Receive(context.Background(), &got))
	require.Equal(t, 0, got)
}
