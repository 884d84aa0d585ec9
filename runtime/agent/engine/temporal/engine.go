// Package temporal implements engine.Engine (C10/C13's durable-execution
// abstraction) on top of Temporal, grounded on the teacher's engine/temporal
// adapter (runtime/agent/engine/temporal/engine.go) for worker/client
// lifecycle management.
//
// The teacher's own engine.Engine contract runs the orchestrator's workflow
// body as registered Temporal workflow code, so receiving a signal is a
// workflow.GetSignalChannel call made from inside workflow.Context. This
// runtime's narrowed engine.Engine (see runtime/agent/engine/engine.go)
// instead exposes a SignalChannel whose Receive is called from an ordinary
// goroutine — the run orchestrator's driver loop is not Temporal workflow
// code. To honor that contract without inverting the orchestrator's control
// flow, this adapter starts one small relay workflow per session
// (sessionRelayWorkflow) that durably receives named signals via
// workflow.GetSignalChannel and exposes them through a Query; Send relays a
// signal into that workflow with client.SignalWorkflow, and Receive polls
// the query on a short interval until a fresh signal lands or ctx is done.
// This trades true push delivery for durability survivable across relay
// worker restarts, which is the property the Checkpoint Store (C2) and this
// engine together provide for a resumed run.
package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goatomic.dev/runtime/runtime/agent/engine"
)

const (
	relayWorkflowName = "agentcore_signal_relay"
	queryLatest        = "latest_signals"
	signalDone         = "relay_done"
	pollInterval       = 200 * time.Millisecond
)

// relayState is the Query-visible payload the relay workflow maintains: the
// last value and a monotonic sequence number per named channel, so Receive
// can detect a fresh delivery without re-reading a stale one.
type relayState struct {
	Seq   map[string]int64 `json:"seq"`
	Value map[string]any   `json:"value"`
}

// Engine implements engine.Engine by running one relay workflow per session
// on a Temporal task queue.
type Engine struct {
	client    client.Client
	taskQueue string
	worker    worker.Worker
	workerMu  sync.Once

	mu       sync.Mutex
	sessions map[string]bool
}

// New constructs a Temporal-backed Engine against an already-configured
// client and a dedicated task queue for the relay workflow.
func New(c client.Client, taskQueue string) (*Engine, error) {
	if c == nil {
		return nil, errors.New("temporal engine: client is required")
	}
	if taskQueue == "" {
		return nil, errors.New("temporal engine: task queue is required")
	}
	return &Engine{client: c, taskQueue: taskQueue, sessions: make(map[string]bool)}, nil
}

func (e *Engine) ensureWorker() worker.Worker {
	e.workerMu.Do(func() {
		w := worker.New(e.client, e.taskQueue, worker.Options{})
		w.RegisterWorkflowWithOptions(sessionRelayWorkflow, workflow.RegisterOptions{Name: relayWorkflowName})
		go func() { _ = w.Run(worker.InterruptCh()) }()
		e.worker = w
	})
	return e.worker
}

// SignalChannel implements engine.Engine: it lazily starts the session's
// relay workflow (idempotent via a deterministic workflow ID) and returns a
// handle scoped to the named signal channel within it.
func (e *Engine) SignalChannel(runID, name string) engine.SignalChannel {
	e.ensureWorker()
	e.ensureRelayStarted(runID)
	return &signalChannel{engine: e, runID: runID, name: name}
}

func (e *Engine) ensureRelayStarted(runID string) {
	e.mu.Lock()
	started := e.sessions[runID]
	if !started {
		e.sessions[runID] = true
	}
	e.mu.Unlock()
	if started {
		return
	}
	opts := client.StartWorkflowOptions{ID: relayWorkflowID(runID), TaskQueue: e.taskQueue}
	_, _ = e.client.ExecuteWorkflow(context.Background(), opts, relayWorkflowName)
}

// Forget implements engine.Engine: it signals the relay workflow to exit so
// its execution terminates instead of lingering as an open workflow.
func (e *Engine) Forget(runID string) {
	e.mu.Lock()
	_, ok := e.sessions[runID]
	delete(e.sessions, runID)
	e.mu.Unlock()
	if !ok {
		return
	}
	_ = e.client.SignalWorkflow(context.Background(), relayWorkflowID(runID), "", signalDone, nil)
}

func relayWorkflowID(runID string) string {
	return fmt.Sprintf("agentcore-relay-%s", runID)
}

type signalChannel struct {
	engine *Engine
	runID  string
	name   string

	mu      sync.Mutex
	lastSeq int64
}

// Send implements engine.SignalChannel by delivering a Temporal signal named
// after the channel's logical name.
func (s *signalChannel) Send(ctx context.Context, value any) error {
	return s.engine.client.SignalWorkflow(ctx, relayWorkflowID(s.runID), "", s.name, value)
}

// Receive implements engine.SignalChannel by polling the relay workflow's
// query handler until the sequence number for this channel advances past
// the last value this handle observed, or ctx is done.
func (s *signalChannel) Receive(ctx context.Context, dest any) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if ok, err := s.tryReceive(ctx, dest); err != nil {
			return err
		} else if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReceiveAsync implements engine.SignalChannel with a single non-blocking
// query attempt.
func (s *signalChannel) ReceiveAsync(dest any) bool {
	ok, err := s.tryReceive(context.Background(), dest)
	return err == nil && ok
}

func (s *signalChannel) tryReceive(ctx context.Context, dest any) (bool, error) {
	resp, err := s.engine.client.QueryWorkflow(ctx, relayWorkflowID(s.runID), "", queryLatest)
	if err != nil {
		return false, fmt.Errorf("temporal engine: query relay: %w", err)
	}
	var state relayState
	if err := resp.Get(&state); err != nil {
		return false, fmt.Errorf("temporal engine: decode relay state: %w", err)
	}
	seq, ok := state.Seq[s.name]
	if !ok {
		return false, nil
	}
	s.mu.Lock()
	fresh := seq > s.lastSeq
	if fresh {
		s.lastSeq = seq
	}
	s.mu.Unlock()
	if !fresh {
		return false, nil
	}
	return true, assignValue(dest, state.Value[s.name])
}

// assignValue mirrors engine/inmem's destination contract (a concrete
// pointer type such as *interrupt.ConfirmResponse), but a signal value
// delivered through the relay workflow's Query has already made one
// serialization round trip through Temporal's data converter, so it
// typically arrives as a generic map[string]any rather than the sender's
// original struct type. A direct reflect.Value.Set only succeeds when the
// types already match (e.g. a second Receive observing a value this same
// process sent); otherwise it re-marshals through encoding/json to decode
// into dest's concrete type, same as any other wire-format boundary.
func assignValue(dest any, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return nil
	}
	vv := reflect.ValueOf(value)
	if !vv.IsValid() {
		return nil
	}
	if vv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(vv)
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("temporal engine: re-encode signal value: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("temporal engine: decode signal value into %T: %w", dest, err)
	}
	return nil
}

// sessionRelayWorkflow is the relay workflow body: it durably accumulates
// the latest value and sequence number per named signal channel, exposed
// through queryLatest, until it receives signalDone.
func sessionRelayWorkflow(ctx workflow.Context) error {
	state := relayState{Seq: make(map[string]int64), Value: make(map[string]any)}
	done := false

	if err := workflow.SetQueryHandler(ctx, queryLatest, func() (relayState, error) {
		return state, nil
	}); err != nil {
		return err
	}

	doneCh := workflow.GetSignalChannel(ctx, signalDone)

	selector := workflow.NewSelector(ctx)
	selector.AddReceive(doneCh, func(c workflow.ReceiveChannel, more bool) {
		var ignored any
		c.Receive(ctx, &ignored)
		done = true
	})
	// Temporal requires a workflow's set of awaited signal channels to be
	// deterministic across replays, so the relay can only watch a fixed,
	// enumerable set rather than an arbitrary name passed to
	// engine.Engine.SignalChannel at runtime. "agentcore.confirm"
	// (interrupt.SignalConfirm) is the only channel name the runtime
	// actually uses today; adding another durable signal means adding its
	// name here.
	for _, name := range []string{"agentcore.confirm"} {
		name := name
		ch := workflow.GetSignalChannel(ctx, name)
		selector.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
			var payload any
			c.Receive(ctx, &payload)
			state.Seq[name]++
			state.Value[name] = payload
		})
	}

	for !done {
		selector.Select(ctx)
	}
	return nil
}
