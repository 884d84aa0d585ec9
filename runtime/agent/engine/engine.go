// Package engine defines the durable-execution abstraction the run
// orchestrator (C13) runs against, so the same state machine + scheduler +
// executor code can target an in-memory engine (default, tests, the
// example) or a Temporal-backed engine (production durability), exactly as
// spec.md §9's Open Questions leave the isolation/durability technology
// unspecified. Narrowed from the teacher's engine.Engine/WorkflowContext
// contract (runtime/agent/engine/engine.go) down to the single capability
// the runtime actually needs from a durable-execution backend: a named,
// receivable signal channel for the confirmation gate (§6.2) and
// cancellation (§5), plus a minimal run-handle abstraction.
package engine

import "context"

// SignalChannel delivers out-of-band signals (confirm/reject, cancel,
// pause/resume) into a running session, regardless of whether the backing
// engine is in-memory or a durable workflow engine.
type SignalChannel interface {
	// Receive blocks until a signal value is delivered and decodes it into dest.
	Receive(ctx context.Context, dest any) error
	// ReceiveAsync attempts to receive a signal without blocking.
	ReceiveAsync(dest any) bool
	// Send delivers a signal value to the channel.
	Send(ctx context.Context, value any) error
}

// Engine abstracts how a run's signal channels are created and how a run
// handle is tracked, so the orchestrator does not depend on a specific
// backend.
type Engine interface {
	// SignalChannel returns (creating if necessary) the named channel for runID.
	SignalChannel(runID, name string) SignalChannel
	// Forget releases any resources the engine holds for runID (channels,
	// handles). Called when a run reaches a terminal state.
	Forget(runID string)
}
