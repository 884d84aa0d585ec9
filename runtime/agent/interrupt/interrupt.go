// Package interrupt implements the confirmation gate (spec.md §6.2): a
// named signal handshake a task executor uses to suspend a run in
// waiting_confirm and resume it once a human confirms, rejects, or the
// confirmation window times out. Narrowed from the teacher's interrupt
// Controller (runtime/agent/interrupt/controller.go — pause/resume/
// clarification/tool-result signal channels over a WorkflowContext) down to
// the single signal pair the confirmation gate needs, over the runtime's own
// thinner engine.Engine abstraction.
package interrupt

import (
	"context"
	"errors"
	"sync"

	"goatomic.dev/runtime/runtime/agent/engine"
)

const (
	// SignalConfirm delivers a ConfirmResponse for a specific request ID.
	SignalConfirm = "agentcore.confirm"
)

// Decision is the closed set of outcomes a confirmation gate resolves to.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimeout  Decision = "timeout"
)

// ConfirmResponse is the signal payload a human-facing surface sends back
// for a pending request.
type ConfirmResponse struct {
	RequestID string
	Approved  bool
	Notes     string
}

// Gate suspends a run on a high-risk operation until a human responds,
// exactly as spec.md §6.2 describes; resolution is idempotent per
// RequestID, so a duplicate or late response after the window already
// resolved is a no-op.
type Gate struct {
	ch engine.SignalChannel

	mu       sync.Mutex
	resolved map[string]Decision
}

// NewGate wires a Gate to the named confirm channel for runID.
func NewGate(eng engine.Engine, runID string) *Gate {
	return &Gate{
		ch:       eng.SignalChannel(runID, SignalConfirm),
		resolved: make(map[string]Decision),
	}
}

// Await blocks until requestID is approved, rejected, or ctx is done (the
// caller is expected to derive ctx from the configured confirmation
// timeout, spec.md §6.6's confirmation_timeout_s). A context deadline
// resolves to DecisionTimeout rather than an error, since timeout is a
// normal terminal outcome for the gate, not a failure of the mechanism.
func (g *Gate) Await(ctx context.Context, requestID string) (Decision, error) {
	if d, ok := g.alreadyResolved(requestID); ok {
		return d, nil
	}
	for {
		var resp ConfirmResponse
		err := g.ch.Receive(ctx, &resp)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				g.resolve(requestID, DecisionTimeout)
				return DecisionTimeout, nil
			}
			return "", err
		}
		decision := DecisionRejected
		if resp.Approved {
			decision = DecisionApproved
		}
		g.resolve(resp.RequestID, decision)
		if resp.RequestID == requestID {
			return decision, nil
		}
		// A response for a different in-flight request; keep waiting for ours.
	}
}

func (g *Gate) alreadyResolved(requestID string) (Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.resolved[requestID]
	return d, ok
}

func (g *Gate) resolve(requestID string, d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.resolved[requestID]; !ok {
		g.resolved[requestID] = d
	}
}

// Respond delivers a confirmation response into runID's gate, called by the
// surface that collected the human's decision.
func Respond(ctx context.Context, eng engine.Engine, runID string, resp ConfirmResponse) error {
	return eng.SignalChannel(runID, SignalConfirm).Send(ctx, resp)
}
