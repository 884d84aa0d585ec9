package tools

import (
	"context"
	"encoding/json"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

// Handler executes a single registered tool call against its decoded
// payload, returning a result value JSON-marshalable for transcript
// storage and model re-injection. Handlers classify their own failures
// into the shared agenterr.Kind taxonomy (KindToolTransient vs
// KindToolPermanent) so the executor's retry policy can branch without
// inspecting handler-specific error types.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// RegisterHandler attaches an invocation handler to an already-registered
// tool spec. Invoke fails with KindToolUnknown for any identifier with a
// spec but no handler, mirroring the teacher's ToolInvoker contract
// (runtime/agent/runtime/agent_tools.go's ToolInvoker interface) adapted
// into a single registry rather than a separate invoker type.
func (r *Registry) RegisterHandler(id Ident, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[Ident]Handler)
	}
	r.handlers[id] = h
}

// Invoke looks up id's spec and handler and executes the call. Unknown
// tool identifiers and missing handlers are reported as *agenterr.RuntimeError
// with KindToolUnknown, never a bare error, so callers can classify the
// failure without a type switch.
func (r *Registry) Invoke(ctx context.Context, id Ident, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	_, hasSpec := r.specs[id]
	h, hasHandler := r.handlers[id]
	r.mu.RUnlock()
	if !hasSpec {
		return nil, agenterr.Errorf(agenterr.KindToolUnknown, "tool %s is not registered", id)
	}
	if !hasHandler {
		return nil, agenterr.Errorf(agenterr.KindToolUnknown, "tool %s has no invocation handler", id)
	}
	result, err := h(ctx, payload)
	if err != nil {
		return nil, agenterr.FromError(err)
	}
	return result, nil
}
