// Package stream implements the Event Emitter (C12): it normalizes internal
// state transitions and executor deltas into the client-facing event
// envelope spec.md §6.1 defines, and renders them onto a Sink in the
// reference line-oriented text-frame encoding. Modeled on the teacher's
// stream package (runtime/agent/stream/stream.go) — a Sink interface
// transports pushed in event structs — narrowed to spec.md's closed event
// type set and newline-delimited wire format instead of the teacher's
// richer planner-event superset.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Type is the closed set of client-facing event types (spec.md §6.1).
type Type string

const (
	TypeStatus            Type = "status"
	TypeThinking          Type = "thinking"
	TypeContent           Type = "content"
	TypeToolCall          Type = "tool_call"
	TypeToolResult        Type = "tool_result"
	TypePlanCreated       Type = "plan_created"
	TypePlanRevised       Type = "plan_revised"
	TypeTaskStart         Type = "task_start"
	TypeTaskComplete      Type = "task_complete"
	TypeTaskFailed        Type = "task_failed"
	TypeProgressUpdate    Type = "progress_update"
	TypeReasoningDecision Type = "reasoning_decision"
	TypeConfirmRequired   Type = "confirm_required"
	TypeError             Type = "error"
	TypeDone              Type = "done"
	TypePing              Type = "ping"
)

// DoneStatus is the closed set of terminal statuses carried by a "done" event.
type DoneStatus string

const (
	DoneSuccess    DoneStatus = "success"
	DoneIncomplete DoneStatus = "incomplete"
	DoneCancelled  DoneStatus = "cancelled"
	DoneTimeout    DoneStatus = "timeout"
	DoneFailed     DoneStatus = "failed"
)

// Event is a single envelope pushed onto a run's ordered stream. Every event
// carries the common fields plus a type-specific Data payload (spec.md §6.1).
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	Iteration int            `json:"iteration"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink delivers events to a client transport (SSE, WebSocket, a test buffer).
// Implementations must be safe for concurrent Send calls.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close(ctx context.Context) error
}

// PingInterval is the maximum idle time before a keepalive ping is due
// (spec.md §6.1: "emitted at most every 15s during idle").
const PingInterval = 15 * time.Second

// Emitter wraps a Sink with session/iteration bookkeeping and the
// causal-ordering guarantee spec.md §5 requires: within a run, an event is
// never emitted out of order relative to the state transition that produced
// it, because Emit is called synchronously from the single-threaded driver.
type Emitter struct {
	sink      Sink
	sessionID string

	mu        sync.Mutex
	iteration int
	lastSent  time.Time
}

// New constructs an Emitter bound to sessionID, pushing through sink.
func New(sink Sink, sessionID string) *Emitter {
	return &Emitter{sink: sink, sessionID: sessionID, lastSent: time.Now()}
}

// SetIteration updates the iteration counter stamped onto subsequent events.
func (e *Emitter) SetIteration(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iteration = n
}

func (e *Emitter) emit(ctx context.Context, typ Type, data map[string]any) error {
	e.mu.Lock()
	iter := e.iteration
	e.lastSent = time.Now()
	e.mu.Unlock()
	return e.sink.Send(ctx, Event{
		Type:      typ,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Iteration: iter,
		Data:      data,
	})
}

// Status emits a phase-change status event.
func (e *Emitter) Status(ctx context.Context, phase, message string) error {
	return e.emit(ctx, TypeStatus, map[string]any{"phase": phase, "message": message})
}

// Thinking emits an informational reasoning-block chunk.
func (e *Emitter) Thinking(ctx context.Context, content string) error {
	return e.emit(ctx, TypeThinking, map[string]any{"content": content})
}

// Content emits visible assistant text.
func (e *Emitter) Content(ctx context.Context, content string) error {
	return e.emit(ctx, TypeContent, map[string]any{"content": content})
}

// ToolCall emits a tool invocation request.
func (e *Emitter) ToolCall(ctx context.Context, toolName, callID string, parameters map[string]any) error {
	return e.emit(ctx, TypeToolCall, map[string]any{
		"tool_name": toolName, "call_id": callID, "parameters": parameters,
	})
}

// ToolResult emits the outcome of a tool invocation.
func (e *Emitter) ToolResult(ctx context.Context, toolName, callID string, status string, result any, errMsg string) error {
	data := map[string]any{"tool_name": toolName, "call_id": callID, "status": status}
	if status == "success" {
		data["result"] = result
	} else {
		data["error"] = errMsg
	}
	return e.emit(ctx, TypeToolResult, data)
}

// PlanCreated emits a newly generated plan.
func (e *Emitter) PlanCreated(ctx context.Context, serializedPlan any) error {
	return e.emit(ctx, TypePlanCreated, map[string]any{"plan": serializedPlan})
}

// PlanRevised emits a replan, carrying the reason the prior plan was revised.
func (e *Emitter) PlanRevised(ctx context.Context, serializedPlan any, reason string) error {
	return e.emit(ctx, TypePlanRevised, map[string]any{"plan": serializedPlan, "reason": reason})
}

// TaskStart/TaskComplete/TaskFailed emit per-task lifecycle events.
func (e *Emitter) TaskStart(ctx context.Context, taskID, title, status string) error {
	return e.emit(ctx, TypeTaskStart, map[string]any{"task_id": taskID, "title": title, "status": status})
}

func (e *Emitter) TaskComplete(ctx context.Context, taskID, title, status string) error {
	return e.emit(ctx, TypeTaskComplete, map[string]any{"task_id": taskID, "title": title, "status": status})
}

func (e *Emitter) TaskFailed(ctx context.Context, taskID, title, status string) error {
	return e.emit(ctx, TypeTaskFailed, map[string]any{"task_id": taskID, "title": title, "status": status})
}

// ProgressUpdate emits a derived Plan Progress snapshot.
func (e *Emitter) ProgressUpdate(ctx context.Context, progress map[string]any) error {
	return e.emit(ctx, TypeProgressUpdate, progress)
}

// ReasoningDecision emits a failure-observer-triggered decision (e.g. the
// 3-Strike Protocol's "reread plan" action, spec.md scenario 4).
func (e *Emitter) ReasoningDecision(ctx context.Context, action, reason string) error {
	return e.emit(ctx, TypeReasoningDecision, map[string]any{"action": action, "reason": reason})
}

// ConfirmRequired emits a human-in-the-loop confirmation gate (spec.md §6.2).
func (e *Emitter) ConfirmRequired(ctx context.Context, requestID, operation, description string, context_ map[string]any) error {
	return e.emit(ctx, TypeConfirmRequired, map[string]any{
		"request_id": requestID, "operation": operation, "description": description, "context": context_,
	})
}

// Error emits a non-terminal diagnostic; it does not end the stream.
func (e *Emitter) Error(ctx context.Context, message string) error {
	return e.emit(ctx, TypeError, map[string]any{"message": message})
}

// Done emits the single terminal event every stream must end with.
func (e *Emitter) Done(ctx context.Context, status DoneStatus, progress map[string]any) error {
	return e.emit(ctx, TypeDone, map[string]any{"status": string(status), "progress": progress})
}

// Ping emits a keepalive if more than PingInterval has elapsed since the
// last event was sent; a no-op otherwise. Callers invoke this from an idle
// timer alongside the driver loop.
func (e *Emitter) Ping(ctx context.Context) error {
	e.mu.Lock()
	idle := time.Since(e.lastSent)
	e.mu.Unlock()
	if idle < PingInterval {
		return nil
	}
	return e.emit(ctx, TypePing, nil)
}

// LineSink renders events as the reference newline-delimited text-frame
// encoding (spec.md §6.1): a typed header line followed by a JSON data
// line, UTF-8, one event per two lines.
type LineSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewLineSink wraps w as a LineSink.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: bufio.NewWriter(w)}
}

// Send writes event's header and JSON data line, then flushes.
func (s *LineSink) Send(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event.Type); err != nil {
		return err
	}
	payload := map[string]any{
		"sessionId": event.SessionID,
		"timestamp": event.Timestamp,
		"iteration": event.Iteration,
	}
	for k, v := range event.Data {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(raw); err != nil {
		return err
	}
	if _, err := s.w.WriteString("\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes any buffered bytes. LineSink owns no other resources.
func (s *LineSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// ChannelSink delivers events over a Go channel, used by in-process callers
// (tests, the in-memory engine) that consume an iterator of Events rather
// than a serialized transport.
type ChannelSink struct {
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

// NewChannelSink constructs a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer), closed: make(chan struct{})}
}

// Events returns the receive side of the channel for callers to range over.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Send pushes event onto the channel, respecting ctx cancellation.
func (s *ChannelSink) Send(ctx context.Context, event Event) error {
	select {
	case <-s.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case s.ch <- event:
		return nil
	case <-s.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel; Send after Close returns io.ErrClosedPipe.
func (s *ChannelSink) Close(_ context.Context) error {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
	return nil
}
