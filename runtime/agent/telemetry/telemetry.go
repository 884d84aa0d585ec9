// Package telemetry defines logging, metrics and tracing abstractions for
// the runtime, with no-op and Clue/OpenTelemetry-backed implementations. No
// other package in this module imports it; the runtime's components do not
// log, count or trace through it.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging.
// Implementations typically delegate to Clue but the interface stays small
// so tests can supply lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer and gauge helpers for runtime
// instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// ExecutionTelemetry captures observability metadata collected during a
// single tool invocation or model call inside the task executor (C9). The
// common fields give type safety for the standard metrics; Extra holds
// provider- or tool-specific data (response headers, cache keys, sandbox
// ids).
type ExecutionTelemetry struct {
	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64
	// TokensUsed tracks the total tokens consumed by a model call, if any.
	TokensUsed int
	// Model identifies which model served the call, empty for pure tool calls.
	Model string
	// Extra holds tool- or provider-specific metadata not captured above.
	Extra map[string]any
}
