// Package agenterr provides the closed error-kind taxonomy shared by every
// runtime component, modeled directly on the teacher's toolerrors.ToolError:
// a structured error that preserves causal chains through Unwrap so callers
// can use errors.Is/As, while still carrying a machine-readable Kind that
// drives retry and state-machine decisions.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the runtime distinguishes.
// Every error surfaced across a state transition, tool call or sandbox
// operation carries exactly one Kind.
type Kind string

const (
	KindInvalidTransition      Kind = "invalid_transition"
	KindPlanValidationFailed   Kind = "plan_validation_failed"
	KindToolUnknown            Kind = "tool_unknown"
	KindToolParameterInvalid   Kind = "tool_parameter_invalid"
	KindToolTransient          Kind = "tool_transient"
	KindToolPermanent          Kind = "tool_permanent"
	KindSandboxTimeout         Kind = "sandbox_timeout"
	KindSandboxResourceExceeded Kind = "sandbox_resource_exceeded"
	KindSandboxRejected        Kind = "sandbox_rejected"
	KindConfirmationRequired   Kind = "confirmation_required"
	KindConfirmationDenied     Kind = "confirmation_denied"
	KindConfirmationTimeout    Kind = "confirmation_timeout"
	KindIterationExhausted     Kind = "iteration_exhausted"
	KindPathEscape             Kind = "path_escape"
	KindConcurrentAccess       Kind = "concurrent_access"
	KindInvalidConfig          Kind = "invalid_config"
	KindAcceptanceUnmet        Kind = "acceptance_unmet"
	KindInternal               Kind = "internal"
)

// Retryable reports whether the runtime should consider retrying an
// operation that failed with this kind, independent of any specific retry
// policy's attempt budget.
func (k Kind) Retryable() bool {
	switch k {
	case KindToolTransient, KindSandboxTimeout, KindConfirmationTimeout:
		return true
	default:
		return false
	}
}

// RuntimeError is the structured error type returned by every runtime
// component. It preserves a causal chain via Cause so errors.Is/As keep
// working across retries and replans, while Kind lets callers branch on the
// failure category without string matching.
type RuntimeError struct {
	Kind    Kind
	Message string
	Cause   *RuntimeError
}

// New constructs a RuntimeError with the given kind and message.
func New(kind Kind, message string) *RuntimeError {
	if message == "" {
		message = string(kind)
	}
	return &RuntimeError{Kind: kind, Message: message}
}

// NewWithCause constructs a RuntimeError that wraps an underlying error,
// converting it into a RuntimeError chain so Kind and Message survive
// serialization (checkpointing, transcript storage) while still supporting
// errors.Is/As through Unwrap.
func NewWithCause(kind Kind, message string, cause error) *RuntimeError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &RuntimeError{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a RuntimeError chain. If err is
// already (or wraps) a RuntimeError, that instance is returned unchanged;
// otherwise it is classified as KindInternal.
func FromError(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return &RuntimeError{
		Kind:    KindInternal,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Errorf formats a message and returns it as a RuntimeError of the given kind.
func Errorf(kind Kind, format string, args ...any) *RuntimeError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *RuntimeError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *RuntimeError with the same Kind, so
// errors.Is(err, agenterr.New(KindToolTransient, "")) works as a kind check.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}
