// Package tools defines the shared tool metadata, codecs and registry used
// by the task executor (C9) and planner (C8) to advertise, validate and
// invoke tools.
package tools

import "encoding/json"

// Ident is the strong type for fully qualified tool identifiers
// ("service.toolset.tool"). Use this type in maps and APIs instead of a bare
// string to avoid accidental mixing with free-form text.
type Ident string

// ID is an alias of Ident kept for call sites that spell out the registry's
// public name for a qualified tool identifier.
type ID = Ident

// RiskLevel classifies the blast radius of a tool call. The task executor
// consults this field through RequiresConfirmation to decide whether a call
// must pass through the WAITING_CONFIRM state before it runs.
type RiskLevel string

const (
	// RiskSafe tools are read-only or fully reversible; they never pause the run.
	RiskSafe RiskLevel = "safe"
	// RiskSensitive tools mutate state but are reversible or scoped to the
	// sandbox; they do not require confirmation.
	RiskSensitive RiskLevel = "sensitive"
	// RiskDestructive tools are irreversible or affect systems outside the
	// sandbox; they always require confirmation unless the run disables HITL.
	RiskDestructive RiskLevel = "destructive"
)

// Valid reports whether r is a recognized risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskSensitive, RiskDestructive:
		return true
	default:
		return false
	}
}

// RequiresConfirmation reports whether a call at this risk level must pass
// through the WAITING_CONFIRM state before executing, given whether the run
// has human-in-the-loop confirmation enabled.
func (r RiskLevel) RequiresConfirmation(hitlEnabled bool) bool {
	if !hitlEnabled {
		return false
	}
	return r == RiskDestructive
}

// JSONCodec validates and decodes a tool's JSON payload into its typed Go
// representation T, and encodes typed results back to JSON for transcript
// storage and model re-injection.
type JSONCodec[T any] struct {
	// Validate runs schema/structural validation over raw payload bytes,
	// returning FieldIssue entries (never a bare error) so planners can turn
	// failures into retry hints.
	Validate func(raw json.RawMessage) []FieldIssue
	// Decode converts validated raw payload bytes into T.
	Decode func(raw json.RawMessage) (T, error)
}

// TypeSpec describes the JSON Schema of a tool's payload or result type for
// advertisement to a model and for runtime validation.
type TypeSpec struct {
	// Schema is the JSON Schema document (draft 2020-12) for the type.
	Schema json.RawMessage
	// Example is an optional example value rendered into tool documentation.
	Example json.RawMessage
}

// ToolSpec is the registry entry for a single invocable tool.
type ToolSpec struct {
	// Name is the bare tool name, unique within its Toolset.
	Name string
	// Service groups toolsets that belong to the same backing integration.
	Service string
	// Toolset groups related tools within a Service.
	Toolset string
	// Description is shown to the model as the tool's natural-language contract.
	Description string
	// Tags carries opaque design-time metadata (idempotency scope, risk
	// overrides, routing hints) as "key=value" strings.
	Tags []string
	// RiskLevel classifies the confirmation requirement for this tool.
	RiskLevel RiskLevel
	// IsAgentTool marks a tool that itself dispatches to a sub-agent rather
	// than a concrete integration.
	IsAgentTool bool
	// AgentID identifies the sub-agent when IsAgentTool is set.
	AgentID string
	// Payload describes the tool's input schema.
	Payload TypeSpec
	// Result describes the tool's output schema.
	Result TypeSpec
}

// Ident returns the fully qualified identifier for the tool.
func (s ToolSpec) Ident() Ident {
	return Ident(s.Service + "." + s.Toolset + "." + s.Name)
}

// FieldIssue represents a single validation issue found while decoding a
// tool payload. Constraint values follow the closed set: missing_field,
// invalid_enum_value, invalid_format, invalid_pattern, invalid_range,
// invalid_length, invalid_field_type.
type FieldIssue struct {
	Field      string
	Constraint string
	Allowed    []string
	MinLen     *int
	MaxLen     *int
	Pattern    string
	Format     string
}

// ToolUnavailable is the runtime-owned tool identifier substituted for a
// model's tool call whose requested name is not registered for the run. It
// preserves a valid tool-call/tool-result handshake even when the model
// hallucinates a tool name.
const ToolUnavailable Ident = "runtime.tool_unavailable"
