// Package executor implements the Task Executor (C9): it drives the
// LLM<->tool loop for a single task to completion, a validated failure, a
// timeout, or a fatal error (spec.md §4.4). Tool-call scanning is grounded
// on the original implementation's ToolCallExecutor (backend/app/agent/
// executor.py): a <tool_use><tool_name>.../<tool_name><parameters>{...}
// </parameters></tool_use> text block, paired with <reasoning>/<answer>
// markers, generalized here to prefer a model's native tool-calling
// representation (model.Response.ToolCalls / model.Chunk.ToolCall) and fall
// back to text-block scanning only when the provider has none.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"goatomic.dev/runtime/runtime/agent/agenterr"
	"goatomic.dev/runtime/runtime/agent/failure"
	"goatomic.dev/runtime/runtime/agent/interrupt"
	"goatomic.dev/runtime/runtime/agent/model"
	"goatomic.dev/runtime/runtime/agent/plan"
	"goatomic.dev/runtime/runtime/agent/tools"
)

// Status is the closed set of terminal outcomes for a single task execution
// (spec.md §4.4 Termination).
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusFatal   Status = "fatal"
)

// Context is the execution context E a task is driven against: the running
// message history, a token counter, and an arbitrary key/value store tasks
// can thread state through across iterations within a run.
type Context struct {
	SessionID   string
	WorkspaceID string
	Messages    []*model.Message
	Tokens      int
	KV          map[string]any
}

// Result is what Execute returns for a single task.
type Result struct {
	Status     Status
	Output     string
	Iterations int
	Error      *agenterr.RuntimeError
}

// ConfirmFunc suspends the run for a confirmation-required tool call and
// returns the human's decision. The orchestrator supplies this, wiring the
// parent state machine's transition to waiting_confirm and an
// interrupt.Gate together, so the executor itself stays state-machine
// agnostic.
type ConfirmFunc func(ctx context.Context, requestID string, toolID tools.Ident, payload json.RawMessage) (interrupt.Decision, error)

// Emitter is the subset of stream.Emitter the executor drives directly.
// Declared locally to avoid a hard dependency on a concrete sink.
type Emitter interface {
	Thinking(ctx context.Context, content string) error
	ToolCall(ctx context.Context, toolName, callID string, parameters map[string]any) error
	ToolResult(ctx context.Context, toolName, callID string, status string, result any, errMsg string) error
	ConfirmRequired(ctx context.Context, requestID, operation, description string, context_ map[string]any) error
}

// Config bounds a single task execution (spec.md §6.6).
type Config struct {
	MaxIterationsPerTask int
	ToolCallTimeout      time.Duration
	MaxToolAttempts      int
	HITLEnabled          bool
}

// DefaultConfig matches spec.md §6.6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterationsPerTask: 10,
		ToolCallTimeout:      30 * time.Second,
		MaxToolAttempts:      3,
		HITLEnabled:          true,
	}
}

// Executor drives task-scoped LLM<->tool loops.
type Executor struct {
	Client   model.Client
	Registry *tools.Registry
	Failures *failure.Observer
	Confirm  ConfirmFunc
	Emit     Emitter
	Config   Config

	// OnToolInvoked, when set, is called once per resolved tool invocation
	// (success or failure) so the caller can drive the 2-Action Rule counter
	// (spec.md §4.6) without the executor depending on the memory package.
	OnToolInvoked func(id tools.Ident)
}

// New constructs an Executor. Confirm and Emit may be nil; a nil Confirm
// causes confirmation-required tools to fail fast with
// KindConfirmationRequired rather than hang.
func New(client model.Client, reg *tools.Registry, obs *failure.Observer) *Executor {
	return &Executor{Client: client, Registry: reg, Failures: obs, Config: DefaultConfig()}
}

// BuildPrompt constructs the task-scoped messages the model sees: the
// task's title/description/acceptance criterion, suggested tool names, and
// a compact recitation of plan progress (spec.md §4.4 step 1, §4.6 "Plan
// recitation").
func BuildPrompt(t *plan.Task, recitation string) []*model.Message {
	var b strings.Builder
	b.WriteString("Task: " + t.Title + "\n")
	if t.Description != "" {
		b.WriteString("Description: " + t.Description + "\n")
	}
	if t.AcceptanceCriteria != "" {
		b.WriteString("Acceptance criterion: " + t.AcceptanceCriteria + "\n")
	}
	if len(t.ToolHints) > 0 {
		b.WriteString("Suggested tools: " + strings.Join(t.ToolHints, ", ") + "\n")
	}
	if recitation != "" {
		b.WriteString("\nPlan progress so far:\n" + recitation + "\n")
	}
	b.WriteString(
		"\nWork the task to completion. Emit tool calls in a <tool_use><tool_name>" +
			"NAME</tool_name><parameters>{...}</parameters></tool_use> block, one per " +
			"call. When the task is fully done, emit <answer>your result</answer>. " +
			"Use <reasoning>...</reasoning> for private deliberation that should not be " +
			"treated as the final answer.",
	)
	return []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: b.String()}}}}
}

// Execute drives task to completion, timeout, or validated/fatal failure.
func (e *Executor) Execute(ctx context.Context, t *plan.Task, execCtx *Context, recitation string) (*Result, error) {
	execCtx.Messages = append(execCtx.Messages, BuildPrompt(t, recitation)...)

	maxIter := e.Config.MaxIterationsPerTask
	if maxIter <= 0 {
		maxIter = DefaultConfig().MaxIterationsPerTask
	}

	for iter := 1; iter <= maxIter; iter++ {
		buf, nativeCalls, usage, err := e.stream(ctx, t, execCtx)
		if err != nil {
			return &Result{Status: StatusFatal, Iterations: iter,
				Error: agenterr.FromError(err)}, nil
		}
		execCtx.Tokens += usage.TotalTokens

		if reasoning, ok := extractBlock(buf, reasoningBlockRe); ok && e.Emit != nil {
			_ = e.Emit.Thinking(ctx, reasoning)
		}

		calls := nativeCalls
		if len(calls) == 0 {
			calls = parseTextToolCalls(buf)
		}

		if len(calls) > 0 {
			execCtx.Messages = append(execCtx.Messages, &model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: buf}},
			})
			resultsBlock, fatal := e.runToolCalls(ctx, t, execCtx, calls)
			if fatal != nil {
				return &Result{Status: StatusFatal, Iterations: iter, Error: fatal}, nil
			}
			execCtx.Messages = append(execCtx.Messages, &model.Message{
				Role:  model.ConversationRoleUser,
				Parts: []model.Part{model.TextPart{Text: resultsBlock}},
			})
			continue
		}

		if answer, ok := extractBlock(buf, answerBlockRe); ok {
			passed, reason, err := e.verifyAcceptance(ctx, t, execCtx, answer)
			if err != nil {
				return &Result{Status: StatusFatal, Iterations: iter,
					Error: agenterr.FromError(err)}, nil
			}
			if !passed {
				msg := "acceptance criterion not met"
				if reason != "" {
					msg = fmt.Sprintf("%s: %s", msg, reason)
				}
				return &Result{Status: StatusFailed, Output: answer, Iterations: iter,
					Error: agenterr.New(agenterr.KindAcceptanceUnmet, msg)}, nil
			}
			return &Result{Status: StatusSuccess, Output: answer, Iterations: iter}, nil
		}

		// Neither a tool call nor a final answer: treat as an intermediate
		// assistant turn (informational reasoning only) and loop.
		execCtx.Messages = append(execCtx.Messages, &model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: buf}},
		})
	}

	return &Result{Status: StatusTimeout, Iterations: maxIter,
		Error: agenterr.New(agenterr.KindIterationExhausted, "task exceeded max iterations")}, nil
}

// stream drains a single model turn, concatenating text deltas and
// collecting any natively streamed tool calls. A client that reports
// model.ErrStreamingUnsupported is sent the same request through Complete.
func (e *Executor) stream(ctx context.Context, t *plan.Task, execCtx *Context) (string, []model.ToolCall, model.TokenUsage, error) {
	req := &model.Request{
		RunID:      execCtx.SessionID,
		ModelClass: model.ModelClassDefault,
		Messages:   execCtx.Messages,
		Stream:     true,
		Tools:      e.toolDefinitions(),
	}
	strm, err := e.Client.Stream(ctx, req)
	if errors.Is(err, model.ErrStreamingUnsupported) {
		resp, cerr := e.Client.Complete(ctx, req)
		if cerr != nil {
			return "", nil, model.TokenUsage{}, cerr
		}
		return responseText(resp), resp.ToolCalls, resp.Usage, nil
	}
	if err != nil {
		return "", nil, model.TokenUsage{}, err
	}
	defer strm.Close()

	var buf bytes.Buffer
	var calls []model.ToolCall
	var usage model.TokenUsage
	for {
		chunk, err := strm.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, usage, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			buf.WriteString(textOf(chunk.Message))
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				usage = *chunk.UsageDelta
			}
		case model.ChunkTypeThinking:
			if e.Emit != nil && chunk.Thinking != "" {
				_ = e.Emit.Thinking(ctx, chunk.Thinking)
			}
		}
	}
	return buf.String(), calls, usage, nil
}

// verdictFailRe matches a VERDICT:FAIL line from the acceptance verifier,
// case-insensitively and tolerant of surrounding whitespace, since models
// vary in capitalization even when told to reply with an exact token.
var verdictFailRe = regexp.MustCompile(`(?i)VERDICT\s*:\s*FAIL`)

// verifyAcceptance issues a second, independent model turn asking whether
// answer actually satisfies t's acceptance criterion, the spec.md §4.4
// "Validated failure" check: a task can stream a well-formed <answer> that
// still does not do what was asked, and only a dedicated verification turn
// catches that. Tasks without an acceptance criterion to check are accepted
// without spending a turn on it.
func (e *Executor) verifyAcceptance(ctx context.Context, t *plan.Task, execCtx *Context, answer string) (bool, string, error) {
	if t.AcceptanceCriteria == "" {
		return true, "", nil
	}
	prompt := fmt.Sprintf(
		"Acceptance criterion for this task: %s\n\n"+
			"Proposed final answer:\n%s\n\n"+
			"Does the proposed answer satisfy the acceptance criterion? Reply with a "+
			"single line starting with either VERDICT:PASS or VERDICT:FAIL, followed by "+
			"a one-sentence reason.",
		t.AcceptanceCriteria, answer,
	)
	req := &model.Request{
		RunID:      execCtx.SessionID,
		ModelClass: model.ModelClassSmall,
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: prompt}}},
		},
	}
	resp, err := e.Client.Complete(ctx, req)
	if err != nil {
		return false, "", err
	}
	verdict := responseText(resp)
	if verdictFailRe.MatchString(verdict) {
		return false, strings.TrimSpace(verdictFailRe.ReplaceAllString(verdict, "")), nil
	}
	return true, "", nil
}

// responseText concatenates every TextPart across a non-streaming
// model.Response's content messages.
func responseText(resp *model.Response) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for i := range resp.Content {
		b.WriteString(textOf(&resp.Content[i]))
	}
	return b.String()
}

// textOf concatenates every TextPart in m, the delta representation a
// streaming provider uses for ChunkTypeText chunks.
func textOf(m *model.Message) string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(model.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func (e *Executor) toolDefinitions() []*model.ToolDefinition {
	if e.Registry == nil {
		return nil
	}
	specs := e.Registry.All()
	defs := make([]*model.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, &model.ToolDefinition{
			Name:        string(s.Ident()),
			Description: s.Description,
			InputSchema: s.Payload.Schema,
		})
	}
	return defs
}

// runToolCalls invokes every parsed call with a per-call retry policy and
// returns the serialized <tool_results> block to re-inject into the
// conversation (spec.md §4.4 step 4, grounded on executor.py's
// ToolResult normalization). A non-nil fatal error means the loop must
// abort the task entirely (e.g. a denied confirmation gate).
func (e *Executor) runToolCalls(ctx context.Context, t *plan.Task, execCtx *Context, calls []model.ToolCall) (string, *agenterr.RuntimeError) {
	resultsJSON := "{}"
	for i, c := range calls {
		callID := c.ID
		if callID == "" {
			callID = uuid.NewString()
		}
		if e.Emit != nil {
			var params map[string]any
			_ = json.Unmarshal(c.Payload, &params)
			_ = e.Emit.ToolCall(ctx, string(c.Name), callID, params)
		}

		out, toolErr := e.invokeOne(ctx, t, callID, c)
		if e.OnToolInvoked != nil {
			e.OnToolInvoked(c.Name)
		}

		var entry map[string]any
		if toolErr != nil {
			entry = map[string]any{"status": "error", "error": toolErr.Error()}
			if e.Failures != nil {
				e.Failures.Record(toolErr.Kind, toolErr.Error(), string(c.Name), 1)
			}
			if e.Emit != nil {
				_ = e.Emit.ToolResult(ctx, string(c.Name), callID, "error", nil, toolErr.Error())
			}
			if toolErr.Kind == agenterr.KindConfirmationDenied {
				return "", toolErr
			}
		} else {
			entry = map[string]any{"status": "success", "result": out}
			if e.Emit != nil {
				_ = e.Emit.ToolResult(ctx, string(c.Name), callID, "success", out, "")
			}
		}

		raw, err := json.Marshal(entry)
		if err != nil {
			raw = []byte(fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()))
		}
		resultsJSON, err = sjson.SetRawBytes([]byte(resultsJSON), fmt.Sprintf("call_%d", i), raw)
		if err != nil {
			continue
		}
		_ = gjson.Valid(resultsJSON) // defensive: never emit malformed JSON downstream
	}
	return "<tool_results>\n" + string(resultsJSON) + "\n</tool_results>", nil
}

// invokeOne executes a single tool call with confirmation-gating and a
// backoff-governed retry policy over transient failures (spec.md §4.4's
// tool retry classification).
func (e *Executor) invokeOne(ctx context.Context, t *plan.Task, callID string, c model.ToolCall) (any, *agenterr.RuntimeError) {
	if e.Registry == nil || !e.Registry.Has(c.Name) {
		return nil, agenterr.Errorf(agenterr.KindToolUnknown, "tool %s is not registered", c.Name)
	}
	spec, _ := e.Registry.Get(c.Name)
	if spec.RiskLevel.RequiresConfirmation(e.Config.HITLEnabled) {
		if e.Confirm == nil {
			return nil, agenterr.New(agenterr.KindConfirmationRequired,
				"tool "+string(c.Name)+" requires confirmation but no confirmation gate is configured")
		}
		reqID := uuid.NewString()
		if e.Emit != nil {
			var params map[string]any
			_ = json.Unmarshal(c.Payload, &params)
			_ = e.Emit.ConfirmRequired(ctx, reqID, string(c.Name), spec.Description, params)
		}
		decision, err := e.Confirm(ctx, reqID, c.Name, c.Payload)
		if err != nil {
			return nil, agenterr.FromError(err)
		}
		switch decision {
		case interrupt.DecisionRejected:
			return nil, agenterr.New(agenterr.KindConfirmationDenied, "confirmation rejected for "+string(c.Name))
		case interrupt.DecisionTimeout:
			return nil, agenterr.New(agenterr.KindConfirmationTimeout, "confirmation timed out for "+string(c.Name))
		}
	}

	maxAttempts := e.Config.MaxToolAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().MaxToolAttempts
	}
	timeout := e.Config.ToolCallTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ToolCallTimeout
	}

	var result any
	var lastErr *agenterr.RuntimeError
	attempt := 0
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxAttempts-1))
	opErr := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, err := e.Registry.Invoke(callCtx, c.Name, c.Payload)
		if err == nil {
			result = out
			return nil
		}
		lastErr = agenterr.FromError(err)
		if !lastErr.Kind.Retryable() {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, bo)

	if opErr != nil {
		if lastErr == nil {
			lastErr = agenterr.FromError(opErr)
		}
		return nil, lastErr
	}
	return result, nil
}

var (
	toolUseBlockRe   = regexp.MustCompile(`(?s)<tool_use>(.*?)</tool_use>`)
	toolNameBlockRe  = regexp.MustCompile(`(?s)<tool_name>(.*?)</tool_name>`)
	toolParamsRe     = regexp.MustCompile(`(?s)<parameters>(.*?)</parameters>`)
	answerBlockRe    = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	reasoningBlockRe = regexp.MustCompile(`(?s)<reasoning>(.*?)</reasoning>`)
)

func extractBlock(buf string, re *regexp.Regexp) (string, bool) {
	m := re.FindStringSubmatch(buf)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// parseTextToolCalls scans buf for <tool_use> blocks when the provider has
// no native tool-calling channel, directly grounded on executor.py's
// parse_tool_calls regex scan.
func parseTextToolCalls(buf string) []model.ToolCall {
	matches := toolUseBlockRe.FindAllStringSubmatch(buf, -1)
	calls := make([]model.ToolCall, 0, len(matches))
	for i, m := range matches {
		block := m[1]
		nameMatch := toolNameBlockRe.FindStringSubmatch(block)
		if nameMatch == nil {
			continue
		}
		name := strings.TrimSpace(nameMatch[1])
		paramsMatch := toolParamsRe.FindStringSubmatch(block)
		if paramsMatch == nil {
			continue
		}
		params := strings.TrimSpace(paramsMatch[1])
		if !gjson.Valid(params) {
			continue
		}
		calls = append(calls, model.ToolCall{
			Name:    tools.Ident(name),
			Payload: json.RawMessage(params),
			ID:      fmt.Sprintf("call_%d", i),
		})
	}
	return calls
}
