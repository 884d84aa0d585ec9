// Package transcript keeps the per-session ordered list of Context Messages
// (spec.md §3: user-turn, assistant-turn, tool-result) as an explicit ledger
// type instead of a bare slice, mirroring the teacher's transcript package
// (runtime/agent/transcript) which keeps a provider-precise ledger of
// conversation parts; this ledger is generalized to the atomic-task loop's
// three message kinds plus the bounded-tail and progressive-summarization
// operations spec.md §4.6 and the Checkpoint payload (§3) require.
package transcript

import (
	"goatomic.dev/runtime/runtime/agent/model"
)

// Kind is the closed set of Context Message roles (spec.md §3).
type Kind string

const (
	KindUserTurn      Kind = "user_turn"
	KindAssistantTurn Kind = "assistant_turn"
	KindToolResult    Kind = "tool_result"
	// KindSummary marks a synthetic entry produced by progressive
	// summarization, replacing a run of older entries.
	KindSummary Kind = "summary"
)

// Entry is one Context Message.
type Entry struct {
	Kind    Kind
	Message model.Message
	// Tokens is the best-effort token count for this entry, used to decide
	// when the high-water mark (§4.6) has been crossed.
	Tokens int
}

// Ledger is the append-only, trimmable ordered list of Context Messages for
// a single run. Not safe for concurrent use; the run orchestrator serializes
// access per run (spec.md's single-threaded cooperative driver, §5).
type Ledger struct {
	entries []Entry
	summary string
}

// New constructs an empty Ledger.
func New() *Ledger { return &Ledger{} }

// Append adds entry to the end of the ledger.
func (l *Ledger) Append(e Entry) { l.entries = append(l.entries, e) }

// AppendUser is a convenience wrapper for a user-turn entry.
func (l *Ledger) AppendUser(text string) {
	l.Append(Entry{Kind: KindUserTurn, Message: model.Message{
		Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: text}},
	}})
}

// AppendAssistant is a convenience wrapper for an assistant-turn entry.
func (l *Ledger) AppendAssistant(text string) {
	l.Append(Entry{Kind: KindAssistantTurn, Message: model.Message{
		Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}},
	}})
}

// AppendToolResult is a convenience wrapper for a tool-result entry,
// re-injected as a user-role message per the model wire convention (§6.4).
func (l *Ledger) AppendToolResult(toolUseID string, content any, isError bool) {
	l.Append(Entry{Kind: KindToolResult, Message: model.Message{
		Role:  model.ConversationRoleUser,
		Parts: []model.Part{model.ToolResultPart{ToolUseID: toolUseID, Content: content, IsError: isError}},
	}})
}

// All returns every entry in order.
func (l *Ledger) All() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries currently held.
func (l *Ledger) Len() int { return len(l.entries) }

// Tail returns the last n entries (or all, if n >= Len), used to populate
// the Checkpoint payload's "recent context message tail (bounded)".
func (l *Ledger) Tail(n int) []Entry {
	if n <= 0 || n >= len(l.entries) {
		return l.All()
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// TotalTokens sums the best-effort token counts of every entry.
func (l *Ledger) TotalTokens() int {
	total := 0
	for _, e := range l.entries {
		total += e.Tokens
	}
	return total
}

// Summary returns the current running summary produced by the last
// Summarize call, or "" if none has happened yet.
func (l *Ledger) Summary() string { return l.summary }

// ShouldSummarize reports whether the ledger's total token count has
// crossed ratio * windowTokens, the high-water mark that triggers
// progressive summarization (spec.md §4.6, context_summary_trigger_ratio).
func (l *Ledger) ShouldSummarize(windowTokens int, ratio float64) bool {
	if windowTokens <= 0 {
		return false
	}
	return float64(l.TotalTokens()) >= float64(windowTokens)*ratio
}

// Summarize replaces every entry but the most recent keepTail with a single
// KindSummary entry carrying summaryText, which callers derive from the
// findings/progress documents (spec.md §4.6: "older context is replaced by
// a running summary derived from findings and progress, while the three
// documents remain authoritative"). The three working-memory documents
// themselves are never touched by this operation.
func (l *Ledger) Summarize(summaryText string, keepTail int) {
	if keepTail < 0 {
		keepTail = 0
	}
	if keepTail >= len(l.entries) {
		return
	}
	tail := append([]Entry(nil), l.entries[len(l.entries)-keepTail:]...)
	l.summary = summaryText
	l.entries = append([]Entry{{Kind: KindSummary, Message: model.Message{
		Role:  model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{Text: summaryText}},
	}}}, tail...)
}

// Snapshot renders the ledger into the plain map representation the
// Checkpoint Store persists (spec.md §3's "Checkpoint" payload field
// ContextMessages []map[string]any).
func (l *Ledger) Snapshot() []map[string]any {
	out := make([]map[string]any, len(l.entries))
	for i, e := range l.entries {
		out[i] = map[string]any{
			"kind":   string(e.Kind),
			"role":   string(e.Message.Role),
			"tokens": e.Tokens,
			"text":   firstText(e.Message.Parts),
		}
	}
	return out
}

func firstText(parts []model.Part) string {
	for _, p := range parts {
		if t, ok := p.(model.TextPart); ok {
			return t.Text
		}
	}
	return ""
}

// Restore rebuilds a Ledger from a Checkpoint snapshot, used by the run
// orchestrator's recovery path (spec.md §4.7).
func Restore(snapshot []map[string]any) *Ledger {
	l := New()
	for _, m := range snapshot {
		kind, _ := m["kind"].(string)
		role, _ := m["role"].(string)
		text, _ := m["text"].(string)
		tokens, _ := m["tokens"].(int)
		l.Append(Entry{
			Kind:   Kind(kind),
			Tokens: tokens,
			Message: model.Message{
				Role:  model.ConversationRole(role),
				Parts: []model.Part{model.TextPart{Text: text}},
			},
		})
	}
	return l
}
