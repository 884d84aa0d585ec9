// Package reminder implements the 2-Action Rule and 3-Strike Protocol
// (spec.md §4.6, §4.8) as run-scoped reminders injected into the next task
// prompt, narrowing the teacher's tiered reminder engine
// (runtime/agent/reminder/reminder.go) down to the two concrete rules
// spec.md names instead of an open tier system. Reminders are neither
// capped nor rate-limited: every Inject call queues one.
package reminder

import "sync"

// Tier classifies how strongly a reminder must be surfaced. The runtime
// distinguishes the two rules spec.md defines: TierAction (2-Action Rule,
// a soft nudge) and TierSafety (3-Strike Protocol, which forces a
// reflect/replan cycle rather than merely nudging the prompt).
type Tier string

const (
	TierAction Tier = "action_rule"
	TierSafety Tier = "safety_strike"
)

// Reminder is a single instruction the orchestrator may inject into the
// next task prompt.
type Reminder struct {
	ID   string
	Tier Tier
	Text string
}

type runState struct {
	pending []Reminder
	emitted map[string]int
}

// Engine tracks pending reminders per session. Drain hands each queued
// reminder out once and counts how often each ID has been drained; nothing
// limits how often the same reminder is queued again.
type Engine struct {
	mu   sync.Mutex
	runs map[string]*runState
}

// NewEngine constructs an empty Engine.
func NewEngine() *Engine {
	return &Engine{runs: make(map[string]*runState)}
}

func (e *Engine) ensure(sessionID string) *runState {
	rs, ok := e.runs[sessionID]
	if !ok {
		rs = &runState{emitted: make(map[string]int)}
		e.runs[sessionID] = rs
	}
	return rs
}

// InjectActionRule queues the 2-Action Rule reminder: the orchestrator calls
// this when memory.WorkingMemory.RecordAction reports the threshold crossed
// without an intervening findings append.
func (e *Engine) InjectActionRule(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.ensure(sessionID)
	rs.pending = append(rs.pending, Reminder{
		ID:   "2-action-rule",
		Tier: TierAction,
		Text: "You have made two information-acquisition tool calls without recording a finding. Append a findings entry before continuing.",
	})
}

// InjectStrikeProtocol queues the 3-Strike Protocol reminder: the
// orchestrator calls this when failure.Observer.ShouldStrike reports true
// for some error kind.
func (e *Engine) InjectStrikeProtocol(sessionID, errorKind string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.ensure(sessionID)
	rs.pending = append(rs.pending, Reminder{
		ID:   "3-strike-" + errorKind,
		Tier: TierSafety,
		Text: "You have hit the same failure (" + errorKind + ") three times. Re-read the task plan before retrying and consider a different approach.",
	})
}

// Drain returns and clears every pending reminder for sessionID, to be
// prepended to the next task prompt the executor builds.
func (e *Engine) Drain(sessionID string) []Reminder {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.runs[sessionID]
	if !ok || len(rs.pending) == 0 {
		return nil
	}
	out := rs.pending
	rs.pending = nil
	for _, r := range out {
		rs.emitted[r.ID]++
	}
	return out
}

// EmittedCount reports how many times a reminder with the given ID has been
// drained for sessionID, used by tests asserting the reminder fired exactly
// once per strike-out.
func (e *Engine) EmittedCount(sessionID, reminderID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.runs[sessionID]
	if !ok {
		return 0
	}
	return rs.emitted[reminderID]
}
