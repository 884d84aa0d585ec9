// Package statemachine implements the Agent State Machine (C10): an
// explicit, signal-driven transition table over a closed set of states,
// modeled on the original implementation's state.py (INIT/PLANNING/
// REASONING/TOOL_CALLING/OBSERVING/WAITING_CONFIRM/REFLECTING/REPLANNING
// plus the terminal states), adapted into the teacher's idiom: a small value
// type plus an explicit transition table, no hidden state.
package statemachine

import (
	"fmt"
	"strings"
	"time"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

// State is one of the closed set of agent states.
type State string

const (
	Init            State = "init"
	ParsingIntent   State = "parsing_intent"
	Planning        State = "planning"
	Reasoning       State = "reasoning"
	ToolCalling     State = "tool_calling"
	Observing       State = "observing"
	WaitingConfirm  State = "waiting_confirm"
	Reflecting      State = "reflecting"
	Replanning      State = "replanning"
	Success         State = "success"
	Failed          State = "failed"
	Cancelled       State = "cancelled"
	TimedOut        State = "timeout"
)

// Terminal reports whether s is one of the four terminal states, which have
// no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case Success, Failed, Cancelled, TimedOut:
		return true
	default:
		return false
	}
}

// Signal is an event that may trigger a state transition.
type Signal string

const (
	SigUserMessageReceived Signal = "user_message_received"
	SigUserConfirmed       Signal = "user_confirmed"
	SigUserRejected        Signal = "user_rejected"
	SigUserCancelled       Signal = "user_cancelled"

	SigIntentClear   Signal = "intent_clear"
	SigIntentUnclear Signal = "intent_unclear"
	SigSkillMatched  Signal = "skill_matched"

	SigPlanCreated    Signal = "plan_created"
	SigPlanFailed     Signal = "plan_failed"
	SigNewPlanCreated Signal = "new_plan_created"
	SigCannotReplan   Signal = "cannot_replan"

	SigNeedTool       Signal = "need_tool"
	SigNeedConfirm    Signal = "need_confirm"
	SigTaskComplete   Signal = "task_complete"
	SigTaskFailed     Signal = "task_failed"
	SigResponseReady  Signal = "response_ready"

	SigToolSuccess Signal = "tool_success"
	SigToolFailed  Signal = "tool_failed"

	// Signals derived from a task's process-style exit code (spec.md §3).
	SigExitSuccess  Signal = "exit_code_success"
	SigExitFailure  Signal = "exit_code_failure"
	SigExitNeedUser Signal = "exit_code_need_user"

	SigContinue Signal = "continue"

	SigCanRetry         Signal = "can_retry"
	SigMaxRetriesReached Signal = "max_retries_reached"

	SigMaxIterationsReached Signal = "max_iterations_reached"
	SigTimeoutReached       Signal = "timeout_reached"
)

type transition struct {
	signal Signal
	target State
}

// table is the exhaustive transition table: every non-terminal state must
// have at least one outgoing transition, and a failed tool call always
// routes through Observing rather than being swallowed — failures are
// always observed, never skipped.
var table = map[State][]transition{
	Init: {
		{SigUserMessageReceived, ParsingIntent},
	},
	ParsingIntent: {
		{SigIntentClear, Planning},
		{SigSkillMatched, Planning},
		{SigIntentUnclear, Reasoning},
	},
	Planning: {
		{SigPlanCreated, Reasoning},
		{SigPlanFailed, Reflecting},
	},
	Reasoning: {
		{SigNeedTool, ToolCalling},
		{SigNeedConfirm, WaitingConfirm},
		{SigTaskComplete, Success},
		{SigResponseReady, Success},
		{SigTaskFailed, Reflecting},
		{SigExitSuccess, Success},
		{SigExitFailure, Reflecting},
		{SigMaxIterationsReached, TimedOut},
	},
	ToolCalling: {
		{SigToolSuccess, Observing},
		{SigToolFailed, Observing},
		{SigNeedConfirm, WaitingConfirm},
	},
	Observing: {
		{SigContinue, Reasoning},
		{SigExitSuccess, Success},
		{SigExitFailure, Reflecting},
		{SigExitNeedUser, WaitingConfirm},
		{SigTaskComplete, Success},
	},
	WaitingConfirm: {
		{SigUserConfirmed, ToolCalling},
		{SigUserRejected, Reasoning},
		{SigUserCancelled, Cancelled},
		{SigTimeoutReached, TimedOut},
	},
	Reflecting: {
		{SigCanRetry, Replanning},
		{SigMaxRetriesReached, Failed},
	},
	Replanning: {
		{SigNewPlanCreated, Reasoning},
		{SigCannotReplan, Failed},
	},
	Success:   {},
	Failed:    {},
	Cancelled: {},
	TimedOut:  {},
}

// allStates enumerates the closed set of states the table is defined over,
// used by Validate to check reachability and outgoing-transition coverage
// independent of whatever states happen to have entries in table.
var allStates = []State{
	Init, ParsingIntent, Planning, Reasoning, ToolCalling, Observing,
	WaitingConfirm, Reflecting, Replanning, Success, Failed, Cancelled, TimedOut,
}

// Validate checks the transition table against the invariants the runtime
// requires at startup: every non-terminal state has at least one outgoing
// transition, every state is reachable from Init by some signal path, and no
// terminal state has an outgoing transition. It returns a single
// KindInvalidConfig RuntimeError listing every violation found, or nil if the
// table is well-formed. Callers should treat a non-nil result as a fatal
// configuration error and refuse to start.
func Validate() error {
	var problems []string

	for _, s := range allStates {
		signals := table[s]
		if s.Terminal() {
			if len(signals) != 0 {
				problems = append(problems, fmt.Sprintf("terminal state %q has %d outgoing transition(s)", s, len(signals)))
			}
			continue
		}
		if len(signals) == 0 {
			problems = append(problems, fmt.Sprintf("non-terminal state %q has no outgoing transitions", s))
		}
	}

	reachable := map[State]bool{Init: true}
	queue := []State{Init}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range table[cur] {
			if !reachable[t.target] {
				reachable[t.target] = true
				queue = append(queue, t.target)
			}
		}
	}
	for _, s := range allStates {
		if !reachable[s] {
			problems = append(problems, fmt.Sprintf("state %q is unreachable from %q", s, Init))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return agenterr.Errorf(agenterr.KindInvalidConfig, "invalid state machine table: %s", strings.Join(problems, "; "))
}

// NextState returns the state reached from current on signal, or false if
// the transition is not defined.
func NextState(current State, signal Signal) (State, bool) {
	for _, t := range table[current] {
		if t.signal == signal {
			return t.target, true
		}
	}
	return "", false
}

// ValidSignals returns every signal current accepts.
func ValidSignals(current State) []Signal {
	ts := table[current]
	out := make([]Signal, len(ts))
	for i, t := range ts {
		out[i] = t.signal
	}
	return out
}

// Record is one entry in a Machine's transition history.
type Record struct {
	State     State
	Signal    Signal // the signal that produced this state; empty for the initial record
	At        time.Time
	Metadata  map[string]any
}

// History is the ordered trail of states a Machine has passed through, kept
// for observability and failure analysis, mirroring the original
// implementation's StateHistory.
type History struct {
	records []Record
}

func (h *History) add(state State, signal Signal, metadata map[string]any) {
	h.records = append(h.records, Record{State: state, Signal: signal, At: time.Now(), Metadata: metadata})
}

// Records returns the full transition trail.
func (h *History) Records() []Record { return h.records }

// Current returns the most recent state recorded, or "" if empty.
func (h *History) Current() State {
	if len(h.records) == 0 {
		return ""
	}
	return h.records[len(h.records)-1].State
}

// Previous returns the state recorded immediately before Current, or "" if
// fewer than two records exist.
func (h *History) Previous() State {
	if len(h.records) < 2 {
		return ""
	}
	return h.records[len(h.records)-2].State
}

// Count returns how many times state appears in the trail.
func (h *History) Count(state State) int {
	n := 0
	for _, r := range h.records {
		if r.State == state {
			n++
		}
	}
	return n
}

// Path returns the sequence of states visited, in order.
func (h *History) Path() []State {
	out := make([]State, len(h.records))
	for i, r := range h.records {
		out[i] = r.State
	}
	return out
}

// Machine manages a single run's current state and its transition history.
// It is not safe for concurrent use; callers (the run orchestrator, C13)
// serialize access per run.
type Machine struct {
	state   State
	history History
}

// New constructs a Machine starting at Init.
func New() *Machine {
	m := &Machine{state: Init}
	m.history.add(Init, "", nil)
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// History returns the machine's transition trail.
func (m *Machine) History() *History { return &m.history }

// IsTerminal reports whether the machine has reached a terminal state.
func (m *Machine) IsTerminal() bool { return m.state.Terminal() }

// CanTransition reports whether signal is valid from the current state.
func (m *Machine) CanTransition(signal Signal) bool {
	_, ok := NextState(m.state, signal)
	return ok
}

// Transition applies signal, returning the new state or a KindInvalidTransition
// RuntimeError if the transition is not defined for the current state.
func (m *Machine) Transition(signal Signal, metadata map[string]any) (State, error) {
	next, ok := NextState(m.state, signal)
	if !ok {
		return "", agenterr.Errorf(agenterr.KindInvalidTransition, "invalid transition: %s + %s", m.state, signal)
	}
	m.history.add(next, signal, metadata)
	m.state = next
	return m.state, nil
}
