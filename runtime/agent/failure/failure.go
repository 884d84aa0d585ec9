// Package failure implements the Failure Observer (C11): it classifies
// every tool/executor failure into the closed agenterr.Kind taxonomy,
// tracks per-session counters, and implements the 3-Strike Protocol
// (spec.md §4.6, §4.8), modeled on the original implementation's
// per-error-type counting in ThreeFilesManager.record_error
// (backend/app/agent/working_memory/three_files.py), split out into its own
// component the way spec.md's C11 separates failure classification from the
// working-memory store itself.
package failure

import (
	"sync"
	"time"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

// Record is a single classified failure occurrence (spec.md's Failure Record).
type Record struct {
	Kind      agenterr.Kind
	Message   string
	Tool      string
	Attempt   int
	At        time.Time
	Learning  string
}

// StrikeThreshold is the 3-Strike Protocol's default threshold (spec.md §6.6
// strike_threshold).
const StrikeThreshold = 3

// Observer tracks failure records and per-kind counters for a single
// session, and answers the 3-Strike question deterministically: true at
// exactly the threshold occurrence, not every occurrence after.
type Observer struct {
	mu      sync.Mutex
	records []Record
	counts  map[agenterr.Kind]int
}

// New constructs an empty Observer.
func New() *Observer {
	return &Observer{counts: make(map[agenterr.Kind]int)}
}

// Record classifies and stores a failure, returning the updated record.
func (o *Observer) Record(kind agenterr.Kind, message, tool string, attempt int) Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := Record{Kind: kind, Message: message, Tool: tool, Attempt: attempt, At: time.Now()}
	o.records = append(o.records, r)
	o.counts[kind]++
	return r
}

// Count returns how many times kind has been recorded in this session.
func (o *Observer) Count(kind agenterr.Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[kind]
}

// Recent returns the n most recent records, newest last.
func (o *Observer) Recent(n int) []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n <= 0 || n >= len(o.records) {
		out := make([]Record, len(o.records))
		copy(out, o.records)
		return out
	}
	out := make([]Record, n)
	copy(out, o.records[len(o.records)-n:])
	return out
}

// ShouldStrike reports whether kind has reached exactly StrikeThreshold
// occurrences — the signal to pause and force a plan re-read/reflect cycle
// (spec.md T10's sibling rule for errors, the 3-Strike Protocol).
func (o *Observer) ShouldStrike(kind agenterr.Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[kind] == StrikeThreshold
}

// Reset clears the counter for kind, used once a strike has been acted on
// (plan re-read/reflect cycle triggered) so the rule can fire again for a
// fresh streak of the same kind.
func (o *Observer) Reset(kind agenterr.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[kind] = 0
}

// All returns a snapshot of every recorded failure, in order.
func (o *Observer) All() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Record, len(o.records))
	copy(out, o.records)
	return out
}
