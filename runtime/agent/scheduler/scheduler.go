// Package scheduler implements the Task Scheduler (C7): it owns the current
// Plan, exposes the ready-task frontier, records start/complete/fail, and
// applies the deterministic retry policy (spec.md §4.3), generalizing the
// original implementation's get_next_tasks/update_task_status pair
// (plan_manager.py) into a dedicated component the way the newer
// architecture (referenced, not retrieved, from planning_engine.py's
// TaskScheduler import) separates scheduling from plan generation.
package scheduler

import (
	"sync"
	"time"

	"goatomic.dev/runtime/runtime/agent/agenterr"
	"goatomic.dev/runtime/runtime/agent/plan"
)

// Decision is the outcome of Fail's retry-policy consultation.
type Decision string

const (
	DecisionRetry  Decision = "retry"
	DecisionReplan Decision = "replan"
	DecisionAbort  Decision = "abort"
)

// RetryPolicy configures the deterministic retry/replan/abort decision
// (spec.md §4.3). Defaults mirror the spec's documented defaults.
type RetryPolicy struct {
	// MaxRetriesPerTask caps per-task retry attempts before a replan is
	// considered. Used only when a task does not carry its own MaxRetries.
	MaxRetriesPerTask int
	// MaxReplansPerSession caps how many times this scheduler's session may
	// replan before it gives up and aborts (the "repeat replan cycles on the
	// same failing task are capped to prevent livelock" liveness guarantee).
	MaxReplansPerSession int
}

// DefaultRetryPolicy matches spec.md §4.3's defaults (retry cap 3, replan cap 2).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetriesPerTask: plan.DefaultMaxRetries, MaxReplansPerSession: 2}
}

// Scheduler maintains a Plan's task statuses, timestamps and retry counts,
// and mediates every state change a run applies to it. Not safe without its
// own lock: a single Scheduler may be driven by concurrent observers
// (orchestrator + telemetry), so every operation is internally serialized.
type Scheduler struct {
	mu          sync.Mutex
	policy      RetryPolicy
	plan        *plan.Plan
	replanCount int
}

// New constructs a Scheduler with the given retry policy. Call Load before
// any other operation.
func New(policy RetryPolicy) *Scheduler {
	return &Scheduler{policy: policy}
}

// Load replaces the current plan, failing if it violates P1-P3.
func (s *Scheduler) Load(p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
	return nil
}

// Plan returns the currently loaded plan.
func (s *Scheduler) Plan() *plan.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Ready returns the set of pending tasks whose dependencies are all
// completed, in original plan order (T5: every dependency of a ready task
// is completed).
func (s *Scheduler) Ready() []*plan.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return nil
	}
	completed := make(map[string]bool)
	for _, t := range s.plan.Tasks {
		if t.Status == plan.StatusCompleted {
			completed[t.ID] = true
		}
	}
	var out []*plan.Task
	for _, t := range s.plan.Tasks {
		if t.CanStart(completed) {
			out = append(out, t)
		}
	}
	return out
}

// Start transitions taskID from pending to in_progress. It requires the
// task to currently be in the ready set.
func (s *Scheduler) Start(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(taskID)
	if err != nil {
		return err
	}
	if !s.readyLocked(t) {
		return agenterr.Errorf(agenterr.KindInternal, "scheduler: task %q is not ready to start", taskID)
	}
	t.Status = plan.StatusInProgress
	now := time.Now()
	t.StartedAt = &now
	return nil
}

func (s *Scheduler) readyLocked(t *plan.Task) bool {
	completed := make(map[string]bool)
	for _, other := range s.plan.Tasks {
		if other.Status == plan.StatusCompleted {
			completed[other.ID] = true
		}
	}
	return t.CanStart(completed)
}

// Complete transitions taskID from in_progress to completed and records
// CompletedAt, which with the StartedAt set by Start gives the task's
// duration. outputSummary is accepted but not stored.
func (s *Scheduler) Complete(taskID, outputSummary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(taskID)
	if err != nil {
		return err
	}
	if t.Status != plan.StatusInProgress {
		return agenterr.Errorf(agenterr.KindInternal, "scheduler: task %q is not in_progress", taskID)
	}
	t.Status = plan.StatusCompleted
	now := time.Now()
	t.CompletedAt = &now
	_ = outputSummary
	return nil
}

// Fail transitions taskID from in_progress to failed, increments its retry
// count, and returns the retry-policy decision: retry (task is reset to
// pending), replan, or abort.
func (s *Scheduler) Fail(taskID, errMsg string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mustTask(taskID)
	if err != nil {
		return "", err
	}
	if t.Status != plan.StatusInProgress {
		return "", agenterr.Errorf(agenterr.KindInternal, "scheduler: task %q is not in_progress", taskID)
	}
	t.Status = plan.StatusFailed
	t.Error = errMsg
	t.RetryCount++

	retryCap := t.MaxRetries
	if retryCap == 0 {
		retryCap = s.policy.MaxRetriesPerTask
	}
	if t.RetryCount < retryCap {
		t.Status = plan.StatusPending
		t.StartedAt = nil
		return DecisionRetry, nil
	}
	if s.replanCount < s.policy.MaxReplansPerSession {
		s.replanCount++
		return DecisionReplan, nil
	}
	return DecisionAbort, nil
}

// IsComplete reports whether every task is completed or skipped (T7).
func (s *Scheduler) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return false
	}
	return s.plan.IsComplete()
}

// IsBlocked reports whether no task is in progress, no task is ready, and
// the plan is not complete — the scheduler cannot make progress without
// intervention (replan or abort).
func (s *Scheduler) IsBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil || s.plan.IsComplete() {
		return false
	}
	for _, t := range s.plan.Tasks {
		if t.Status == plan.StatusInProgress {
			return false
		}
	}
	completed := make(map[string]bool)
	for _, t := range s.plan.Tasks {
		if t.Status == plan.StatusCompleted {
			completed[t.ID] = true
		}
	}
	for _, t := range s.plan.Tasks {
		if t.CanStart(completed) {
			return false
		}
	}
	return true
}

// Progress returns the derived progress view over the current plan.
func (s *Scheduler) Progress() plan.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return plan.Progress{}
	}
	return s.plan.ComputeProgress()
}

// ReplacePlan atomically swaps in newPlan, preserving the status of any task
// whose id is stable across the swap (the replan contract: completed tasks
// are preserved by id).
func (s *Scheduler) ReplacePlan(newPlan *plan.Plan) error {
	if err := newPlan.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan != nil {
		old := make(map[string]*plan.Task, len(s.plan.Tasks))
		for _, t := range s.plan.Tasks {
			old[t.ID] = t
		}
		for _, t := range newPlan.Tasks {
			if prior, ok := old[t.ID]; ok && prior.Status.Terminal() {
				t.Status = prior.Status
				t.CompletedAt = prior.CompletedAt
				t.StartedAt = prior.StartedAt
			}
		}
		newPlan.Version = s.plan.Version + 1
	}
	s.plan = newPlan
	return nil
}

func (s *Scheduler) mustTask(id string) (*plan.Task, error) {
	if s.plan == nil {
		return nil, agenterr.Errorf(agenterr.KindInternal, "scheduler: no plan loaded")
	}
	t := s.plan.ByID(id)
	if t == nil {
		return nil, agenterr.Errorf(agenterr.KindInternal, "scheduler: unknown task %q", id)
	}
	return t, nil
}
