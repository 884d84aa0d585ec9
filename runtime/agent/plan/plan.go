// Package plan defines the Task/Plan data model (spec.md §3): an ordered
// DAG of atomic tasks with explicit dependencies, derived progress, and the
// acyclicity/reachability invariants (P1-P3, A1-A2) the scheduler (C7) and
// planner (C8) depend on. Modeled on the original implementation's
// plan_manager.py Task/Plan dataclasses, generalized into a DAG-checked Go
// type rather than the deprecated PlanManager service that wrapped them.
package plan

import (
	"time"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

// Status is the closed set of lifecycle states for a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether s is a status a retry/replan decision will not
// revisit automatically (completed and skipped are monotonic per A2; failed
// may be reset to pending by the scheduler).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Task is the smallest unit the executor (C9) drives to completion in one
// LLM<->tool loop.
type Task struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	ToolHints          []string
	Status             Status
	Dependencies       []string
	RetryCount         int
	MaxRetries         int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	Error              string
}

// DefaultMaxRetries matches the scheduler's (C7) default retry cap.
const DefaultMaxRetries = 3

// CanStart reports whether t may leave pending given the set of task ids
// that are currently completed (A1: a task may leave pending only when
// every dependency is completed).
func (t *Task) CanStart(completed map[string]bool) bool {
	if t.Status != StatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Plan is an ordered, acyclic collection of Tasks plus the root goal and a
// monotonic version bumped on every replace (spec.md's Plan data model).
type Plan struct {
	ID      string
	Goal    string
	Version int
	Tasks   []*Task
}

// Progress is the derived, on-demand view over a Plan (spec.md's "Plan
// Progress" — never stored, always computed).
type Progress struct {
	Total        int
	Completed    int
	Failed       int
	InProgress   int
	Pending      int
	Skipped      int
	Ratio        float64
	NextReadyIDs []string
}

// ByID returns the task with the given id, or nil if not present.
func (p *Plan) ByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Validate checks invariants P1-P3: every dependency resolves within the
// plan (P1), at least one task is immediately startable (P2), and the
// dependency graph is acyclic (P3). It returns a KindPlanValidationFailed
// error describing the first violation found.
func (p *Plan) Validate() error {
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		ids[t.ID] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !ids[dep] {
				return agenterr.Errorf(agenterr.KindPlanValidationFailed,
					"plan: task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	rootFound := false
	for _, t := range p.Tasks {
		if len(t.Dependencies) == 0 {
			rootFound = true
			break
		}
	}
	if !rootFound {
		return agenterr.Errorf(agenterr.KindPlanValidationFailed,
			"plan: no task has empty dependencies; plan is unstartable")
	}
	if cyc := p.findCycle(); cyc != "" {
		return agenterr.Errorf(agenterr.KindPlanValidationFailed,
			"plan: dependency cycle detected at task %q", cyc)
	}
	return nil
}

// findCycle returns the id of a task participating in a dependency cycle,
// or "" if the graph is acyclic. Uses the standard three-color DFS.
func (p *Plan) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Tasks))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		t := p.ByID(id)
		if t != nil {
			for _, dep := range t.Dependencies {
				switch color[dep] {
				case gray:
					return dep
				case white:
					if cyc := visit(dep); cyc != "" {
						return cyc
					}
				}
			}
		}
		color[id] = black
		return ""
	}
	for _, t := range p.Tasks {
		if color[t.ID] == white {
			if cyc := visit(t.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// ComputeProgress derives the Progress view for p, including the next-ready
// frontier in stable plan order.
func (p *Plan) ComputeProgress() Progress {
	completed := make(map[string]bool)
	for _, t := range p.Tasks {
		if t.Status == StatusCompleted {
			completed[t.ID] = true
		}
	}
	prog := Progress{Total: len(p.Tasks)}
	for _, t := range p.Tasks {
		switch t.Status {
		case StatusCompleted:
			prog.Completed++
		case StatusFailed:
			prog.Failed++
		case StatusInProgress:
			prog.InProgress++
		case StatusSkipped:
			prog.Skipped++
		default:
			prog.Pending++
		}
		if t.CanStart(completed) {
			prog.NextReadyIDs = append(prog.NextReadyIDs, t.ID)
		}
	}
	if prog.Total > 0 {
		prog.Ratio = float64(prog.Completed) / float64(prog.Total)
	}
	return prog
}

// IsComplete reports whether every task is completed or skipped.
func (p *Plan) IsComplete() bool {
	for _, t := range p.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Checklist renders the plan's tasks as a markdown checklist body, the
// format persisted to task_plan.md (spec.md §6.3) and used for plan
// recitation (§4.6).
func (p *Plan) Checklist() string {
	var out string
	out += "# " + p.Goal + "\n\n"
	for _, t := range p.Tasks {
		mark := " "
		switch t.Status {
		case StatusCompleted:
			mark = "x"
		case StatusSkipped:
			mark = "-"
		}
		out += renderChecklistItem(mark, t)
	}
	return out
}

func renderChecklistItem(mark string, t *Task) string {
	line := "- [" + mark + "] `" + t.ID + "` " + t.Title + " (" + string(t.Status) + ")\n"
	if len(t.Dependencies) > 0 {
		line += "  depends_on: " + joinComma(t.Dependencies) + "\n"
	}
	if t.Error != "" {
		line += "  error: " + t.Error + "\n"
	}
	return line
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
