// Package checkpoint implements the Checkpoint Store (C2): durable,
// periodic snapshots of a run's recoverable state, modeled on the original
// implementation's CheckpointManager (backend/app/agent/checkpoint/manager.py) —
// save every N iterations, retain the most recent K, and roll back to the
// latest on failure.
package checkpoint

import (
	"context"
	"time"

	"goatomic.dev/runtime/runtime/agent/statemachine"
)

// Metadata describes a single checkpoint without its bulk payload, used for
// listing and for deciding whether a rollback target exists.
type Metadata struct {
	ID             string
	RunID          string
	Iteration      int
	TakenAt        time.Time
	ElapsedSeconds float64
	TokenUsage     map[string]int
	State          statemachine.State
	ContextSize    int
	ToolsExecuted  int
	SuccessRate    float64
}

// Checkpoint is a full snapshot of a run's recoverable state: its context
// message history, the three working-memory documents, the failure
// history, and opaque routing state, sufficient to resume a run without
// recomputation.
type Checkpoint struct {
	Metadata        Metadata
	ContextMessages []map[string]any
	TaskPlan        string
	Findings        string
	Progress        string
	FailureHistory  []map[string]any
	RoutingState    map[string]any
}

// Policy controls when checkpoints are taken and how many are retained.
type Policy struct {
	// SaveInterval checkpoints every SaveInterval iterations (0 disables
	// interval-based saves; callers may still call Save explicitly).
	SaveInterval int
	// MaxCheckpoints bounds how many checkpoints are retained per run;
	// older ones are pruned on save.
	MaxCheckpoints int
}

// DefaultPolicy matches the original implementation's defaults: a checkpoint
// every 5 iterations, keeping the 3 most recent.
func DefaultPolicy() Policy { return Policy{SaveInterval: 5, MaxCheckpoints: 3} }

// ShouldSave reports whether iteration is a checkpoint boundary under p.
func (p Policy) ShouldSave(iteration int) bool {
	return p.SaveInterval > 0 && iteration > 0 && iteration%p.SaveInterval == 0
}

// Store persists and retrieves checkpoints for a run. Implementations must
// prune to Policy.MaxCheckpoints on Save and must be safe for concurrent use
// across runs (not necessarily within a single run, which is serialized by
// the run orchestrator).
type Store interface {
	// Save persists ckpt, pruning older checkpoints for the same RunID down
	// to policy.MaxCheckpoints, and returns the assigned checkpoint ID.
	Save(ctx context.Context, ckpt Checkpoint, policy Policy) (string, error)
	// Latest returns the most recently saved checkpoint for runID, or
	// ErrNoCheckpoint if none exists.
	Latest(ctx context.Context, runID string) (Checkpoint, error)
	// List returns metadata for every retained checkpoint of runID, newest first.
	List(ctx context.Context, runID string) ([]Metadata, error)
	// Clear deletes every checkpoint for runID.
	Clear(ctx context.Context, runID string) error
}

// ErrNoCheckpoint is returned by Store.Latest when a run has no checkpoints.
var ErrNoCheckpoint = noCheckpointErr{}

type noCheckpointErr struct{}

func (noCheckpointErr) Error() string { return "checkpoint: no checkpoint available" }

// SuccessRate computes the success_rate metadata field the way the original
// implementation does: successes over total tool executions, with a floor
// of 1 total so an empty history yields 0 rather than a division by zero.
func SuccessRate(failureHistory []map[string]any) float64 {
	total := len(failureHistory)
	if total == 0 {
		return 0
	}
	success := 0
	for _, f := range failureHistory {
		if isFailure, _ := f["is_failure"].(bool); !isFailure {
			success++
		}
	}
	return float64(success) / float64(total)
}
