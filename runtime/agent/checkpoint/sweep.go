package checkpoint

import (
	"context"

	"github.com/robfig/cron"
)

// RetentionSweeper periodically re-applies a Policy's MaxCheckpoints bound
// across every known run, catching checkpoints that were saved through a
// path that skipped pruning (e.g. direct restores) or whose run has since
// gone idle.
type RetentionSweeper struct {
	store  Store
	policy Policy
	runIDs func(ctx context.Context) ([]string, error)
}

// NewRetentionSweeper builds a sweeper over store, pruning to policy using
// runIDs to discover which runs currently have retained checkpoints.
func NewRetentionSweeper(store Store, policy Policy, runIDs func(ctx context.Context) ([]string, error)) *RetentionSweeper {
	return &RetentionSweeper{store: store, policy: policy, runIDs: runIDs}
}

// Start schedules the sweep on a robfig/cron expression, whose first field
// is seconds (e.g. "0 0 * * * *" for hourly), and returns the running
// *cron.Cron for the caller to Stop.
func (s *RetentionSweeper) Start(spec string) (*cron.Cron, error) {
	c := cron.New()
	if err := c.AddFunc(spec, s.sweepOnce); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (s *RetentionSweeper) sweepOnce() {
	ctx := context.Background()
	runIDs, err := s.runIDs(ctx)
	if err != nil {
		return
	}
	for _, runID := range runIDs {
		metas, err := s.store.List(ctx, runID)
		if err != nil || len(metas) <= s.policy.MaxCheckpoints {
			continue
		}
		// List returns newest-first; re-saving the newest with the policy
		// applied prunes the stale tail via the same code path Save uses.
		latest, err := s.store.Latest(ctx, runID)
		if err != nil {
			continue
		}
		_, _ = s.store.Save(ctx, latest, s.policy)
	}
}
