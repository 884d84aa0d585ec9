// Package memstore implements checkpoint.Store entirely in process memory,
// the in-memory counterpart to mongostore used by the worked example and by
// package tests that need a Store without a database fixture.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"goatomic.dev/runtime/runtime/agent/checkpoint"
)

// Store is a checkpoint.Store backed by a per-run slice guarded by a mutex.
type Store struct {
	mu   sync.Mutex
	runs map[string][]checkpoint.Checkpoint
}

// New constructs an empty Store.
func New() *Store {
	return &Store{runs: make(map[string][]checkpoint.Checkpoint)}
}

// Save appends ckpt to runID's history and prunes down to policy.MaxCheckpoints.
func (s *Store) Save(_ context.Context, ckpt checkpoint.Checkpoint, policy checkpoint.Policy) (string, error) {
	if ckpt.Metadata.ID == "" {
		ckpt.Metadata.ID = fmt.Sprintf("ckpt_%s_%d_%d", ckpt.Metadata.RunID, ckpt.Metadata.Iteration, time.Now().UnixNano())
	}
	ckpt.Metadata.SuccessRate = checkpoint.SuccessRate(ckpt.FailureHistory)

	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.runs[ckpt.Metadata.RunID], ckpt)
	sort.Slice(list, func(i, j int) bool { return list[i].Metadata.Iteration > list[j].Metadata.Iteration })
	if policy.MaxCheckpoints > 0 && len(list) > policy.MaxCheckpoints {
		list = list[:policy.MaxCheckpoints]
	}
	s.runs[ckpt.Metadata.RunID] = list
	return ckpt.Metadata.ID, nil
}

// Latest returns the checkpoint with the highest iteration for runID.
func (s *Store) Latest(_ context.Context, runID string) (checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.runs[runID]
	if len(list) == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrNoCheckpoint
	}
	return list[0], nil
}

// List returns metadata for every retained checkpoint of runID, newest first.
func (s *Store) List(_ context.Context, runID string) ([]checkpoint.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.runs[runID]
	out := make([]checkpoint.Metadata, len(list))
	for i, c := range list {
		out[i] = c.Metadata
	}
	return out, nil
}

// Clear deletes every checkpoint for runID.
func (s *Store) Clear(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}
