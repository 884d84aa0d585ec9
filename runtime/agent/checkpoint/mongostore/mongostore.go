// Package mongostore implements checkpoint.Store on top of MongoDB,
// providing the durability layer the in-memory original implementation
// left to a local filesystem (backend/app/agent/checkpoint/manager.py wrote
// one JSON file per checkpoint under a "checkpoints/" directory). Here each
// checkpoint is a document in a single collection keyed by run ID and
// iteration, letting a sort-by-iteration-descending query stand in for the
// original's "list files, sort by filename timestamp" scan.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goatomic.dev/runtime/runtime/agent/checkpoint"
	"goatomic.dev/runtime/runtime/agent/statemachine"
)

// Store is a checkpoint.Store backed by a MongoDB collection.
type Store struct {
	coll *mongo.Collection
}

// New wraps an existing *mongo.Collection. Callers are responsible for
// connecting the client and, ideally, creating a compound index on
// {run_id: 1, iteration: -1} for efficient Latest/List queries.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

type document struct {
	ID              string             `bson:"_id"`
	RunID           string             `bson:"run_id"`
	Iteration       int                `bson:"iteration"`
	TakenAt         time.Time          `bson:"taken_at"`
	ElapsedSeconds  float64            `bson:"elapsed_seconds"`
	TokenUsage      map[string]int     `bson:"token_usage"`
	State           string             `bson:"state"`
	ContextSize     int                `bson:"context_size"`
	ToolsExecuted   int                `bson:"tools_executed"`
	SuccessRate     float64            `bson:"success_rate"`
	ContextMessages []map[string]any   `bson:"context_messages"`
	TaskPlan        string             `bson:"task_plan"`
	Findings        string             `bson:"findings"`
	Progress        string             `bson:"progress"`
	FailureHistory  []map[string]any   `bson:"failure_history"`
	RoutingState    map[string]any     `bson:"routing_state"`
}

func toDocument(ckpt checkpoint.Checkpoint) document {
	m := ckpt.Metadata
	return document{
		ID:              m.ID,
		RunID:           m.RunID,
		Iteration:       m.Iteration,
		TakenAt:         m.TakenAt,
		ElapsedSeconds:  m.ElapsedSeconds,
		TokenUsage:      m.TokenUsage,
		State:           string(m.State),
		ContextSize:     m.ContextSize,
		ToolsExecuted:   m.ToolsExecuted,
		SuccessRate:     m.SuccessRate,
		ContextMessages: ckpt.ContextMessages,
		TaskPlan:        ckpt.TaskPlan,
		Findings:        ckpt.Findings,
		Progress:        ckpt.Progress,
		FailureHistory:  ckpt.FailureHistory,
		RoutingState:    ckpt.RoutingState,
	}
}

func fromDocument(d document) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		Metadata: checkpoint.Metadata{
			ID:             d.ID,
			RunID:          d.RunID,
			Iteration:      d.Iteration,
			TakenAt:        d.TakenAt,
			ElapsedSeconds: d.ElapsedSeconds,
			TokenUsage:     d.TokenUsage,
			State:          statemachine.State(d.State),
			ContextSize:    d.ContextSize,
			ToolsExecuted:  d.ToolsExecuted,
			SuccessRate:    d.SuccessRate,
		},
		ContextMessages: d.ContextMessages,
		TaskPlan:        d.TaskPlan,
		Findings:        d.Findings,
		Progress:        d.Progress,
		FailureHistory:  d.FailureHistory,
		RoutingState:    d.RoutingState,
	}
}

// Save persists ckpt and prunes older checkpoints for the same run down to
// policy.MaxCheckpoints, mirroring the original's "insert at head, then
// trim the in-memory list and delete the trimmed files" sequence.
func (s *Store) Save(ctx context.Context, ckpt checkpoint.Checkpoint, policy checkpoint.Policy) (string, error) {
	if ckpt.Metadata.ID == "" {
		ckpt.Metadata.ID = fmt.Sprintf("ckpt_%s_%d_%d", ckpt.Metadata.RunID, ckpt.Metadata.Iteration, time.Now().UnixNano())
	}
	ckpt.Metadata.SuccessRate = checkpoint.SuccessRate(ckpt.FailureHistory)

	doc := toDocument(ckpt)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("mongostore: save checkpoint: %w", err)
	}

	if policy.MaxCheckpoints > 0 {
		if err := s.prune(ctx, ckpt.Metadata.RunID, policy.MaxCheckpoints); err != nil {
			return ckpt.Metadata.ID, err
		}
	}
	return ckpt.Metadata.ID, nil
}

func (s *Store) prune(ctx context.Context, runID string, keep int) error {
	cur, err := s.coll.Find(ctx, bson.M{"run_id": runID},
		options.Find().SetSort(bson.D{{Key: "iteration", Value: -1}}).SetProjection(bson.M{"_id": 1}).SetSkip(int64(keep)))
	if err != nil {
		return fmt.Errorf("mongostore: prune query: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var d struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("mongostore: decode prune candidate: %w", err)
		}
		ids = append(ids, d.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("mongostore: prune delete: %w", err)
	}
	return nil
}

// Latest returns the checkpoint with the highest iteration for runID.
func (s *Store) Latest(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	var d document
	err := s.coll.FindOne(ctx, bson.M{"run_id": runID},
		options.FindOne().SetSort(bson.D{{Key: "iteration", Value: -1}})).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return checkpoint.Checkpoint{}, checkpoint.ErrNoCheckpoint
	}
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("mongostore: latest: %w", err)
	}
	return fromDocument(d), nil
}

// List returns metadata for every retained checkpoint of runID, newest first.
func (s *Store) List(ctx context.Context, runID string) ([]checkpoint.Metadata, error) {
	cur, err := s.coll.Find(ctx, bson.M{"run_id": runID}, options.Find().SetSort(bson.D{{Key: "iteration", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: list: %w", err)
	}
	defer cur.Close(ctx)

	var out []checkpoint.Metadata
	for cur.Next(ctx) {
		var d document
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongostore: list decode: %w", err)
		}
		out = append(out, fromDocument(d).Metadata)
	}
	return out, cur.Err()
}

// Clear deletes every checkpoint for runID.
func (s *Store) Clear(ctx context.Context, runID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"run_id": runID}); err != nil {
		return fmt.Errorf("mongostore: clear: %w", err)
	}
	return nil
}
