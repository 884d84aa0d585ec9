package mongostore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goatomic.dev/runtime/runtime/agent/checkpoint"
	"goatomic.dev/runtime/runtime/agent/statemachine"
)

var (
	testMongoClient    *mongo.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

// setupMongoDB starts a disposable MongoDB container the same way sandbox's
// ContainerInstance starts a tool sandbox, skipping the suite entirely when
// no Docker daemon is reachable rather than failing the whole package.
func setupMongoDB() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	testMongoClient, err = mongo.Connect(options.Client().ApplyURI("mongodb://" + host + ":" + port.Port()))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
	}
}

func getMongoStore(t *testing.T) *Store {
	t.Helper()
	if !mongoSetupDone {
		setupMongoDB()
		mongoSetupDone = true
	}
	if skipMongoTests {
		t.Skip("docker not available, skipping mongostore integration test")
	}
	coll := testMongoClient.Database("agentcore_test").Collection(t.Name())
	require.NoError(t, coll.Drop(context.Background()))
	return New(coll)
}

var mongoSetupDone bool

func TestMongoStore_SaveLatestListClear(t *testing.T) {
	s := getMongoStore(t)
	ctx := context.Background()

	policy := checkpoint.Policy{MaxCheckpoints: 2}
	for i := 1; i <= 3; i++ {
		_, err := s.Save(ctx, checkpoint.Checkpoint{
			Metadata: checkpoint.Metadata{RunID: "run-1", Iteration: i, State: statemachine.Reasoning},
		}, policy)
		require.NoError(t, err)
	}

	latest, err := s.Latest(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 3, latest.Metadata.Iteration)

	list, err := s.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 2, "pruned down to policy.MaxCheckpoints")

	require.NoError(t, s.Clear(ctx, "run-1"))
	_, err = s.Latest(ctx, "run-1")
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestMongoStore_LatestNoCheckpoint(t *testing.T) {
	s := getMongoStore(t)
	_, err := s.Latest(context.Background(), "no-such-run")
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}
