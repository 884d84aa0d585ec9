package orchestrator

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"goatomic.dev/runtime/runtime/agent/config"
	"goatomic.dev/runtime/runtime/agent/executor"
	"goatomic.dev/runtime/runtime/agent/failure"
	"goatomic.dev/runtime/runtime/agent/memory"
	"goatomic.dev/runtime/runtime/agent/model"
	"goatomic.dev/runtime/runtime/agent/planner"
	"goatomic.dev/runtime/runtime/agent/reminder"
	"goatomic.dev/runtime/runtime/agent/router"
	"goatomic.dev/runtime/runtime/agent/scheduler"
	"goatomic.dev/runtime/runtime/agent/stream"
	"goatomic.dev/runtime/runtime/agent/tools"
)

// scriptedStreamer replays fixed text, then io.EOF.
type scriptedStreamer struct {
	text string
	sent bool
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.sent {
		return model.Chunk{}, io.EOF
	}
	s.sent = true
	return model.Chunk{Type: model.ChunkTypeText, Message: &model.Message{Parts: []model.Part{model.TextPart{Text: s.text}}}}, nil
}
func (s *scriptedStreamer) Close() error            { return nil }
func (s *scriptedStreamer) Metadata() map[string]any { return nil }

// planningClient answers every Complete call (the planner's, and the
// executor's acceptance check) with the single-task plan JSON and every
// Stream call with the final answer; it never inspects the request.
type planningClient struct {
	planJSON   string
	answerText string
}

func (c *planningClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{Content: []model.Message{
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: c.planJSON}}},
	}}, nil
}

func (c *planningClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return &scriptedStreamer{text: c.answerText}, nil
}

func buildOrchestrator(t *testing.T, client model.Client) (*Orchestrator, *stream.ChannelSink) {
	t.Helper()
	reg := tools.NewRegistry()

	exec := executor.New(client, reg, failure.New())
	pl, err := planner.New(client, reg)
	require.NoError(t, err)

	sched := scheduler.New(scheduler.DefaultRetryPolicy())
	rt := router.New(nil, nil, router.DefaultThresholds())
	obs := failure.New()
	wm, err := memory.New(t.TempDir(), "session-1")
	require.NoError(t, err)
	rem := reminder.NewEngine()

	sink := stream.NewChannelSink(64)
	emitter := stream.New(sink, "session-1")

	o, err := New("session-1", "workspace-1", exec, pl, sched, rt, obs, wm, rem, emitter, nil, nil, config.Default())
	require.NoError(t, err)
	return o, sink
}

func drainEvents(sink *stream.ChannelSink) []stream.Event {
	var events []stream.Event
	for {
		select {
		case e := <-sink.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestRun_QuickFactualAnswer(t *testing.T) {
	const planJSON = `{"goal":"What is 2 + 2?","tasks":[{"id":"t1","title":"answer the question","description":"compute 2+2","acceptance_criteria":"states 4","dependencies":[]}]}`
	client := &planningClient{planJSON: planJSON, answerText: "<answer>4</answer>"}
	o, sink := buildOrchestrator(t, client)

	err := o.Run(context.Background(), "What is 2 + 2?")
	require.NoError(t, err)

	events := drainEvents(sink)
	require.NotEmpty(t, events)

	var sawPlanCreated, sawTaskComplete bool
	last := events[len(events)-1]
	for _, e := range events {
		switch e.Type {
		case stream.TypePlanCreated:
			sawPlanCreated = true
		case stream.TypeTaskComplete:
			sawTaskComplete = true
		}
	}
	require.True(t, sawPlanCreated)
	require.True(t, sawTaskComplete)
	require.Equal(t, stream.TypeDone, last.Type)
	require.Equal(t, string(stream.DoneSuccess), last.Data["status"])
}

func TestRun_PlanFailureEndsInDoneFailed(t *testing.T) {
	client := &planningClient{planJSON: "not a json plan at all, and never will be", answerText: "<answer>n/a</answer>"}
	o, sink := buildOrchestrator(t, client)

	err := o.Run(context.Background(), "impossible goal")
	require.NoError(t, err)

	events := drainEvents(sink)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, stream.TypeDone, last.Type)
	require.Equal(t, string(stream.DoneFailed), last.Data["status"])
}
