package executor

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"goatomic.dev/runtime/runtime/agent/agenterr"
	"goatomic.dev/runtime/runtime/agent/failure"
	"goatomic.dev/runtime/runtime/agent/model"
	"goatomic.dev/runtime/runtime/agent/plan"
	"goatomic.dev/runtime/runtime/agent/tools"
)

// scriptedStreamer replays a fixed slice of Chunks, then io.EOF.
type scriptedStreamer struct {
	chunks []model.Chunk
	pos    int
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}
func (s *scriptedStreamer) Close() error            { return nil }
func (s *scriptedStreamer) Metadata() map[string]any { return nil }

func textChunk(s string) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeText, Message: &model.Message{Parts: []model.Part{model.TextPart{Text: s}}}}
}

// scriptedClient returns one scriptedStreamer per Stream call, in order.
// Complete stands in for the acceptance verifier's second turn: it returns
// verifyResp/verifyErr when set, or a nil response (read as a pass) otherwise.
type scriptedClient struct {
	turns      [][]model.Chunk
	calls      int
	verifyResp *model.Response
	verifyErr  error
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.verifyResp, c.verifyErr
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	i := c.calls
	c.calls++
	if i >= len(c.turns) {
		return &scriptedStreamer{chunks: []model.Chunk{textChunk("<answer>done</answer>")}}, nil
	}
	return &scriptedStreamer{chunks: c.turns[i]}, nil
}

func newTask() *plan.Task {
	return &plan.Task{ID: "t1", Title: "answer question", AcceptanceCriteria: "correct numeric answer"}
}

func TestExecute_QuickFactualAnswer_NoToolCalls(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{{textChunk("<answer>4</answer>")}}}
	e := New(client, tools.NewRegistry(), failure.New())

	result, err := e.Execute(context.Background(), newTask(), &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, "4", result.Output)
	require.Equal(t, 1, result.Iterations)
}

func TestExecute_TextToolCallThenAnswer(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.ToolSpec{Service: "fs", Toolset: "file", Name: "write"}))
	reg.RegisterHandler("fs.file.write", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return map[string]any{"written": true}, nil
	})

	toolCallTurn := []model.Chunk{textChunk(
		"<reasoning>need to write the file</reasoning>" +
			"<tool_use><tool_name>fs.file.write</tool_name><parameters>{\"path\":\"out.md\"}</parameters></tool_use>",
	)}
	finalTurn := []model.Chunk{textChunk("<answer>wrote the file</answer>")}
	client := &scriptedClient{turns: [][]model.Chunk{toolCallTurn, finalTurn}}

	e := New(client, reg, failure.New())
	result, err := e.Execute(context.Background(), newTask(), &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, "wrote the file", result.Output)
	require.Equal(t, 2, result.Iterations)
}

func TestExecute_UnknownToolRecordedAsFailureAndLoopContinues(t *testing.T) {
	reg := tools.NewRegistry()
	toolCallTurn := []model.Chunk{textChunk(
		"<tool_use><tool_name>ghost.tool.x</tool_name><parameters>{}</parameters></tool_use>",
	)}
	finalTurn := []model.Chunk{textChunk("<answer>recovered</answer>")}
	client := &scriptedClient{turns: [][]model.Chunk{toolCallTurn, finalTurn}}

	obs := failure.New()
	e := New(client, reg, obs)
	result, err := e.Execute(context.Background(), newTask(), &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 1, obs.Count(agenterr.KindToolUnknown))
}

func TestExecute_TimesOutAfterMaxIterations(t *testing.T) {
	client := &scriptedClient{} // every turn falls through to an endless "thinking" loop
	client.turns = [][]model.Chunk{
		{textChunk("still working on it")},
		{textChunk("still working on it")},
		{textChunk("still working on it")},
	}
	e := New(client, tools.NewRegistry(), failure.New())
	e.Config.MaxIterationsPerTask = 3

	result, err := e.Execute(context.Background(), newTask(), &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, result.Status)
	require.Equal(t, agenterr.KindIterationExhausted, result.Error.Kind)
	require.Equal(t, 3, result.Iterations)
}

func TestExecute_ValidatedFailure_WhenVerifierReturnsFail(t *testing.T) {
	client := &scriptedClient{
		turns: [][]model.Chunk{{textChunk("<answer>42</answer>")}},
		verifyResp: &model.Response{Content: []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: "VERDICT:FAIL the answer is not numeric"}},
		}}},
	}
	e := New(client, tools.NewRegistry(), failure.New())

	result, err := e.Execute(context.Background(), newTask(), &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, agenterr.KindAcceptanceUnmet, result.Error.Kind)
	require.Equal(t, "42", result.Output)
}

func TestExecute_SkipsVerificationWhenNoAcceptanceCriteria(t *testing.T) {
	client := &scriptedClient{
		turns: [][]model.Chunk{{textChunk("<answer>done</answer>")}},
		verifyResp: &model.Response{Content: []model.Message{{
			Parts: []model.Part{model.TextPart{Text: "VERDICT:FAIL should never be read"}},
		}}},
	}
	e := New(client, tools.NewRegistry(), failure.New())
	task := &plan.Task{ID: "t1", Title: "no criterion task"}

	result, err := e.Execute(context.Background(), task, &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
}

func TestExecute_VerifierErrorIsFatal(t *testing.T) {
	client := &scriptedClient{
		turns:     [][]model.Chunk{{textChunk("<answer>42</answer>")}},
		verifyErr: agenterr.New(agenterr.KindInternal, "verifier unavailable"),
	}
	e := New(client, tools.NewRegistry(), failure.New())

	result, err := e.Execute(context.Background(), newTask(), &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusFatal, result.Status)
}

func TestExecute_StreamErrorIsFatal(t *testing.T) {
	e := New(&erroringClient{}, tools.NewRegistry(), failure.New())
	result, err := e.Execute(context.Background(), newTask(), &Context{SessionID: "s1"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusFatal, result.Status)
	require.NotNil(t, result.Error)
}

type erroringClient struct{}

func (erroringClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, nil
}
func (erroringClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, agenterr.New(agenterr.KindInternal, "provider unavailable")
}

func TestBuildPrompt_IncludesRecitationAndToolHints(t *testing.T) {
	task := &plan.Task{Title: "T", Description: "D", AcceptanceCriteria: "AC", ToolHints: []string{"web.search.query"}}
	msgs := BuildPrompt(task, "1/3 tasks complete")

	require.Len(t, msgs, 1)
	text := msgs[0].Parts[0].(model.TextPart).Text
	require.Contains(t, text, "Task: T")
	require.Contains(t, text, "AC")
	require.Contains(t, text, "web.search.query")
	require.Contains(t, text, "1/3 tasks complete")
}
