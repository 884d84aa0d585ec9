// Command example wires every runtime component together and drives one
// full run, mirroring the teacher's cmd/demo (registers a stub planner/
// workflow, runs one turn, prints the result) but driving the full run
// orchestrator instead of a single plan/resume pair. buildModelClient picks
// a real Anthropic, OpenAI, or Bedrock adapter when the corresponding
// environment variable is set, wrapped in the adaptive rate limiter
// middleware; with none configured it falls back to a scripted model.Client
// so the demo still runs deterministically offline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"goatomic.dev/runtime/runtime/agent/checkpoint/memstore"
	"goatomic.dev/runtime/runtime/agent/config"
	"goatomic.dev/runtime/runtime/agent/engine/inmem"
	"goatomic.dev/runtime/runtime/agent/executor"
	"goatomic.dev/runtime/runtime/agent/failure"
	"goatomic.dev/runtime/runtime/agent/memory"
	"goatomic.dev/runtime/runtime/agent/model"
	"goatomic.dev/runtime/runtime/agent/model/anthropic"
	"goatomic.dev/runtime/runtime/agent/model/bedrock"
	"goatomic.dev/runtime/runtime/agent/model/middleware"
	"goatomic.dev/runtime/runtime/agent/model/openai"
	"goatomic.dev/runtime/runtime/agent/orchestrator"
	"goatomic.dev/runtime/runtime/agent/planner"
	"goatomic.dev/runtime/runtime/agent/reminder"
	"goatomic.dev/runtime/runtime/agent/router"
	"goatomic.dev/runtime/runtime/agent/scheduler"
	"goatomic.dev/runtime/runtime/agent/stream"
	"goatomic.dev/runtime/runtime/agent/tools"
)

// scriptedClient is a fixed-response model.Client standing in for a real
// provider adapter (C5): its first Complete call (the planner's prompt)
// returns a one-task plan; its Stream calls play back one tool call on the
// task's first turn and the final answer on the next, so the executor's
// loop exercises both a tool round-trip and a termination.
type scriptedClient struct {
	streamCalls int
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	plan := `{"goal":"write a greeting file","tasks":[{"id":"t1","title":"Write greeting.txt","description":"Write a short greeting to greeting.txt","acceptance_criteria":"greeting.txt exists and contains a greeting","tool_hints":["fs.files.write_file"],"dependencies":[]}]}`
	return &model.Response{
		Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: plan}}}},
	}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	c.streamCalls++
	if c.streamCalls == 1 {
		return &scriptedStream{chunks: []model.Chunk{
			{Type: model.ChunkTypeText, Message: &model.Message{Parts: []model.Part{model.TextPart{
				Text: "<tool_use><tool_name>fs.files.write_file</tool_name><parameters>" +
					`{"path":"greeting.txt","content":"hello from the runtime"}` +
					"</parameters></tool_use>",
			}}}},
		}}, nil
	}
	return &scriptedStream{chunks: []model.Chunk{
		{Type: model.ChunkTypeText, Message: &model.Message{Parts: []model.Part{model.TextPart{
			Text: "<answer>Wrote greeting.txt</answer>",
		}}}},
	}}, nil
}

// scriptedStream replays a fixed chunk sequence per Stream call and then
// returns io.EOF. Every Stream call after the first gets the "answer"
// script, so a repeated loop iteration still terminates.
type scriptedStream struct {
	chunks []model.Chunk
	i      int
}

func (s *scriptedStream) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	if s.i >= len(s.chunks) {
		return c, nil
	}
	return c, nil
}
func (s *scriptedStream) Close() error            { return nil }
func (s *scriptedStream) Metadata() map[string]any { return nil }

// buildModelClient selects a real provider adapter when the environment
// identifies one, so the demo can be pointed at an actual model without
// code changes; with none configured it falls back to the scripted client
// that drives the rest of this file deterministically.
func buildModelClient() model.Client {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c, err := anthropic.NewFromAPIKey(key, envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"))
		if err != nil {
			panic(err)
		}
		return c
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c, err := openai.NewFromAPIKey(key, envOr("OPENAI_MODEL", "gpt-5"))
		if err != nil {
			panic(err)
		}
		return c
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
		if err != nil {
			panic(err)
		}
		c, err := bedrock.NewFromConfig(bedrockruntime.NewFromConfig(cfg), envOr("BEDROCK_MODEL", "anthropic.claude-3-5-sonnet-20241022-v2:0"))
		if err != nil {
			panic(err)
		}
		return c
	}
	return &scriptedClient{}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx := context.Background()
	limiter := middleware.NewAdaptiveRateLimiter(60000, 240000)
	client := limiter.Middleware()(buildModelClient())

	reg := tools.NewRegistry()
	_ = reg.Register(tools.ToolSpec{
		Name: "write_file", Service: "fs", Toolset: "files",
		Description: "Writes content to a path inside the session workspace.",
		RiskLevel:   tools.RiskSensitive,
		Payload:     tools.TypeSpec{Schema: json.RawMessage(`{"type":"object","required":["path","content"],"properties":{"path":{"type":"string"},"content":{"type":"string"}}}`)},
	})
	reg.RegisterHandler("fs.files.write_file", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in struct{ Path, Content string }
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return map[string]any{"bytes_written": len(in.Content)}, nil
	})

	pl, err := planner.New(client, reg)
	if err != nil {
		panic(err)
	}
	sched := scheduler.New(scheduler.DefaultRetryPolicy())
	rt := router.New(nil, nil, router.DefaultThresholds())
	obs := failure.New()
	exec := executor.New(client, reg, obs)

	sessionID := "demo-session"
	wm, err := memory.New(os.TempDir()+"/agentcore-example", sessionID)
	if err != nil {
		panic(err)
	}
	rem := reminder.NewEngine()
	eng := inmem.New()
	store := memstore.New()

	sink := stream.NewLineSink(os.Stdout)
	emitter := stream.New(sink, sessionID)

	orch, err := orchestrator.New(sessionID, "demo-workspace", exec, pl, sched, rt, obs, wm, rem, emitter, eng, store, config.Default())
	if err != nil {
		panic(err)
	}

	if err := orch.Run(ctx, "Write a short greeting to a file."); err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
		os.Exit(1)
	}
	_ = sink.Close(ctx)
}
