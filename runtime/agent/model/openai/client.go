// Package openai implements model.Client (C5) over the OpenAI Chat
// Completions API using github.com/openai/openai-go, grounded on the
// pack's OpenAI adapter (relay/common/llm/openai.go in
// basegraphhq-basegraph) for the SDK's request/response shapes, narrowed to
// model's provider-agnostic Request/Response/Part types the way the
// runtime's Anthropic adapter is. Streaming is not implemented: OpenAI
// Chat Completions streaming delivers only text deltas and tool-call
// argument fragments with no native thinking channel, so Stream reports
// model.ErrStreamingUnsupported and callers fall back to Complete, exactly
// as the pack's own OpenAI adapter does.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"goatomic.dev/runtime/runtime/agent/model"
	"goatomic.dev/runtime/runtime/agent/tools"
)

type (
	// ChatClient captures the subset of the openai-go client used by the
	// adapter, so tests can substitute a fake.
	ChatClient interface {
		New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		DefaultModel string
		SmallModel   string
		MaxTokens    int
		Temperature  float64
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat       ChatClient
		defaultMdl string
		smallMdl   string
		maxTok     int
		temp       float64
	}
)

// New builds an OpenAI-backed model client from an injected ChatClient,
// primarily for tests.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{
		chat:       chat,
		defaultMdl: opts.DefaultModel,
		smallMdl:   opts.SmallModel,
		maxTok:     opts.MaxTokens,
		temp:       opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&chatCompletionsAdapter{oc.Chat.Completions}, Options{DefaultModel: defaultModel})
}

// chatCompletionsAdapter narrows *sdk.ChatCompletionService to ChatClient.
type chatCompletionsAdapter struct {
	svc sdk.ChatCompletionService
}

func (a *chatCompletionsAdapter) New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error) {
	return a.svc.New(ctx, params, opts...)
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completions: %w", err)
	}
	return translateResponse(resp)
}

// Stream is unimplemented; see the package doc comment.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		if req.ModelClass == model.ModelClassSmall && c.smallMdl != "" {
			modelID = c.smallMdl
		} else {
			modelID = c.defaultMdl
		}
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(float64(t))
	} else if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, nil
}

func encodeMessages(msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		text := textOf(m.Parts)
		switch m.Role {
		case model.ConversationRoleSystem:
			if text != "" {
				out = append(out, sdk.SystemMessage(text))
			}
		case model.ConversationRoleUser:
			if tr := toolResultOf(m.Parts); tr != nil {
				out = append(out, sdk.ToolMessage(contentString(tr.Content), tr.ToolUseID))
				continue
			}
			out = append(out, sdk.UserMessage(text))
		case model.ConversationRoleAssistant:
			calls := toolUsesOf(m.Parts)
			if len(calls) == 0 {
				out = append(out, sdk.AssistantMessage(text))
				continue
			}
			paramCalls := make([]sdk.ChatCompletionMessageToolCallParam, len(calls))
			for i, tc := range calls {
				args, err := json.Marshal(tc.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool_use %q input: %w", tc.Name, err)
				}
				paramCalls[i] = sdk.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				}
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfAssistant: &sdk.ChatCompletionAssistantMessageParam{
					Content:   sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(text)},
					ToolCalls: paramCalls,
				},
			})
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func textOf(parts []model.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if t, ok := p.(model.TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func toolResultOf(parts []model.Part) *model.ToolResultPart {
	for _, p := range parts {
		if tr, ok := p.(model.ToolResultPart); ok {
			return &tr
		}
	}
	return nil
}

func toolUsesOf(parts []model.Part) []model.ToolUsePart {
	var out []model.ToolUsePart
	for _, p := range parts {
		if tu, ok := p.(model.ToolUsePart); ok {
			out = append(out, tu)
		}
	}
	return out
}

func contentString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		var params shared.FunctionParameters
		if def.InputSchema != nil {
			data, err := json.Marshal(def.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal tool %q schema: %w", def.Name, err)
			}
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, fmt.Errorf("openai: decode tool %q schema: %w", def.Name, err)
			}
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        sanitizeToolName(def.Name),
				Description: sdk.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

// sanitizeToolName mirrors the Anthropic adapter's rule: OpenAI function
// names also reject '.', so the runtime's dotted tool identifiers are
// flattened to their base segment.
func sanitizeToolName(in string) string {
	if idx := strings.LastIndex(in, "."); idx >= 0 && idx+1 < len(in) {
		return in[idx+1:]
	}
	return in
}

func translateResponse(resp *sdk.ChatCompletion) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}
	out := &model.Response{}
	choice := resp.Choices[0]
	if text := choice.Message.Content; text != "" {
		out.Content = append(out.Content, model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: text}},
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			Name:    tools.Ident(tc.Function.Name),
			Payload: json.RawMessage(tc.Function.Arguments),
			ID:      tc.ID,
		})
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	out.StopReason = string(choice.FinishReason)
	return out, nil
}
