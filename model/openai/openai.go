// Package openai provides a model.Gateway backed by the OpenAI Chat
// Completions API, including streaming with usage reporting and native
// function calling.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments).
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
}

// Model wraps the OpenAI Chat Completions API behind model.Gateway.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// NewModel creates a new OpenAI model using the official client. The API key
// falls back to OPENAI_API_KEY.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// buildMessages converts the system prompt and conversation into chat
// messages.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.InputSchema,
			},
		}
	}
	params.Tools = tools
	return params
}

// Generate implements model.Gateway.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	ch0 := resp.Choices[0]
	out := &model.Response{
		Text:         ch0.Message.Content,
		FinishReason: ch0.FinishReason,
		Usage: core.TokenUsage{
			Input:  int(resp.Usage.PromptTokens),
			Output: int(resp.Usage.CompletionTokens),
		},
	}
	if len(ch0.Message.ToolCalls) > 0 {
		tc := ch0.Message.ToolCalls[0]
		out.ToolCall = &core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Params:    decodeArguments(tc.Function.Arguments),
			Reasoning: ch0.Message.Content,
		}
	}
	return out, nil
}

// Stream implements model.Gateway. Tool call deltas are aggregated and the
// first complete call is emitted when the choice finishes; usage arrives in
// the trailing chunk requested through stream_options.include_usage.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		send := func(c model.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		var text strings.Builder
		toolAgg := map[int64]*aggCall{}
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					text.WriteString(ch.Delta.Content)
					if !send(model.Chunk{Type: model.ChunkContentDelta, Text: ch.Delta.Content}) {
						return
					}
				}
				aggregateToolCalls(ch, toolAgg)
				if ch.FinishReason != "" && len(toolAgg) > 0 {
					if tc := firstToolCall(toolAgg, text.String()); tc != nil {
						if !send(model.Chunk{Type: model.ChunkToolUse, ToolCall: tc}) {
							return
						}
					}
					toolAgg = map[int64]*aggCall{}
				}
			}
			if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
				usage := core.TokenUsage{Input: int(ck.Usage.PromptTokens), Output: int(ck.Usage.CompletionTokens)}
				if !send(model.Chunk{Type: model.ChunkTokenUsage, Usage: &usage}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()
	return out, errCh
}

func aggregateToolCalls(ch openai.ChatCompletionChunkChoice, agg map[int64]*aggCall) {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := agg[tc.Index]
		if !ok {
			ac = &aggCall{}
			agg[tc.Index] = ac
		}
		if tc.ID != "" {
			ac.id = tc.ID
		}
		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}
		ac.args += tc.Function.Arguments
	}
}

// firstToolCall returns the lowest-index aggregated call. The reasoning loop
// executes one tool per iteration.
func firstToolCall(agg map[int64]*aggCall, reasoning string) *core.ToolCall {
	idx := make([]int64, 0, len(agg))
	for i := range agg {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	for _, i := range idx {
		ac := agg[i]
		if ac.name == "" {
			continue
		}
		return &core.ToolCall{ID: ac.id, Name: ac.name, Params: decodeArguments(ac.args), Reasoning: reasoning}
	}
	return nil
}

func decodeArguments(raw string) map[string]any {
	params := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return params
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return map[string]any{"input": raw}
	}
	return params
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
