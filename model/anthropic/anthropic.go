// Package anthropic provides a model.Gateway for the Anthropic Messages API,
// including streaming and native tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/model"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = anthropic.Model("claude-sonnet-4-20250514")

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind model.Gateway.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       DefaultModel,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client. The API
// key falls back to ANTHROPIC_API_KEY.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// Generate implements model.Gateway.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	resp, err := m.client.Messages.New(ctx, m.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	out := &model.Response{
		Usage: core.TokenUsage{
			Input:  int(resp.Usage.InputTokens),
			Output: int(resp.Usage.OutputTokens),
		},
		FinishReason: "stop",
	}
	if resp.StopReason != "" {
		out.FinishReason = string(resp.StopReason)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			if out.ToolCall != nil {
				continue
			}
			tu := block.AsToolUse()
			raw, _ := json.Marshal(tu.Input)
			out.ToolCall = &core.ToolCall{ID: tu.ID, Name: tu.Name, Params: decodeParams(string(raw))}
		}
	}
	out.Text = text.String()
	if out.ToolCall != nil {
		out.ToolCall.Reasoning = out.Text
	}
	return out, nil
}

// Stream implements model.Gateway. Text deltas are forwarded as they arrive;
// a tool_use block is emitted once its input JSON is complete; usage is sent
// on message_stop.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		stream := m.client.Messages.NewStreaming(ctx, m.buildParams(req))
		defer stream.Close()

		var (
			usage     core.TokenUsage
			text      strings.Builder
			toolCall  *core.ToolCall
			toolInput strings.Builder
			emitted   bool
		)
		send := func(c model.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				usage.Input = int(event.AsMessageStart().Message.Usage.InputTokens)
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" && !emitted {
					tu := block.AsToolUse()
					toolCall = &core.ToolCall{ID: tu.ID, Name: tu.Name}
					toolInput.Reset()
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text == "" {
						continue
					}
					text.WriteString(delta.Text)
					if !send(model.Chunk{Type: model.ChunkContentDelta, Text: delta.Text}) {
						return
					}
				case "input_json_delta":
					if toolCall != nil {
						toolInput.WriteString(delta.PartialJSON)
					}
				}
			case "content_block_stop":
				if toolCall != nil {
					toolCall.Params = decodeParams(toolInput.String())
					toolCall.Reasoning = text.String()
					if !send(model.Chunk{Type: model.ChunkToolUse, ToolCall: toolCall}) {
						return
					}
					toolCall = nil
					emitted = true
				}
			case "message_delta":
				if n := event.AsMessageDelta().Usage.OutputTokens; n > 0 {
					usage.Output = int(n)
				}
			case "message_stop":
				u := usage
				send(model.Chunk{Type: model.ChunkTokenUsage, Usage: &u})
				return
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		}
	}()
	return out, errCh
}

// buildMessages converts conversation turns to Anthropic message params.
// System turns are folded into user turns; the system prompt travels in
// MessageNewParams.System.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return messages
}

// buildTools converts tool descriptors to Anthropic tool params.
func buildTools(tools []core.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.InputSchema != nil {
			if properties, ok := tool.InputSchema["properties"]; ok {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(tool.InputSchema["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if out[i].OfTool != nil && tool.Description != "" {
			out[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func decodeParams(raw string) map[string]any {
	params := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return params
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return map[string]any{"input": raw}
	}
	return params
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
