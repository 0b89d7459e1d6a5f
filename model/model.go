package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/agentexec/core"
)

// Request is the normalized gateway input: a system prompt, the working
// conversation and the tools the model may request.
type Request struct {
	SystemPrompt string                `json:"systemPrompt"`
	Messages     []core.Message        `json:"messages"`
	Tools        []core.ToolDescriptor `json:"tools,omitempty"`
}

// Response is a complete model turn. ToolCall is set when the provider
// returned a native (typed) tool call.
type Response struct {
	Text         string          `json:"text"`
	ToolCall     *core.ToolCall  `json:"toolCall,omitempty"`
	Usage        core.TokenUsage `json:"usage"`
	FinishReason string          `json:"finishReason,omitempty"`
}

// ChunkType tags a streaming chunk.
type ChunkType string

const (
	// ChunkContentDelta carries a piece of generated text.
	ChunkContentDelta ChunkType = "content_delta"
	// ChunkToolUse carries a complete native tool call.
	ChunkToolUse ChunkType = "tool_use"
	// ChunkTokenUsage carries token counts for the turn.
	ChunkTokenUsage ChunkType = "token_usage"
)

// Chunk is one element of a streamed model turn.
type Chunk struct {
	Type     ChunkType        `json:"type"`
	Text     string           `json:"text,omitempty"`
	ToolCall *core.ToolCall   `json:"toolCall,omitempty"`
	Usage    *core.TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a gateway implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted"
	SupportsTools bool   `json:"supports_tools"`
}

// Gateway is the language model collaborator driven by the reasoning loop.
type Gateway interface {
	// Generate returns one complete turn.
	Generate(ctx context.Context, req Request) (*Response, error)
	// Stream yields the turn as ordered chunks. Both channels are closed when
	// the turn ends; at most one error is sent.
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
	// Info describes the implementation.
	Info() Info
}

// Accumulate drains a stream into a Response, calling onDelta for every
// content delta as it arrives. onDelta may be nil.
func Accumulate(ctx context.Context, chunks <-chan Chunk, errs <-chan error, onDelta func(string)) (*Response, error) {
	var (
		text strings.Builder
		resp Response
	)
	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ck, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			switch ck.Type {
			case ChunkContentDelta:
				text.WriteString(ck.Text)
				if onDelta != nil && ck.Text != "" {
					onDelta(ck.Text)
				}
			case ChunkToolUse:
				resp.ToolCall = ck.ToolCall
			case ChunkTokenUsage:
				if ck.Usage != nil {
					resp.Usage = resp.Usage.Add(*ck.Usage)
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	resp.Text = text.String()
	return &resp, nil
}

// ErrScriptExhausted is returned by ScriptedModel when no turns remain.
var ErrScriptExhausted = errors.New("scripted model: no turns left")

// Turn is one scripted model reply.
type Turn struct {
	Text     string
	ToolCall *core.ToolCall
	Usage    core.TokenUsage
	Err      error
}

// ScriptedModel is a deterministic in-memory Gateway for tests, examples and
// offline runs. Each call consumes the next Turn; when RepeatLast is set the
// final turn is replayed forever.
type ScriptedModel struct {
	mu         sync.Mutex
	turns      []Turn
	next       int
	requests   []Request
	repeatLast bool
	chunkSize  int
}

// NewScriptedModel creates a gateway replaying turns in order.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{turns: turns, chunkSize: 8}
}

// RepeatLast makes the final turn repeat once the script is exhausted.
func (m *ScriptedModel) RepeatLast() *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeatLast = true
	return m
}

// Requests returns a copy of every request received.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns how many requests were received.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *ScriptedModel) take(req Request) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.next < len(m.turns) {
		t := m.turns[m.next]
		m.next++
		return t, nil
	}
	if m.repeatLast && len(m.turns) > 0 {
		return m.turns[len(m.turns)-1], nil
	}
	return Turn{}, ErrScriptExhausted
}

// Generate implements Gateway.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := m.take(req)
	if err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}
	return &Response{Text: t.Text, ToolCall: cloneToolCall(t.ToolCall), Usage: t.Usage, FinishReason: "stop"}, nil
}

// Stream implements Gateway by splitting the turn text into fixed-size
// content deltas followed by the tool call and usage chunks.
func (m *ScriptedModel) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		t, err := m.take(req)
		if err == nil {
			err = t.Err
		}
		if err != nil {
			errCh <- err
			return
		}
		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}
		runes := []rune(t.Text)
		for i := 0; i < len(runes); i += m.chunkSize {
			end := min(i+m.chunkSize, len(runes))
			if !send(Chunk{Type: ChunkContentDelta, Text: string(runes[i:end])}) {
				return
			}
		}
		if t.ToolCall != nil {
			if !send(Chunk{Type: ChunkToolUse, ToolCall: cloneToolCall(t.ToolCall)}) {
				return
			}
		}
		usage := t.Usage
		send(Chunk{Type: ChunkTokenUsage, Usage: &usage})
	}()
	return out, errCh
}

// Info implements Gateway.
func (m *ScriptedModel) Info() Info {
	return Info{Name: "scripted", Provider: "scripted", SupportsTools: true}
}

func cloneToolCall(tc *core.ToolCall) *core.ToolCall {
	if tc == nil {
		return nil
	}
	c := *tc
	if tc.Params != nil {
		c.Params = make(map[string]any, len(tc.Params))
		for k, v := range tc.Params {
			c.Params[k] = v
		}
	}
	return &c
}
