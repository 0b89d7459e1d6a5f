package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentexec/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Gateway = (*ScriptedModel)(nil)

func TestScriptedModel_GenerateInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewScriptedModel(
		Turn{Text: "first", Usage: core.TokenUsage{Input: 1, Output: 2}},
		Turn{Text: "second"},
	)

	r1, err := m.Generate(ctx, Request{SystemPrompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Text)
	assert.Equal(t, core.TokenUsage{Input: 1, Output: 2}, r1.Usage)

	r2, err := m.Generate(ctx, Request{SystemPrompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Text)

	_, err = m.Generate(ctx, Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "b", reqs[1].SystemPrompt)
}

func TestScriptedModel_RepeatLast(t *testing.T) {
	m := NewScriptedModel(Turn{Text: "again"}).RepeatLast()
	for i := 0; i < 5; i++ {
		r, err := m.Generate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "again", r.Text)
	}
	assert.Equal(t, 5, m.Calls())
}

func TestScriptedModel_TurnError(t *testing.T) {
	boom := errors.New("rate limited")
	m := NewScriptedModel(Turn{Err: boom})
	_, err := m.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
}

func TestScriptedModel_StreamAccumulates(t *testing.T) {
	ctx := context.Background()
	call := &core.ToolCall{Name: "calculator", Params: map[string]any{"expr": "2+2"}}
	m := NewScriptedModel(Turn{Text: "a fairly long reply text", ToolCall: call, Usage: core.TokenUsage{Input: 4, Output: 6}})

	chunks, errs := m.Stream(ctx, Request{})
	var deltas []string
	resp, err := Accumulate(ctx, chunks, errs, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "a fairly long reply text", resp.Text)
	assert.Greater(t, len(deltas), 1)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "calculator", resp.ToolCall.Name)
	assert.Equal(t, core.TokenUsage{Input: 4, Output: 6}, resp.Usage)

	// The scripted call is copied, not shared.
	resp.ToolCall.Params["expr"] = "changed"
	assert.Equal(t, "2+2", call.Params["expr"])
}

func TestScriptedModel_StreamError(t *testing.T) {
	ctx := context.Background()
	m := NewScriptedModel()
	chunks, errs := m.Stream(ctx, Request{})
	_, err := Accumulate(ctx, chunks, errs, nil)
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestAccumulate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chunks := make(chan Chunk)
	errs := make(chan error)
	_, err := Accumulate(ctx, chunks, errs, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
