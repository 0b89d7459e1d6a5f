package engine

import (
	"testing"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONObjectParser(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantOK    bool
		wantTool  string
		wantArgs  map[string]any
		reasoning string
	}{
		{
			name:     "bare object",
			text:     `{"tool": "calculator", "params": {"expr": "2+2"}}`,
			wantOK:   true,
			wantTool: "calculator",
			wantArgs: map[string]any{"expr": "2+2"},
		},
		{
			name:      "object after prose",
			text:      "I will compute this.\n{\"tool\":\"calculator\",\"params\":{\"expr\":\"1+1\"}}\nthanks",
			wantOK:    true,
			wantTool:  "calculator",
			wantArgs:  map[string]any{"expr": "1+1"},
			reasoning: "I will compute this.",
		},
		{
			name:     "braces inside strings",
			text:     `{"tool": "web_search", "params": {"query": "what is {x}?"}}`,
			wantOK:   true,
			wantTool: "web_search",
			wantArgs: map[string]any{"query": "what is {x}?"},
		},
		{
			name:     "skips unrelated objects",
			text:      `config {"a": 1} then {"tool": "current_time", "params": {}}`,
			wantOK:    true,
			wantTool:  "current_time",
			wantArgs:  map[string]any{},
			reasoning: `config {"a": 1} then`,
		},
		{
			name:     "nested inner object is found",
			text:      `{"wrapper": {"tool": "calculator", "params": {"expr": "3"}}}`,
			wantOK:    true,
			wantTool:  "calculator",
			wantArgs:  map[string]any{"expr": "3"},
			reasoning: `{"wrapper":`,
		},
		{name: "plain answer", text: "The answer is 4."},
		{name: "missing params", text: `{"tool": "calculator"}`},
		{name: "params not an object", text: `{"tool": "calculator", "params": "2+2"}`},
		{name: "empty tool name", text: `{"tool": "", "params": {}}`},
		{name: "unbalanced", text: `{"tool": "calculator", "params": {"expr": "2+2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := JSONObjectParser{}.ParseToolCall(&model.Response{Text: tt.text})
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Nil(t, call)
				return
			}
			assert.Equal(t, tt.wantTool, call.Name)
			assert.Equal(t, tt.wantArgs, call.Params)
			assert.Equal(t, tt.reasoning, call.Reasoning)
		})
	}
}

func TestJSONObjectParser_Nil(t *testing.T) {
	_, ok := JSONObjectParser{}.ParseToolCall(nil)
	assert.False(t, ok)
}

func TestNativeParser(t *testing.T) {
	_, ok := NativeParser{}.ParseToolCall(&model.Response{Text: `{"tool": "x", "params": {}}`})
	assert.False(t, ok)

	call, ok := NativeParser{}.ParseToolCall(&model.Response{
		Text:     " thinking ",
		ToolCall: &core.ToolCall{ID: "call_1", Name: "calculator"},
	})
	require.True(t, ok)
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, map[string]any{}, call.Params)
	assert.Equal(t, "thinking", call.Reasoning)
}

func TestChainParser(t *testing.T) {
	p, err := ParserByName("chain")
	require.NoError(t, err)

	call, ok := p.ParseToolCall(&model.Response{
		Text:     `{"tool": "json_tool", "params": {}}`,
		ToolCall: &core.ToolCall{Name: "native_tool"},
	})
	require.True(t, ok)
	assert.Equal(t, "native_tool", call.Name)

	call, ok = p.ParseToolCall(&model.Response{Text: `{"tool": "json_tool", "params": {}}`})
	require.True(t, ok)
	assert.Equal(t, "json_tool", call.Name)
}

func TestParserByName(t *testing.T) {
	for name, want := range map[string]ToolCallParser{
		"":       JSONObjectParser{},
		"json":   JSONObjectParser{},
		"Native": NativeParser{},
	} {
		p, err := ParserByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, p)
	}
	_, err := ParserByName("regex")
	assert.Error(t, err)
}

func TestParserFunc(t *testing.T) {
	p := ParserFunc(func(*model.Response) (*core.ToolCall, bool) { return &core.ToolCall{Name: "fixed"}, true })
	call, ok := p.ParseToolCall(nil)
	assert.True(t, ok)
	assert.Equal(t, "fixed", call.Name)
}
