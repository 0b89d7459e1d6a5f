package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hupe1980/agentexec/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONRoundTripKeepsPayloadType(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	sess := &Session{SessionID: "s1", ExecutionID: "e1"}
	cases := []Data{
		StartData{AgentID: "a", UserID: "u", Message: "hi"},
		ChunkData{Delta: "x", Accumulated: "xx", TokenUsage: &core.TokenUsage{Input: 1}},
		ToolCallData{ToolName: "calculator", Params: map[string]any{"expr": "2+2"}},
		ToolResultData{ToolName: "calculator", Result: "4", Success: true},
		CompleteData{FinalResponse: "4", ToolsUsed: []string{"calculator"}, ExecutionTime: time.Second},
		ErrorData{Message: "boom", Code: "EXECUTION_ERROR"},
	}
	for _, data := range cases {
		ev := newEvent(sess, data, ts)
		b, err := json.Marshal(ev)
		require.NoError(t, err)

		var got Event
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, ev.Type, got.Type)
		assert.Equal(t, ev.Timestamp, got.Timestamp)
		assert.IsType(t, data, got.Data)
	}
}

func TestEvent_WireShape(t *testing.T) {
	ev := newEvent(&Session{SessionID: "s1", ExecutionID: "e1"}, ToolCallData{ToolName: "t", Params: map[string]any{"a": 1.0}}, time.Unix(0, 0))
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "stream_tool_call", raw["type"])
	assert.Equal(t, "s1", raw["sessionId"])
	assert.Equal(t, "e1", raw["executionId"])
	data := raw["data"].(map[string]any)
	assert.Equal(t, "t", data["toolName"])
	assert.Equal(t, map[string]any{"a": 1.0}, data["toolParams"])
}

func TestEvent_UnmarshalRejectsUnknownType(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"type":"stream_bogus","data":{}}`), &e)
	assert.Error(t, err)
}

func TestEvent_UnmarshalRejectsBadPayload(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"type":"stream_chunk","data":{"delta":5}}`), &e)
	assert.Error(t, err)
}

func TestEventType_IsTerminal(t *testing.T) {
	assert.True(t, EventComplete.IsTerminal())
	assert.True(t, EventError.IsTerminal())
	assert.False(t, EventStart.IsTerminal())
	assert.False(t, EventChunk.IsTerminal())
}

func TestSession_CloneIsDeep(t *testing.T) {
	term := newEvent(&Session{SessionID: "s"}, ErrorData{Message: "x"}, time.Now())
	s := &Session{SessionID: "s", ToolsUsed: []string{"a"}, Terminal: &term}
	c := s.Clone()
	c.ToolsUsed[0] = "b"
	c.Terminal.SessionID = "other"
	assert.Equal(t, "a", s.ToolsUsed[0])
	assert.Equal(t, "s", s.Terminal.SessionID)
}

func TestSinks(t *testing.T) {
	ctx := t.Context()
	ch := make(chan Event, 1)
	var seen []EventType
	multi := NewMultiSink(NewChanSink(ch), nil, NewCallbackSink(func(_ context.Context, e Event) {
		seen = append(seen, e.Type)
	}), NopSink{})

	e1 := newEvent(&Session{SessionID: "s"}, StartData{}, time.Now())
	e2 := newEvent(&Session{SessionID: "s"}, ChunkData{}, time.Now())
	multi.Emit(ctx, e1)
	multi.Emit(ctx, e2) // channel full, dropped by ChanSink

	assert.Equal(t, []EventType{EventStart, EventChunk}, seen)
	assert.Equal(t, EventStart, (<-ch).Type)
	assert.Empty(t, ch)
}
