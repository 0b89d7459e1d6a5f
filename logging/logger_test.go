package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Logger = (*RunLogger)(nil)
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = NoOpLogger{}
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestRunLogger_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Format: "json", Output: &buf}).
		WithComponent("engine").
		WithExecution("s1", "e1").
		WithContext("agent_id", "a1")

	l.Info("hello", "iteration", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0]["msg"])
	assert.Equal(t, "engine", lines[0]["component"])
	assert.Equal(t, "s1", lines[0]["session_id"])
	assert.Equal(t, "e1", lines[0]["execution_id"])
	assert.Equal(t, "a1", lines[0]["agent_id"])
	assert.EqualValues(t, 2, lines[0]["iteration"])
}

func TestRunLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "w", lines[0]["msg"])
	assert.Equal(t, "e", lines[1]["msg"])
}

func TestRunLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&Config{Level: LevelInfo, Output: &buf})
	_ = parent.WithContext("k", "v").WithComponent("child")
	parent.Info("parent")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "k")
	assert.NotContains(t, lines[0], "component")
}

func TestRunLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Output: &buf})
	l.LogToolCall("calculator", time.Millisecond, true, nil)
	l.LogToolCall("calculator", time.Millisecond, false, errors.New("boom"))
	l.LogLLMCall("gpt", 10, 5, time.Second, nil)
	l.LogMemoryOp("search", "s1", 3, time.Millisecond, errors.New("down"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "Tool execution completed", lines[0]["msg"])
	assert.Equal(t, "Tool execution failed", lines[1]["msg"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.EqualValues(t, 10, lines[2]["input_tokens"])
	assert.Equal(t, "WARN", lines[3]["level"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "INFO": LevelInfo, "": LevelInfo, "warning": LevelWarn, "error": LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, OrNop(nil))
	l := New(nil)
	assert.Same(t, l, OrNop(l))
}
