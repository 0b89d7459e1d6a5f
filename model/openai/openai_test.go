package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ model.Gateway = (*Model)(nil)

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL
	})
}

func TestGenerate_TextAndUsage(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"4"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	})

	resp, err := m.Generate(context.Background(), model.Request{
		SystemPrompt: "be brief",
		Messages:     []core.Message{{Role: core.RoleUser, Content: "2+2?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Text)
	assert.Nil(t, resp.ToolCall)
	assert.Equal(t, core.TokenUsage{Input: 12, Output: 3}, resp.Usage)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestGenerate_NativeToolCall(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"calculator","arguments":"{\"expression\":\"2+2\"}"}}]}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	})

	resp, err := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{{Role: core.RoleUser, Content: "2+2?"}},
		Tools:    []core.ToolDescriptor{{Name: "calculator", InputSchema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "calculator", resp.ToolCall.Name)
	assert.Equal(t, "2+2", resp.ToolCall.Params["expression"])
}

func TestStream_DeltasAndUsage(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, errs := m.Stream(context.Background(), model.Request{Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}}})
	var deltas []string
	resp, err := model.Accumulate(context.Background(), chunks, errs, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, core.TokenUsage{Input: 5, Output: 2}, resp.Usage)
}

func TestGenerate_APIError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	})
	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{{Role: core.RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "openai api error"))
}

func TestDecodeArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeArguments(" "))
	assert.Equal(t, map[string]any{"input": "{bad"}, decodeArguments("{bad"))
}
