package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentexec"
	"github.com/hupe1980/agentexec/agent"
	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/engine"
	"github.com/hupe1980/agentexec/execution"
	"github.com/hupe1980/agentexec/model"
	"github.com/hupe1980/agentexec/stream"
)

var _ Service = (*agentexec.AgentExec)(nil)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	agents, err := agent.NewRegistry(&agent.Config{ID: "assistant"})
	require.NoError(t, err)
	ax, err := agentexec.New(model.NewScriptedModel(model.Turn{Text: "Hi there"}).RepeatLast(), agents)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ax.Close() })

	srv := httptest.NewServer(NewHandler(ax, func(o *Options) {
		o.Mount = func(mux *http.ServeMux) {
			mux.HandleFunc("GET /extra", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestRunAndHistory(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/agents/assistant/run", `{"sessionId":"s1","message":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res engine.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "Hi there", res.Response)
	assert.Equal(t, "assistant", res.AgentID)

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/executions/"+res.ExecutionID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exec execution.Execution
	require.NoError(t, json.Unmarshal(body, &exec))
	assert.Equal(t, res.ExecutionID, exec.ID)

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/sessions/s1/messages?limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []core.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi there", msgs[0].Content)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/sessions/s1/memory", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/sessions/s1/memory", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/memory/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown agent", http.MethodPost, "/v1/agents/ghost/run", `{"message":"hi"}`, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/v1/agents/assistant/run", `{`, http.StatusBadRequest},
		{"empty message", http.MethodPost, "/v1/agents/assistant/stream", `{"sessionId":"s1"}`, http.StatusBadRequest},
		{"unknown execution", http.MethodGet, "/v1/executions/nope", "", http.StatusNotFound},
		{"unknown stream", http.MethodGet, "/v1/streams/nope", "", http.StatusNotFound},
		{"cancel inactive", http.MethodDelete, "/v1/streams/nope", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/v1/sessions/s1/messages?limit=x", "", http.StatusBadRequest},
		{"mounted route", http.MethodGet, "/extra", "", http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
		})
	}

	_, body := do(t, http.MethodPost, srv.URL+"/v1/agents/ghost/run", `{"message":"hi"}`)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, engine.CodeAgentNotFound, eb.Code)
}

func TestStreamOverWebSocket(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/agents/assistant/stream", `{"sessionId":"s2","message":"hello"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var h engine.StreamHandle
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "s2", h.SessionID)
	assert.Equal(t, engine.StatusStreaming, h.Status)

	conn, wsResp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/s2", nil)
	require.NoError(t, err)
	defer conn.Close()
	if wsResp != nil && wsResp.Body != nil {
		_ = wsResp.Body.Close()
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last stream.Event
	for {
		var ev stream.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		last = ev
	}
	require.Equal(t, stream.EventComplete, last.Type)
	assert.Equal(t, "Hi there", last.Data.(stream.CompleteData).FinalResponse)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/streams/s2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
