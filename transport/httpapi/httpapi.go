// Package httpapi exposes an AgentExec over JSON/HTTP. Streaming runs return
// immediately; their events are read from the WebSocket route.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hupe1980/agentexec"
	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/engine"
	"github.com/hupe1980/agentexec/execution"
	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/memory"
	"github.com/hupe1980/agentexec/stream"
	"github.com/hupe1980/agentexec/transport/ws"
)

// Service is the subset of agentexec.AgentExec the API serves.
type Service interface {
	Run(ctx context.Context, req agentexec.Request) (*engine.Result, error)
	Stream(ctx context.Context, req agentexec.Request) (*engine.StreamHandle, error)
	Cancel(ctx context.Context, sessionID string) bool
	Execution(ctx context.Context, executionID string) (*execution.Execution, error)
	Subscribe(ctx context.Context, sessionID string) (<-chan stream.Event, error)
	StreamSession(ctx context.Context, sessionID string) (*stream.Session, error)
	History(ctx context.Context, sessionID string, limit int) ([]core.Message, error)
	ClearMemory(ctx context.Context, sessionID string) error
	MemoryStats(ctx context.Context, sessionID string) (memory.Stats, error)
	GlobalMemoryStats(ctx context.Context) (memory.GlobalStats, error)
}

// Options configures the handler.
type Options struct {
	Logger logging.Logger
	// Mount registers extra routes, e.g. /metrics.
	Mount func(mux *http.ServeMux)
}

type server struct {
	svc    Service
	logger logging.Logger
}

// NewHandler returns the API routes:
//
//	POST   /v1/agents/{agentId}/run
//	POST   /v1/agents/{agentId}/stream
//	GET    /v1/executions/{executionId}
//	GET    /v1/streams/{sessionId}
//	DELETE /v1/streams/{sessionId}
//	GET    /v1/sessions/{sessionId}/messages?limit=N
//	GET    /v1/sessions/{sessionId}/memory
//	DELETE /v1/sessions/{sessionId}/memory
//	GET    /v1/memory/stats
//	GET    /ws/{sessionId}
//	GET    /healthz
func NewHandler(svc Service, optFns ...func(o *Options)) http.Handler {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &server{svc: svc, logger: logging.OrNop(opts.Logger)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agents/{agentId}/run", s.handleRun)
	mux.HandleFunc("POST /v1/agents/{agentId}/stream", s.handleStream)
	mux.HandleFunc("GET /v1/executions/{executionId}", s.handleExecution)
	mux.HandleFunc("GET /v1/streams/{sessionId}", s.handleStreamSession)
	mux.HandleFunc("DELETE /v1/streams/{sessionId}", s.handleCancel)
	mux.HandleFunc("GET /v1/sessions/{sessionId}/messages", s.handleHistory)
	mux.HandleFunc("GET /v1/sessions/{sessionId}/memory", s.handleMemoryStats)
	mux.HandleFunc("DELETE /v1/sessions/{sessionId}/memory", s.handleClearMemory)
	mux.HandleFunc("GET /v1/memory/stats", s.handleGlobalStats)
	mux.Handle("GET /ws/{sessionId}", ws.NewHandler(svc, func(o *ws.Options) {
		o.Canceler = svc
		o.Logger = s.logger
	}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Mount != nil {
		opts.Mount(mux)
	}
	return mux
}

// decodeRun reads the request body; the agent id always comes from the path.
func (s *server) decodeRun(w http.ResponseWriter, r *http.Request) (agentexec.Request, bool) {
	var req agentexec.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return req, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required", "")
		return req, false
	}
	req.AgentID = r.PathValue("agentId")
	return req, true
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Run(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	h, err := s.svc.Stream(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h)
}

func (s *server) writeRunError(w http.ResponseWriter, err error) {
	var execErr *engine.ExecutionError
	switch {
	case errors.Is(err, engine.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, err.Error(), engine.CodeAgentNotFound)
	case errors.Is(err, stream.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error(), "")
	case errors.As(err, &execErr):
		writeError(w, http.StatusInternalServerError, err.Error(), execErr.Code)
	default:
		s.logger.Error("Run failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func (s *server) handleExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.svc.Execution(r.Context(), r.PathValue("executionId"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, execution.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *server) handleStreamSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.StreamSession(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stream.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if !s.svc.Cancel(r.Context(), sessionID) {
		writeError(w, http.StatusNotFound, "no active stream for session "+sessionID, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "cancelled": true})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "")
			return
		}
		limit = n
	}
	msgs, err := s.svc.History(r.Context(), r.PathValue("sessionId"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.MemoryStats(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearMemory(r.Context(), r.PathValue("sessionId")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleGlobalStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GlobalMemoryStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
