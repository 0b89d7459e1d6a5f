// Package agentexec is the entry point for running agents. It wires the
// reasoning engine to conversation history and hybrid memory so that callers
// only supply an agent id, a session id and a message:
//
//  1. Create an AgentExec with New (explicit collaborators) or NewFromConfig.
//  2. Call Run for a buffered answer or Stream for typed events.
//  3. Poll Execution, attach with Subscribe or stop a stream with Cancel.
//
// After every successful turn the user and assistant messages are appended to
// the session history and handed to the memory manager, which promotes them
// to long-term memory when its policy fires.
package agentexec

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentexec/agent"
	"github.com/hupe1980/agentexec/cache"
	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/embedding"
	"github.com/hupe1980/agentexec/engine"
	"github.com/hupe1980/agentexec/execution"
	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/memory"
	"github.com/hupe1980/agentexec/metrics"
	"github.com/hupe1980/agentexec/model"
	"github.com/hupe1980/agentexec/session"
	"github.com/hupe1980/agentexec/stream"
	"github.com/hupe1980/agentexec/tool"
	"github.com/hupe1980/agentexec/vectorstore"
)

// Options configures an AgentExec. Unset collaborators get offline in-memory
// defaults: a hash embedder, in-memory vector store, cache and history.
type Options struct {
	Tools     *tool.Registry
	Documents *tool.DocumentIndex
	Memory    *memory.Manager
	Sessions  session.Store
	Tracker   *execution.Tracker
	Streams   *stream.Manager
	Parser    engine.ToolCallParser

	// BuiltinOptions customise the built-in tools of the default registry.
	BuiltinOptions []func(o *tool.BuiltinOptions)

	MaxIterations int
	MaxPriorTurns int

	Tracer  trace.Tracer
	Logger  logging.Logger
	Metrics *metrics.Metrics

	// Closers are closed by Close, in order.
	Closers []io.Closer
}

// Request is one user turn.
type Request struct {
	AgentID   string           `json:"agentId"`
	SessionID string           `json:"sessionId"`
	UserID    string           `json:"userId,omitempty"`
	Message   string           `json:"message"`
	Vars      agent.PromptVars `json:"vars,omitempty"`
}

// AgentExec runs agents against persistent sessions.
type AgentExec struct {
	engine    *engine.Engine
	sessions  session.Store
	memory    *memory.Manager
	documents *tool.DocumentIndex
	logger    logging.Logger
	closers   []io.Closer
}

// New creates an AgentExec driving gateway for the agents resolved by agents.
func New(gateway model.Gateway, agents agent.Resolver, optFns ...func(o *Options)) (*AgentExec, error) {
	if gateway == nil {
		return nil, errors.New("agentexec: gateway is required")
	}
	if agents == nil {
		return nil, errors.New("agentexec: agent resolver is required")
	}
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNop(opts.Logger)

	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	if opts.Memory == nil || opts.Documents == nil {
		store := vectorstore.NewInMemoryStore()
		embedder := embedding.NewHashEmbedder(256)
		if opts.Memory == nil {
			opts.Memory = memory.NewManager(
				memory.NewInMemoryRecentWindow(10),
				memory.NewLongTerm(store, embedder, cache.NewInMemoryCache()),
				func(o *memory.Options) {
					o.Logger = logger
					o.Metrics = opts.Metrics
				},
			)
		}
		if opts.Documents == nil {
			opts.Documents = tool.NewDocumentIndex(store, embedder)
		}
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry(func(o *tool.RegistryOptions) {
			o.Logger = logger
			o.Metrics = opts.Metrics
		})
		builtinOpts := append([]func(o *tool.BuiltinOptions){func(o *tool.BuiltinOptions) {
			o.Documents = opts.Documents
		}}, opts.BuiltinOptions...)
		if err := tool.RegisterBuiltins(opts.Tools, builtinOpts...); err != nil {
			return nil, fmt.Errorf("register builtins: %w", err)
		}
		if err := opts.Tools.Register(tool.NewMemoryTool(opts.Memory)); err != nil {
			return nil, fmt.Errorf("register memory tool: %w", err)
		}
	}

	a := &AgentExec{
		sessions:  opts.Sessions,
		memory:    opts.Memory,
		documents: opts.Documents,
		logger:    logger,
		closers:   opts.Closers,
	}
	a.engine = engine.New(gateway, agents, func(o *engine.Options) {
		o.Tools = opts.Tools
		o.Documents = opts.Documents
		o.Memory = opts.Memory
		o.Tracker = opts.Tracker
		o.Streams = opts.Streams
		o.Parser = opts.Parser
		o.MaxIterations = opts.MaxIterations
		o.MaxPriorTurns = opts.MaxPriorTurns
		o.Tracer = opts.Tracer
		o.Logger = logger
		o.Metrics = opts.Metrics
	})
	a.engine.Callbacks().RegisterCallback(
		engine.NewFunctionCallback(engine.CallbackAfterRun, a.persistTurn),
	)
	return a, nil
}

// Run answers one message and waits for the result.
func (a *AgentExec) Run(ctx context.Context, req Request) (*engine.Result, error) {
	if req.SessionID == "" {
		req.SessionID = core.NewID()
	}
	engReq, err := a.request(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.engine.Run(ctx, engReq)
}

// Stream answers one message in the background and returns a handle whose
// Events channel receives every event of the session.
func (a *AgentExec) Stream(ctx context.Context, req Request) (*engine.StreamHandle, error) {
	if req.SessionID == "" {
		req.SessionID = core.NewID()
	}
	engReq, err := a.request(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.engine.Stream(ctx, engReq)
}

// request loads the session history and seeds the recent window from it.
func (a *AgentExec) request(ctx context.Context, req Request) (engine.Request, error) {
	history, err := a.sessions.History(ctx, req.SessionID, 0)
	if err != nil {
		return engine.Request{}, fmt.Errorf("load history: %w", err)
	}
	if err := a.memory.Prepare(ctx, req.SessionID, history); err != nil {
		a.logger.Warn("Failed to restore recent memory", "session_id", req.SessionID, "error", err)
	}
	return engine.Request{
		AgentID:      req.AgentID,
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		Message:      req.Message,
		PriorContext: history,
		MessageCount: len(history) + 1,
		Vars:         req.Vars,
	}, nil
}

// persistTurn records a finished turn in history and memory.
func (a *AgentExec) persistTurn(ctx context.Context, cbCtx *engine.CallbackContext) error {
	res := cbCtx.Run
	if res == nil {
		return nil
	}
	user := core.NewMessage(core.RoleUser, res.Message)
	assistant := core.NewMessage(core.RoleAssistant, res.Response)
	if err := a.sessions.Append(ctx, res.SessionID, user, assistant); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	history, err := a.sessions.History(ctx, res.SessionID, 0)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if err := a.memory.AddMessages(ctx, res.SessionID, history, 2); err != nil {
		return fmt.Errorf("add to memory: %w", err)
	}
	return nil
}

// Cancel stops the live stream of a session.
func (a *AgentExec) Cancel(ctx context.Context, sessionID string) bool {
	return a.engine.Cancel(ctx, sessionID)
}

// Execution returns a snapshot of an execution record.
func (a *AgentExec) Execution(ctx context.Context, executionID string) (*execution.Execution, error) {
	return a.engine.Execution(ctx, executionID)
}

// Subscribe attaches to the events of a streaming session.
func (a *AgentExec) Subscribe(ctx context.Context, sessionID string) (<-chan stream.Event, error) {
	return a.engine.Subscribe(ctx, sessionID)
}

// StreamSession returns the state of a streaming session.
func (a *AgentExec) StreamSession(ctx context.Context, sessionID string) (*stream.Session, error) {
	return a.engine.Streams().Get(ctx, sessionID)
}

// History returns the last limit messages of a session, oldest first. A limit
// of zero returns the whole conversation.
func (a *AgentExec) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	return a.sessions.History(ctx, sessionID, limit)
}

// ClearMemory forgets the long-term and recent memory of a session. The
// conversation history is kept.
func (a *AgentExec) ClearMemory(ctx context.Context, sessionID string) error {
	return a.memory.Clear(ctx, sessionID)
}

// MemoryStats returns long-term memory statistics of a session.
func (a *AgentExec) MemoryStats(ctx context.Context, sessionID string) (memory.Stats, error) {
	return a.memory.Stats(ctx, sessionID)
}

// GlobalMemoryStats returns long-term memory statistics across sessions.
func (a *AgentExec) GlobalMemoryStats(ctx context.Context) (memory.GlobalStats, error) {
	return a.memory.GlobalStats(ctx)
}

// AddDocuments indexes docs into collection for the search_<collection> and
// document_search tools.
func (a *AgentExec) AddDocuments(ctx context.Context, collection string, docs ...tool.Document) (int, error) {
	return a.documents.Add(ctx, collection, docs...)
}

// Engine returns the underlying engine, e.g. to register callbacks.
func (a *AgentExec) Engine() *engine.Engine { return a.engine }

// Close waits for detached runs, stops stream timers and closes the
// configured closers.
func (a *AgentExec) Close() error {
	a.engine.Wait()
	a.engine.Streams().Close()
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
