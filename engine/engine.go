package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentexec/agent"
	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/execution"
	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/metrics"
	"github.com/hupe1980/agentexec/model"
	"github.com/hupe1980/agentexec/stream"
	"github.com/hupe1980/agentexec/tool"
)

const (
	modeBuffered = "buffered"
	modeStream   = "stream"

	// StatusStreaming is the handle status of a detached run.
	StatusStreaming = "streaming"
)

// Recaller supplies memory context for a message. memory.Manager implements it.
type Recaller interface {
	Recall(ctx context.Context, sessionID, query string, messageCount int) (string, error)
}

// Options configures an Engine.
type Options struct {
	// Tools is the static tool set. Defaults to an empty registry.
	Tools *tool.Registry
	// Documents backs the per-run search_<collection> tools. Optional.
	Documents *tool.DocumentIndex
	// Memory supplies recall for the system prompt. Optional.
	Memory Recaller
	// Tracker defaults to an in-memory tracker.
	Tracker *execution.Tracker
	// Streams defaults to an in-memory session manager.
	Streams *stream.Manager
	// Parser defaults to JSONObjectParser.
	Parser    ToolCallParser
	Callbacks *CallbackManager
	// MaxIterations caps model calls per run. Defaults to 10.
	MaxIterations int
	// MaxPriorTurns caps the prior context handed to the model. Defaults to 10.
	MaxPriorTurns int
	Tracer        trace.Tracer
	Logger        logging.Logger
	Metrics       *metrics.Metrics
}

// Engine runs the agent reasoning loop in buffered or streaming mode.
type Engine struct {
	gateway   model.Gateway
	agents    agent.Resolver
	tools     *tool.Registry
	documents *tool.DocumentIndex
	memory    Recaller
	tracker   *execution.Tracker
	streams   *stream.Manager
	parser    ToolCallParser
	callbacks *CallbackManager

	maxIterations int
	maxPriorTurns int

	tracer  trace.Tracer
	logger  logging.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// New creates an engine driving gateway for the agents agents resolves.
func New(gateway model.Gateway, agents agent.Resolver, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxIterations: 10,
		MaxPriorTurns: 10,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry(func(o *tool.RegistryOptions) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}
	if opts.Tracker == nil {
		opts.Tracker = execution.NewTracker(func(o *execution.Options) { o.Logger = opts.Logger })
	}
	if opts.Streams == nil {
		opts.Streams = stream.NewManager(func(o *stream.Options) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}
	if opts.Parser == nil {
		opts.Parser = JSONObjectParser{}
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agentexec/engine")
	}
	return &Engine{
		gateway:       gateway,
		agents:        agents,
		tools:         opts.Tools,
		documents:     opts.Documents,
		memory:        opts.Memory,
		tracker:       opts.Tracker,
		streams:       opts.Streams,
		parser:        opts.Parser,
		callbacks:     opts.Callbacks,
		maxIterations: opts.MaxIterations,
		maxPriorTurns: opts.MaxPriorTurns,
		tracer:        opts.Tracer,
		logger:        logging.OrNop(opts.Logger),
		metrics:       opts.Metrics,
	}
}

// Request is the input of one run.
type Request struct {
	AgentID   string `json:"agentId"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Message   string `json:"message"`
	// PriorContext is the conversation so far, oldest first.
	PriorContext []core.Message `json:"priorContext,omitempty"`
	// MessageCount is the session length the memory policy works from.
	// Zero means len(PriorContext)+1.
	MessageCount int `json:"messageCount,omitempty"`
	// Vars are exposed to the agent's prompt template.
	Vars agent.PromptVars `json:"vars,omitempty"`
}

// Result is the outcome of a completed run.
type Result struct {
	ExecutionID string          `json:"executionId"`
	SessionID   string          `json:"sessionId"`
	AgentID     string          `json:"agentId"`
	Message     string          `json:"message"`
	Response    string          `json:"response"`
	ToolsUsed   []string        `json:"toolsUsed"`
	TokenUsage  core.TokenUsage `json:"tokenUsage"`
	Iterations  int             `json:"iterations"`
	// Capped is set when the iteration cap ended the loop before a final answer.
	Capped bool `json:"capped"`
}

// StreamHandle is returned by Stream while the run continues detached.
type StreamHandle struct {
	ExecutionID string `json:"executionId"`
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	// Events delivers every event of the session and is closed after the
	// terminal one.
	Events <-chan stream.Event `json:"-"`
}

// Run executes one turn and waits for the answer.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	exec, err := e.tracker.Create(ctx, req.AgentID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	r := e.newRun(modeBuffered, req, exec.ID)

	ctx, span := e.startRunSpan(ctx, r)
	defer span.End()

	cfg, err := r.resolve(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	res, err := r.execute(ctx, cfg)
	if err != nil {
		recordSpanError(span, err)
	}
	return res, err
}

// Stream starts a run whose events are delivered through the returned
// handle. Agent resolution happens before Stream returns; the loop itself
// runs detached from ctx, which only bounds the handle's event channel.
func (e *Engine) Stream(ctx context.Context, req Request) (*StreamHandle, error) {
	if req.SessionID == "" {
		req.SessionID = core.NewID()
	}
	exec, err := e.tracker.Create(ctx, req.AgentID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	events, err := e.streams.StartSubscribed(ctx, ctx, stream.StartRequest{
		SessionID:   req.SessionID,
		ExecutionID: exec.ID,
		AgentID:     req.AgentID,
		UserID:      req.UserID,
		Message:     req.Message,
	})
	if err != nil {
		if _, ferr := e.tracker.Fail(context.WithoutCancel(ctx), exec.ID, err, core.TokenUsage{}); ferr != nil {
			e.logger.Warn("Failed to record stream startup error", "execution_id", exec.ID, "error", ferr)
		}
		return nil, fmt.Errorf("start stream: %w", err)
	}

	r := e.newRun(modeStream, req, exec.ID)
	cfg, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				_ = r.fail(runCtx, fmt.Errorf("panic in reasoning loop: %v", p), CodeExecution)
			}
		}()
		spanCtx, span := e.startRunSpan(runCtx, r)
		defer span.End()
		if _, err := r.execute(spanCtx, cfg); err != nil {
			recordSpanError(span, err)
		}
	}()

	return &StreamHandle{
		ExecutionID: exec.ID,
		SessionID:   req.SessionID,
		Status:      StatusStreaming,
		Events:      events,
	}, nil
}

// Cancel stops the live stream of a session. The loop notices at its next
// checkpoint; in-flight model or tool calls are not interrupted.
func (e *Engine) Cancel(ctx context.Context, sessionID string) bool {
	ok := e.streams.Cancel(ctx, sessionID)
	if ok {
		e.logger.Info("Streaming execution cancelled", "session_id", sessionID)
	}
	return ok
}

// Execution returns a snapshot of an execution record.
func (e *Engine) Execution(ctx context.Context, id string) (*execution.Execution, error) {
	return e.tracker.Get(ctx, id)
}

// Subscribe attaches to the events of a session.
func (e *Engine) Subscribe(ctx context.Context, sessionID string) (<-chan stream.Event, error) {
	return e.streams.Subscribe(ctx, sessionID)
}

// Streams returns the session manager.
func (e *Engine) Streams() *stream.Manager { return e.streams }

// Callbacks returns the hook registry.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Wait blocks until every detached run has finished.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) newRun(mode string, req Request, executionID string) *run {
	logger := e.logger
	if rl, ok := logger.(*logging.RunLogger); ok {
		logger = rl.WithComponent("engine").WithExecution(req.SessionID, executionID)
	}
	return &run{
		e:           e,
		mode:        mode,
		streaming:   mode == modeStream,
		req:         req,
		executionID: executionID,
		logger:      logger,
		start:       time.Now(),
	}
}

func (e *Engine) startRunSpan(ctx context.Context, r *run) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("agent.id", r.req.AgentID),
		attribute.String("session.id", r.req.SessionID),
		attribute.String("execution.id", r.executionID),
		attribute.String("run.mode", r.mode),
	))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// run is the mutable state of one reasoning loop.
type run struct {
	e           *Engine
	mode        string
	streaming   bool
	req         Request
	executionID string
	logger      logging.Logger
	start       time.Time

	tools        *tool.Registry
	descriptors  []core.ToolDescriptor
	systemPrompt string
	conversation []core.Message

	usage      core.TokenUsage
	toolsUsed  []string
	iterations int
	capped     bool
}

func (r *run) resolve(ctx context.Context) (*agent.Config, error) {
	cfg, err := r.e.agents.Get(ctx, r.req.AgentID)
	if err != nil {
		return nil, r.fail(ctx, &AgentNotFoundError{AgentID: r.req.AgentID, Err: err}, CodeAgentNotFound)
	}
	return cfg, nil
}

func (r *run) execute(ctx context.Context, cfg *agent.Config) (*Result, error) {
	if err := r.transition(ctx, execution.StatusThinking, execution.Patch{}); err != nil {
		return nil, r.fail(ctx, err, CodeExecution)
	}
	if err := r.prepare(ctx, cfg); err != nil {
		return nil, r.fail(ctx, err, CodeExecution)
	}

	final, err := r.loop(ctx)
	if err != nil {
		return nil, r.fail(ctx, err, CodeExecution)
	}

	if err := r.transition(ctx, execution.StatusResponding, execution.WithProgress(respondingProgress)); err != nil {
		return nil, r.fail(ctx, err, CodeExecution)
	}
	if r.streaming {
		r.e.streams.CompleteWith(ctx, r.req.SessionID, final)
	}
	if _, err := r.e.tracker.Finish(ctx, r.executionID, r.usage); err != nil {
		r.logger.Error("Failed to finish execution", "execution_id", r.executionID, "error", err)
	}

	outcome := "success"
	if r.capped {
		outcome = "capped"
		r.logger.Warn("Iteration cap reached without a final answer", "iterations", r.iterations)
	}
	r.e.metrics.RunFinished(r.mode, outcome, time.Since(r.start), r.iterations)
	r.logger.Info("Agent execution completed",
		"session_id", r.req.SessionID,
		"execution_id", r.executionID,
		"iterations", r.iterations,
		"tools_used", len(r.toolsUsed),
	)

	res := &Result{
		ExecutionID: r.executionID,
		SessionID:   r.req.SessionID,
		AgentID:     r.req.AgentID,
		Message:     r.req.Message,
		Response:    final,
		ToolsUsed:   append([]string{}, r.toolsUsed...),
		TokenUsage:  r.usage,
		Iterations:  r.iterations,
		Capped:      r.capped,
	}
	cbCtx := r.callbackContext()
	cbCtx.Run = res
	if err := r.e.callbacks.ExecuteCallbacks(ctx, CallbackAfterRun, cbCtx); err != nil {
		r.logger.Warn("after_run callback failed", "error", err)
	}
	return res, nil
}

func (r *run) prepare(ctx context.Context, cfg *agent.Config) error {
	vars := agent.PromptVars{
		"agent_id":   cfg.ID,
		"agent_name": cfg.DisplayName(),
		"session_id": r.req.SessionID,
		"user_id":    r.req.UserID,
	}
	maps.Copy(vars, r.req.Vars)
	base, err := cfg.ResolveInstruction(vars)
	if err != nil {
		return fmt.Errorf("resolve instruction for agent %s: %w", cfg.ID, err)
	}

	registry := r.e.tools
	if len(cfg.Tools) > 0 {
		registry = registry.Only(cfg.Tools...)
	}
	if collections := tool.CollectionTools(r.e.documents, cfg.Collections); len(collections) > 0 {
		registry = registry.With(collections...)
	}
	r.tools = registry
	r.descriptors = registry.Descriptors()

	r.conversation = buildConversation(r.req.PriorContext, r.e.maxPriorTurns, r.req.Message)
	r.systemPrompt = BuildSystemPrompt(base, r.descriptors, r.recall(ctx))
	return nil
}

// recall never fails the run; errors degrade to an empty recall.
func (r *run) recall(ctx context.Context) string {
	if r.e.memory == nil {
		return ""
	}
	n := r.req.MessageCount
	if n <= 0 {
		n = len(r.req.PriorContext) + 1
	}
	text, err := r.e.memory.Recall(ctx, r.req.SessionID, r.req.Message, n)
	if err != nil {
		r.logger.Warn("Failed to retrieve memory context", "session_id", r.req.SessionID, "error", err)
		return ""
	}
	return text
}

func (r *run) loop(ctx context.Context) (string, error) {
	var (
		state   = StateThinking
		pending *core.ToolCall
		final   string
	)
	for state != StateDone {
		switch state {
		case StateThinking:
			r.iterations++
			r.logger.Debug("Agent reasoning iteration", "iteration", r.iterations)
			if err := r.update(ctx, execution.WithProgress(thinkingProgress(r.iterations, r.e.maxIterations))); err != nil {
				return "", err
			}
			resp, err := r.callModel(ctx)
			if err != nil {
				return "", err
			}
			if err := r.checkActive(ctx); err != nil {
				return "", err
			}
			call, ok := r.e.parser.ParseToolCall(resp)
			if ok {
				pending = call
				final = call.Reasoning
			} else {
				final = resp.Text
			}
			state = Next(state, ok, r.iterations, r.e.maxIterations)
		case StateToolPending:
			if err := r.runTool(ctx, pending); err != nil {
				return "", err
			}
			if err := r.checkActive(ctx); err != nil {
				return "", err
			}
			pending = nil
			state = Next(state, false, r.iterations, r.e.maxIterations)
			r.capped = state == StateDone
		}
	}
	return final, nil
}

func (r *run) callModel(ctx context.Context) (*model.Response, error) {
	req := model.Request{
		SystemPrompt: r.systemPrompt,
		Messages:     append([]core.Message(nil), r.conversation...),
		Tools:        r.descriptors,
	}
	cbCtx := r.callbackContext()
	cbCtx.Request = &req
	if err := r.e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeModel, cbCtx); err != nil {
		return nil, fmt.Errorf("before_model callback: %w", err)
	}

	ctx, span := r.e.tracer.Start(ctx, "engine.llm", trace.WithAttributes(
		attribute.String("execution.id", r.executionID),
		attribute.Int("iteration", r.iterations),
	))
	defer span.End()

	start := time.Now()
	var (
		resp *model.Response
		err  error
	)
	if r.streaming {
		chunks, errs := r.e.gateway.Stream(ctx, req)
		resp, err = model.Accumulate(ctx, chunks, errs, func(delta string) {
			r.e.streams.EmitChunk(ctx, r.req.SessionID, delta, nil)
		})
	} else {
		resp, err = r.e.gateway.Generate(ctx, req)
	}
	dur := time.Since(start)

	var usage core.TokenUsage
	if resp != nil {
		usage = resp.Usage
	}
	r.e.metrics.LLMRequest(err == nil, usage.Input, usage.Output)
	if rl, ok := r.logger.(*logging.RunLogger); ok {
		rl.LogLLMCall(r.e.gateway.Info().Name, usage.Input, usage.Output, dur, err)
	} else if err != nil {
		r.logger.Error("LLM call failed", "error", err, "duration", dur)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("model call: %w", err)
	}
	span.SetAttributes(attribute.Int("tokens.input", usage.Input), attribute.Int("tokens.output", usage.Output))

	r.usage = r.usage.Add(usage)
	if r.streaming && usage.Total() > 0 {
		r.e.streams.EmitChunk(ctx, r.req.SessionID, "", &usage)
	}

	cbCtx.Response = resp
	if err := r.e.callbacks.ExecuteCallbacks(ctx, CallbackAfterModel, cbCtx); err != nil {
		return nil, fmt.Errorf("after_model callback: %w", err)
	}
	return resp, nil
}

func (r *run) runTool(ctx context.Context, call *core.ToolCall) error {
	if err := r.transition(ctx, execution.StatusUsingTool, execution.WithToolProgress(call.Name, toolProgress)); err != nil {
		return err
	}
	if r.streaming {
		r.e.streams.EmitToolCall(ctx, r.req.SessionID, call.Name, call.Params, call.Reasoning)
	}
	r.logger.Debug("Agent using tool", "tool_name", call.Name)

	cbCtx := r.callbackContext()
	cbCtx.ToolCall = call

	var res tool.Result
	if err := r.e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeTool, cbCtx); err != nil {
		res = tool.Result{Tool: call.Name, Error: err.Error(), Code: tool.CodeExecution}
	} else {
		toolCtx := tool.WithCallInfo(ctx, tool.CallInfo{
			SessionID:   r.req.SessionID,
			UserID:      r.req.UserID,
			AgentID:     r.req.AgentID,
			ExecutionID: r.executionID,
		})
		toolCtx, span := r.e.tracer.Start(toolCtx, "engine.tool", trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.Int("iteration", r.iterations),
		))
		res = r.tools.Execute(toolCtx, call.Name, call.Params)
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()
	}

	cbCtx.Result = &res
	if err := r.e.callbacks.ExecuteCallbacks(ctx, CallbackAfterTool, cbCtx); err != nil {
		r.logger.Warn("after_tool callback failed", "tool_name", call.Name, "error", err)
	}

	if res.Success {
		r.addToolUsed(call.Name)
	}
	if r.streaming {
		r.e.streams.EmitToolResult(ctx, r.req.SessionID, call.Name, res.Data, res.Success, res.Error)
	}
	r.conversation = append(r.conversation, toolTurns(call, res)...)

	return r.transition(ctx, execution.StatusThinking, execution.Patch{})
}

func (r *run) addToolUsed(name string) {
	for _, n := range r.toolsUsed {
		if n == name {
			return
		}
	}
	r.toolsUsed = append(r.toolsUsed, name)
}

// checkActive ends a streaming loop whose session was cancelled.
func (r *run) checkActive(ctx context.Context) error {
	if r.streaming && !r.e.streams.IsActive(ctx, r.req.SessionID) {
		return ErrCancelled
	}
	return nil
}

func (r *run) transition(ctx context.Context, status execution.Status, patch execution.Patch) error {
	if _, err := r.e.tracker.Transition(ctx, r.executionID, status, patch); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	return nil
}

// update publishes progress for the current status.
func (r *run) update(ctx context.Context, patch execution.Patch) error {
	if _, err := r.e.tracker.Update(ctx, r.executionID, patch); err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// fail moves the execution to ERROR, ends the stream and returns the error
// handed to the caller.
func (r *run) fail(ctx context.Context, cause error, code string) error {
	ctx = context.WithoutCancel(ctx)
	if errors.Is(cause, ErrCancelled) {
		code = stream.CodeCancelled
	}
	if _, err := r.e.tracker.Fail(ctx, r.executionID, cause, r.usage); err != nil {
		r.logger.Warn("Failed to record execution error", "execution_id", r.executionID, "error", err)
	}
	if r.streaming && !errors.Is(cause, ErrCancelled) {
		r.e.streams.Error(ctx, r.req.SessionID, cause.Error(), code, nil)
	}

	cbCtx := r.callbackContext()
	cbCtx.Err = cause
	if err := r.e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx); err != nil {
		r.logger.Warn("on_error callback failed", "error", err)
	}

	r.e.metrics.RunFinished(r.mode, "error", time.Since(r.start), r.iterations)
	if errors.Is(cause, ErrCancelled) {
		r.logger.Info("Agent execution stopped after cancellation", "session_id", r.req.SessionID)
	} else {
		r.logger.Error("Agent execution failed", "session_id", r.req.SessionID, "code", code, "error", cause)
	}

	var notFound *AgentNotFoundError
	if errors.As(cause, &notFound) {
		return notFound
	}
	return &ExecutionError{ExecutionID: r.executionID, Code: code, Err: cause}
}

func (r *run) callbackContext() *CallbackContext {
	return &CallbackContext{
		ExecutionID: r.executionID,
		SessionID:   r.req.SessionID,
		AgentID:     r.req.AgentID,
		Iteration:   r.iterations,
	}
}
