// Package stream implements the streaming session manager: the lifecycle of a
// live output stream for one agent run, its typed event protocol and the
// per-session subscriber channels that deliver it.
//
// Ordering contract: exactly one stream_start precedes every other event of a
// session, exactly one terminal event (stream_complete or stream_error) ends
// it, and no content event is published after the terminal event. Emits to an
// inactive or unknown session are dropped with a warning, never returned as
// errors.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/metrics"
)

const (
	// CodeCancelled is the stream_error code used by Cancel.
	CodeCancelled = "CANCELLED"
	// CancelledMessage is the stream_error message used by Cancel.
	CancelledMessage = "cancelled by user"
)

var (
	// ErrSessionActive is returned by Start when the session id already has a live stream.
	ErrSessionActive = errors.New("stream session already active")
	// ErrSessionNotFound is returned by Get for unknown session ids.
	ErrSessionNotFound = errors.New("stream session not found")
)

// Options configures a Manager.
type Options struct {
	// Store is the session table. Defaults to an in-memory store.
	Store SessionStore
	// Sinks receive every published event in addition to subscribers.
	Sinks []Sink
	// CompleteRetention is the grace period before a completed session is
	// removed from the table. Defaults to 5s.
	CompleteRetention time.Duration
	// ErrorRetention is the grace period after an error. Defaults to 1s.
	ErrorRetention time.Duration
	// SubscriberBuffer sizes each subscriber's output channel. Defaults to 64.
	SubscriberBuffer int
	// Now returns the current time. Defaults to time.Now.
	Now     func() time.Time
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// StartRequest opens a session.
type StartRequest struct {
	SessionID   string
	ExecutionID string
	AgentID     string
	UserID      string
	Message     string
}

// Manager owns streaming sessions and publishes their events.
type Manager struct {
	store             SessionStore
	sink              Sink
	completeRetention time.Duration
	errorRetention    time.Duration
	subscriberBuffer  int
	now               func() time.Time
	logger            logging.Logger
	metrics           *metrics.Metrics

	locks *keyedMutex

	subMu sync.Mutex
	subs  map[string][]*subscriber

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// NewManager creates a session manager.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		Store:             NewInMemoryStore(),
		CompleteRetention: 5 * time.Second,
		ErrorRetention:    time.Second,
		SubscriberBuffer:  64,
		Now:               time.Now,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:             opts.Store,
		sink:              NewMultiSink(opts.Sinks...),
		completeRetention: opts.CompleteRetention,
		errorRetention:    opts.ErrorRetention,
		subscriberBuffer:  opts.SubscriberBuffer,
		now:               opts.Now,
		logger:            logging.OrNop(opts.Logger),
		metrics:           opts.Metrics,
		locks:             newKeyedMutex(),
		subs:              make(map[string][]*subscriber),
		timers:            make(map[string]*time.Timer),
	}
}

// Start opens a session and emits stream_start. A session id whose previous
// stream already ended may be reused; an active one may not.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	_, err := m.start(ctx, req, nil)
	return err
}

// StartSubscribed opens a session like Start and atomically attaches a
// subscriber before stream_start is published, so the returned channel sees
// the whole stream even when the session id was used before. subCtx bounds
// the subscription.
func (m *Manager) StartSubscribed(ctx, subCtx context.Context, req StartRequest) (<-chan Event, error) {
	sub := newSubscriber(m.subscriberBuffer)
	if _, err := m.start(ctx, req, sub); err != nil {
		return nil, err
	}
	go sub.run(subCtx, func() { m.removeSubscriber(req.SessionID, sub) })
	return sub.out, nil
}

func (m *Manager) start(ctx context.Context, req StartRequest, sub *subscriber) (*Session, error) {
	unlock := m.locks.Lock(req.SessionID)
	defer unlock()

	existing, ok, err := m.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if ok && existing.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, req.SessionID)
	}
	m.stopTimer(req.SessionID)

	sess := &Session{
		SessionID:   req.SessionID,
		ExecutionID: req.ExecutionID,
		AgentID:     req.AgentID,
		UserID:      req.UserID,
		StartTime:   m.now().UTC(),
		IsActive:    true,
		ToolsUsed:   []string{},
	}
	if err := m.store.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if sub != nil {
		m.subMu.Lock()
		m.subs[req.SessionID] = append(m.subs[req.SessionID], sub)
		m.subMu.Unlock()
	}
	m.metrics.StreamSessionOpened()
	m.publish(ctx, newEvent(sess, StartData{AgentID: req.AgentID, UserID: req.UserID, Message: req.Message}, m.now()))
	return sess, nil
}

// EmitChunk appends delta to the accumulated response, adds usage, and emits
// stream_chunk carrying both the delta and the running accumulation.
func (m *Manager) EmitChunk(ctx context.Context, sessionID, delta string, usage *core.TokenUsage) {
	m.mutateActive(ctx, sessionID, "chunk", func(s *Session) Data {
		s.AccumulatedResponse += delta
		if usage != nil {
			s.TokenUsage = s.TokenUsage.Add(*usage)
		}
		return ChunkData{Delta: delta, Accumulated: s.AccumulatedResponse, TokenUsage: usage}
	})
}

// EmitToolCall emits stream_tool_call. toolsUsed is not touched.
func (m *Manager) EmitToolCall(ctx context.Context, sessionID, toolName string, params map[string]any, reasoning string) {
	m.mutateActive(ctx, sessionID, "tool_call", func(*Session) Data {
		return ToolCallData{ToolName: toolName, Params: params, Reasoning: reasoning}
	})
}

// EmitToolResult emits stream_tool_result. Only successful results add the
// tool to toolsUsed, and each name is recorded once.
func (m *Manager) EmitToolResult(ctx context.Context, sessionID, toolName string, result any, success bool, errMsg string) {
	m.mutateActive(ctx, sessionID, "tool_result", func(s *Session) Data {
		if success {
			s.addTool(toolName)
			errMsg = ""
		}
		return ToolResultData{ToolName: toolName, Result: result, Success: success, Error: errMsg}
	})
}

// Complete ends the session with the accumulated buffer as final response.
func (m *Manager) Complete(ctx context.Context, sessionID string) {
	m.complete(ctx, sessionID, nil)
}

// CompleteWith ends the session with an explicit final response.
func (m *Manager) CompleteWith(ctx context.Context, sessionID, finalResponse string) {
	m.complete(ctx, sessionID, &finalResponse)
}

func (m *Manager) complete(ctx context.Context, sessionID string, finalResponse *string) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, ok := m.loadActive(ctx, sessionID, "complete")
	if !ok {
		return
	}
	final := sess.AccumulatedResponse
	if finalResponse != nil {
		final = *finalResponse
	}
	now := m.now()
	sess.IsActive = false
	ev := newEvent(sess, CompleteData{
		FinalResponse: final,
		ToolsUsed:     append([]string{}, sess.ToolsUsed...),
		TokenUsage:    sess.TokenUsage,
		ExecutionTime: now.Sub(sess.StartTime),
	}, now)
	sess.Terminal = &ev
	if err := m.store.Set(ctx, sess); err != nil {
		m.logger.Error("Failed to store completed stream session", "session_id", sessionID, "error", err)
	}
	m.metrics.StreamSessionClosed()
	m.publish(ctx, ev)
	m.scheduleCleanup(sessionID, sess.ExecutionID, m.completeRetention)
}

// Error ends the session with stream_error. It may be called for a session
// that was never started, in which case the event is still published without
// an execution id. Errors on an already terminal session are dropped.
func (m *Manager) Error(ctx context.Context, sessionID, message, code string, details any) {
	m.fail(ctx, sessionID, ErrorData{Message: message, Code: code, Details: details}, false)
}

// Cancel reports a user cancellation on an active session. It returns false
// when there was nothing to cancel.
func (m *Manager) Cancel(ctx context.Context, sessionID string) bool {
	return m.fail(ctx, sessionID, ErrorData{Message: CancelledMessage, Code: CodeCancelled}, true)
}

func (m *Manager) fail(ctx context.Context, sessionID string, data ErrorData, activeOnly bool) bool {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		m.logger.Error("Failed to load stream session", "session_id", sessionID, "error", err)
	}
	if !ok {
		if activeOnly {
			return false
		}
		m.publish(ctx, newEvent(&Session{SessionID: sessionID}, data, m.now()))
		return true
	}
	if !sess.IsActive {
		m.logger.Warn("Dropping stream error for inactive session", "session_id", sessionID, "code", data.Code)
		m.metrics.StreamEventDropped("error")
		return false
	}
	sess.IsActive = false
	ev := newEvent(sess, data, m.now())
	sess.Terminal = &ev
	if err := m.store.Set(ctx, sess); err != nil {
		m.logger.Error("Failed to store failed stream session", "session_id", sessionID, "error", err)
	}
	m.metrics.StreamSessionClosed()
	m.publish(ctx, ev)
	m.scheduleCleanup(sessionID, sess.ExecutionID, m.errorRetention)
	return true
}

// Get returns a snapshot of the session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// IsActive reports whether the session exists and has not ended.
func (m *Manager) IsActive(ctx context.Context, sessionID string) bool {
	sess, ok, err := m.store.Get(ctx, sessionID)
	return err == nil && ok && sess.IsActive
}

// Subscribe returns a channel receiving the session's events in order. The
// channel is closed after the terminal event or when ctx is done.
//
// Subscribing before Start is allowed and observes stream_start. Subscribing
// to a session that already ended but is still within its grace period
// yields only the terminal event.
func (m *Manager) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sub := newSubscriber(m.subscriberBuffer)
	if ok && !sess.IsActive && sess.Terminal != nil {
		sub.push(*sess.Terminal)
		sub.finish()
		go sub.run(ctx, func() {})
		return sub.out, nil
	}

	m.subMu.Lock()
	m.subs[sessionID] = append(m.subs[sessionID], sub)
	m.subMu.Unlock()
	go sub.run(ctx, func() { m.removeSubscriber(sessionID, sub) })
	return sub.out, nil
}

// Close stops pending cleanup timers and ends all subscriptions.
func (m *Manager) Close() {
	m.timerMu.Lock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.timerMu.Unlock()

	m.subMu.Lock()
	for id, subs := range m.subs {
		for _, s := range subs {
			s.finish()
		}
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

// mutateActive applies fn to an active session, stores it and publishes the
// resulting event, all under the session lock.
func (m *Manager) mutateActive(ctx context.Context, sessionID, op string, fn func(s *Session) Data) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, ok := m.loadActive(ctx, sessionID, op)
	if !ok {
		return
	}
	data := fn(sess)
	if err := m.store.Set(ctx, sess); err != nil {
		m.logger.Error("Failed to store stream session", "session_id", sessionID, "op", op, "error", err)
		return
	}
	m.publish(ctx, newEvent(sess, data, m.now()))
}

func (m *Manager) loadActive(ctx context.Context, sessionID, op string) (*Session, bool) {
	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		m.logger.Error("Failed to load stream session", "session_id", sessionID, "op", op, "error", err)
		return nil, false
	}
	if !ok {
		m.logger.Warn("Dropping stream event for unknown session", "session_id", sessionID, "op", op)
		m.metrics.StreamEventDropped(op)
		return nil, false
	}
	if !sess.IsActive {
		m.logger.Warn("Dropping stream event for inactive session", "session_id", sessionID, "op", op)
		m.metrics.StreamEventDropped(op)
		return nil, false
	}
	return sess, true
}

func (m *Manager) publish(ctx context.Context, e Event) {
	m.subMu.Lock()
	subs := m.subs[e.SessionID]
	if e.Type.IsTerminal() {
		delete(m.subs, e.SessionID)
	}
	m.subMu.Unlock()

	for _, s := range subs {
		s.push(e)
		if e.Type.IsTerminal() {
			s.finish()
		}
	}
	m.sink.Emit(ctx, e)
	m.metrics.StreamEvent(string(e.Type))
}

func (m *Manager) removeSubscriber(sessionID string, sub *subscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	subs := m.subs[sessionID]
	for i, s := range subs {
		if s == sub {
			m.subs[sessionID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[sessionID]) == 0 {
		delete(m.subs, sessionID)
	}
}

func (m *Manager) scheduleCleanup(sessionID, executionID string, after time.Duration) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if t, ok := m.timers[sessionID]; ok {
		t.Stop()
	}
	m.timers[sessionID] = time.AfterFunc(after, func() {
		m.cleanup(sessionID, executionID)
	})
}

func (m *Manager) stopTimer(sessionID string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if t, ok := m.timers[sessionID]; ok {
		t.Stop()
		delete(m.timers, sessionID)
	}
}

// cleanup removes the session only if it still belongs to executionID and is
// inactive, so a reused session id is never collected by a stale timer.
func (m *Manager) cleanup(sessionID, executionID string) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	m.timerMu.Lock()
	delete(m.timers, sessionID)
	m.timerMu.Unlock()

	ctx := context.Background()
	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil || !ok || sess.IsActive || sess.ExecutionID != executionID {
		return
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		m.logger.Warn("Failed to remove stream session", "session_id", sessionID, "error", err)
		return
	}
	m.logger.Debug("Stream session removed", "session_id", sessionID)
}
