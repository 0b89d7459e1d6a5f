package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ SessionStore = (*InMemoryStore)(nil)
	_ SessionStore = (*RedisSessionStore)(nil)
	_ Sink         = (*ChanSink)(nil)
	_ Sink         = (*MultiSink)(nil)
	_ Sink         = (*CallbackSink)(nil)
	_ Sink         = NopSink{}
	_ Sink         = (*RedisSink)(nil)
)

func newTestManager(t *testing.T, optFns ...func(o *Options)) *Manager {
	t.Helper()
	m := NewManager(append([]func(o *Options){func(o *Options) {
		o.CompleteRetention = 50 * time.Millisecond
		o.ErrorRetention = 20 * time.Millisecond
	}}, optFns...)...)
	t.Cleanup(m.Close)
	return m
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
			return out
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func start(t *testing.T, m *Manager, sid, eid string) {
	t.Helper()
	require.NoError(t, m.Start(context.Background(), StartRequest{
		SessionID: sid, ExecutionID: eid, AgentID: "agent-1", UserID: "user-1", Message: "hi",
	}))
}

func TestManager_FullLifecycleOrdering(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	ch, err := m.Subscribe(ctx, "s1")
	require.NoError(t, err)

	start(t, m, "s1", "e1")
	m.EmitChunk(ctx, "s1", "Hel", &core.TokenUsage{Input: 3, Output: 1})
	m.EmitChunk(ctx, "s1", "lo", &core.TokenUsage{Output: 1})
	m.EmitToolCall(ctx, "s1", "calculator", map[string]any{"expr": "2+2"}, "need math")
	m.EmitToolResult(ctx, "s1", "calculator", "4", true, "")
	m.Complete(ctx, "s1")

	events := collect(t, ch)
	require.Equal(t, []EventType{EventStart, EventChunk, EventChunk, EventToolCall, EventToolResult, EventComplete}, types(events))

	for _, e := range events {
		assert.Equal(t, "s1", e.SessionID)
		assert.Equal(t, "e1", e.ExecutionID)
	}
	chunk := events[2].Data.(ChunkData)
	assert.Equal(t, "lo", chunk.Delta)
	assert.Equal(t, "Hello", chunk.Accumulated)

	done := events[5].Data.(CompleteData)
	assert.Equal(t, "Hello", done.FinalResponse)
	assert.Equal(t, []string{"calculator"}, done.ToolsUsed)
	assert.Equal(t, core.TokenUsage{Input: 3, Output: 2}, done.TokenUsage)

	assert.False(t, m.IsActive(ctx, "s1"))
}

func TestManager_CompleteWithOverridesBuffer(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	ch, err := m.StartSubscribed(ctx, ctx, StartRequest{SessionID: "s1", ExecutionID: "e1"})
	require.NoError(t, err)

	m.EmitChunk(ctx, "s1", `{"tool":"x","params":{}}`, nil)
	m.CompleteWith(ctx, "s1", "final answer")

	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, "final answer", events[2].Data.(CompleteData).FinalResponse)
}

func TestManager_ToolsUsedDeduplicatedAndOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	start(t, m, "s1", "e1")

	m.EmitToolCall(ctx, "s1", "search", nil, "")
	m.EmitToolResult(ctx, "s1", "search", "a", true, "")
	m.EmitToolResult(ctx, "s1", "search", "b", true, "")
	m.EmitToolResult(ctx, "s1", "broken", nil, false, "boom")

	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, sess.ToolsUsed)
}

func TestManager_FailedToolResultCarriesError(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	ch, err := m.StartSubscribed(ctx, ctx, StartRequest{SessionID: "s1", ExecutionID: "e1"})
	require.NoError(t, err)

	m.EmitToolResult(ctx, "s1", "broken", nil, false, "boom")
	m.EmitToolResult(ctx, "s1", "fine", "ok", true, "ignored")
	m.Complete(ctx, "s1")

	events := collect(t, ch)
	require.Len(t, events, 4)
	failed := events[1].Data.(ToolResultData)
	assert.False(t, failed.Success)
	assert.Equal(t, "boom", failed.Error)
	ok := events[2].Data.(ToolResultData)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)
}

func TestManager_StartRejectsActiveSession(t *testing.T) {
	m := newTestManager(t)
	start(t, m, "s1", "e1")
	err := m.Start(context.Background(), StartRequest{SessionID: "s1", ExecutionID: "e2"})
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestManager_CancelStopsContent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	ch, err := m.StartSubscribed(ctx, ctx, StartRequest{SessionID: "s1", ExecutionID: "e1"})
	require.NoError(t, err)

	m.EmitChunk(ctx, "s1", "partial", nil)
	assert.True(t, m.Cancel(ctx, "s1"))
	m.EmitChunk(ctx, "s1", "late", nil)
	m.EmitToolCall(ctx, "s1", "calculator", nil, "")
	m.Complete(ctx, "s1")

	events := collect(t, ch)
	require.Equal(t, []EventType{EventStart, EventChunk, EventError}, types(events))
	errData := events[2].Data.(ErrorData)
	assert.Equal(t, CodeCancelled, errData.Code)
	assert.Equal(t, CancelledMessage, errData.Message)

	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sess.IsActive)
	assert.Equal(t, "partial", sess.AccumulatedResponse)

	assert.False(t, m.Cancel(ctx, "s1"))
	assert.False(t, m.Cancel(ctx, "unknown"))
}

func TestManager_ErrorWithoutSessionStillPublishes(t *testing.T) {
	ctx := context.Background()
	ch := make(chan Event, 4)
	m := newTestManager(t, func(o *Options) { o.Sinks = []Sink{NewChanSink(ch)} })

	m.Error(ctx, "ghost", "agent not found", "EXECUTION_ERROR", map[string]any{"agentId": "x"})

	select {
	case e := <-ch:
		assert.Equal(t, EventError, e.Type)
		assert.Equal(t, "ghost", e.SessionID)
		assert.Empty(t, e.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestManager_EmitsToUnknownSessionAreDropped(t *testing.T) {
	ctx := context.Background()
	ch := make(chan Event, 4)
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	m := newTestManager(t, func(o *Options) {
		o.Sinks = []Sink{NewChanSink(ch)}
		o.Metrics = met
	})

	m.EmitChunk(ctx, "nope", "x", nil)
	m.EmitToolCall(ctx, "nope", "t", nil, "")
	m.EmitToolResult(ctx, "nope", "t", nil, true, "")
	m.Complete(ctx, "nope")

	assert.Empty(t, ch)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.StreamEventsDropped.WithLabelValues("chunk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.StreamEventsDropped.WithLabelValues("complete")))
}

func TestManager_CleanupAfterRetention(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m := newTestManager(t, func(o *Options) { o.Store = store })

	start(t, m, "s1", "e1")
	m.Complete(ctx, "s1")
	assert.Equal(t, 1, store.Len())

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, err := m.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ErrorCleanupIsFaster(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m := NewManager(func(o *Options) {
		o.Store = store
		o.CompleteRetention = time.Hour
		o.ErrorRetention = 10 * time.Millisecond
	})
	defer m.Close()

	start(t, m, "s1", "e1")
	m.Error(ctx, "s1", "boom", "EXECUTION_ERROR", nil)
	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_StaleCleanupKeepsReusedSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m := newTestManager(t, func(o *Options) {
		o.Store = store
		o.CompleteRetention = 30 * time.Millisecond
	})

	start(t, m, "s1", "e1")
	m.Complete(ctx, "s1")
	start(t, m, "s1", "e2")

	time.Sleep(80 * time.Millisecond)
	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "e2", sess.ExecutionID)
	assert.True(t, sess.IsActive)
}

func TestManager_LateSubscriberGetsTerminal(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, func(o *Options) { o.CompleteRetention = time.Second })

	start(t, m, "s1", "e1")
	m.EmitChunk(ctx, "s1", "done", nil)
	m.Complete(ctx, "s1")

	ch, err := m.Subscribe(ctx, "s1")
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventComplete, events[0].Type)
	assert.Equal(t, "done", events[0].Data.(CompleteData).FinalResponse)
}

func TestManager_StartSubscribedIgnoresPreviousTerminal(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, func(o *Options) { o.CompleteRetention = time.Second })

	start(t, m, "s1", "e1")
	m.Complete(ctx, "s1")

	ch, err := m.StartSubscribed(ctx, ctx, StartRequest{SessionID: "s1", ExecutionID: "e2"})
	require.NoError(t, err)
	m.CompleteWith(ctx, "s1", "second")

	events := collect(t, ch)
	require.Equal(t, []EventType{EventStart, EventComplete}, types(events))
	assert.Equal(t, "e2", events[0].ExecutionID)
	assert.Equal(t, "second", events[1].Data.(CompleteData).FinalResponse)
}

func TestManager_SubscriberContextCancel(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Subscribe(ctx, "s1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestManager_ConcurrentEmitsKeepSingleTerminal(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, func(o *Options) { o.CompleteRetention = time.Second })
	ch, err := m.StartSubscribed(ctx, ctx, StartRequest{SessionID: "s1", ExecutionID: "e1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EmitChunk(ctx, "s1", "x", &core.TokenUsage{Output: 1})
		}()
	}
	wg.Add(2)
	go func() { defer wg.Done(); m.Complete(ctx, "s1") }()
	go func() { defer wg.Done(); m.Cancel(ctx, "s1") }()
	wg.Wait()

	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, EventStart, events[0].Type)
	terminals := 0
	for i, e := range events {
		if e.Type.IsTerminal() {
			terminals++
			assert.Equal(t, len(events)-1, i, "terminal must be last")
		}
	}
	assert.Equal(t, 1, terminals)

	// Accumulation length matches the number of chunks that made it through.
	chunks := 0
	for _, e := range events {
		if e.Type == EventChunk {
			chunks++
			assert.Len(t, e.Data.(ChunkData).Accumulated, chunks)
		}
	}
}

func TestManager_ActiveGauge(t *testing.T) {
	ctx := context.Background()
	met := metrics.New(prometheus.NewRegistry())
	m := newTestManager(t, func(o *Options) { o.Metrics = met })

	start(t, m, "a", "e1")
	start(t, m, "b", "e2")
	assert.Equal(t, 2.0, testutil.ToFloat64(met.ActiveStreams))
	m.Complete(ctx, "a")
	m.Cancel(ctx, "b")
	assert.Equal(t, 0.0, testutil.ToFloat64(met.ActiveStreams))
	assert.Equal(t, 2.0, testutil.ToFloat64(met.StreamEvents.WithLabelValues(string(EventStart))))
}
