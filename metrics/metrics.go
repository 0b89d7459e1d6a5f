// Package metrics exposes Prometheus instrumentation for agent runs.
//
// Every recording method is safe to call on a nil *Metrics, so components
// take an optional *Metrics and never branch on whether instrumentation is
// enabled.
//
// Usage:
//
//	m := metrics.New(prometheus.NewRegistry())
//	m.RunFinished("buffered", "success", time.Since(start))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors recorded by the engine, stream manager,
// tool registry and memory subsystem.
type Metrics struct {
	// RunCounter counts finished runs.
	// Labels: mode (buffered|streaming), status (success|error|cancelled)
	RunCounter *prometheus.CounterVec

	// RunDuration measures wall-clock run time in seconds.
	// Labels: mode
	RunDuration *prometheus.HistogramVec

	// LoopIterations observes how many reasoning iterations a run used.
	LoopIterations prometheus.Histogram

	// LLMRequestCounter counts gateway calls.
	// Labels: status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// StreamEvents counts published stream events.
	// Labels: type
	StreamEvents *prometheus.CounterVec

	// StreamEventsDropped counts emits rejected because the session was
	// unknown or no longer active.
	// Labels: op
	StreamEventsDropped *prometheus.CounterVec

	// ActiveStreams is the number of stream sessions currently active.
	ActiveStreams prometheus.Gauge

	// MemoryOperations counts memory subsystem calls.
	// Labels: op (add|search|recall|clear|stats), status (success|error)
	MemoryOperations *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. Use a fresh
// prometheus.NewRegistry() per test.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentexec_runs_total",
				Help: "Total number of agent runs by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentexec_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		LoopIterations: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentexec_loop_iterations",
				Help:    "Reasoning loop iterations per run",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
		),
		LLMRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentexec_llm_requests_total",
				Help: "Total number of language model requests by status",
			},
			[]string{"status"},
		),
		LLMTokensUsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentexec_llm_tokens_total",
				Help: "Total number of tokens used by type",
			},
			[]string{"type"},
		),
		ToolExecutionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentexec_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentexec_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		StreamEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentexec_stream_events_total",
				Help: "Total number of published stream events by type",
			},
			[]string{"type"},
		),
		StreamEventsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentexec_stream_events_dropped_total",
				Help: "Stream emits dropped because the session was unknown or inactive",
			},
			[]string{"op"},
		),
		ActiveStreams: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentexec_stream_active_sessions",
				Help: "Number of currently active stream sessions",
			},
		),
		MemoryOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentexec_memory_operations_total",
				Help: "Total number of memory operations by op and status",
			},
			[]string{"op", "status"},
		),
	}
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RunFinished records the outcome of one run.
func (m *Metrics) RunFinished(mode, outcome string, d time.Duration, iterations int) {
	if m == nil {
		return
	}
	m.RunCounter.WithLabelValues(mode, outcome).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
	if iterations > 0 {
		m.LoopIterations.Observe(float64(iterations))
	}
}

// LLMRequest records one gateway call and its token usage.
func (m *Metrics) LLMRequest(ok bool, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(status(ok)).Inc()
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// ToolExecuted records one tool invocation.
func (m *Metrics) ToolExecuted(tool string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status(ok)).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// StreamEvent records a published stream event.
func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

// StreamEventDropped records an emit rejected by the session manager.
func (m *Metrics) StreamEventDropped(op string) {
	if m == nil {
		return
	}
	m.StreamEventsDropped.WithLabelValues(op).Inc()
}

// StreamSessionOpened increments the active stream gauge.
func (m *Metrics) StreamSessionOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamSessionClosed decrements the active stream gauge.
func (m *Metrics) StreamSessionClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// MemoryOp records one memory operation.
func (m *Metrics) MemoryOp(op string, err error) {
	if m == nil {
		return
	}
	m.MemoryOperations.WithLabelValues(op, status(err == nil)).Inc()
}
