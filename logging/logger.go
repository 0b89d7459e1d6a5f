// Package logging provides a tiny abstraction over slog so every agentexec
// package can depend on a minimal interface (Logger) while hosts plug in any
// structured logger. RunLogger adds execution-scoped context and helpers for
// the events the engine cares about: model calls, tool calls and memory work.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level is a user facing level decoupled from slog.
type Level int

const (
	// LevelDebug is the debug logging level.
	LevelDebug Level = iota
	// LevelInfo is the informational logging level.
	LevelInfo
	// LevelWarn is the warning logging level.
	LevelWarn
	// LevelError is the error logging level.
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config string to a Level. Unknown values yield LevelInfo
// and an error so callers can warn about typos.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger defines the minimal logging interface used across agentexec.
// Args are slog style key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// Config configures construction of a RunLogger.
type Config struct {
	Level     Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a JSON info level configuration writing to stderr.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Format: "json", Output: os.Stderr}
}

// RunLogger is a slog backed Logger that carries component, session and
// execution identifiers on every record. With* methods return copies.
type RunLogger struct {
	logger      *slog.Logger
	component   string
	sessionID   string
	executionID string
	attrs       []slog.Attr
}

// New builds a RunLogger from cfg (defaults if nil).
func New(cfg *Config) *RunLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.slog(), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &RunLogger{logger: slog.New(handler), component: cfg.Component}
}

func (l *RunLogger) clone() *RunLogger {
	nl := *l
	nl.attrs = append([]slog.Attr(nil), l.attrs...)
	return &nl
}

// WithComponent sets the logical component (engine, stream, memory, ...).
func (l *RunLogger) WithComponent(c string) *RunLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithExecution attaches session and execution identifiers.
func (l *RunLogger) WithExecution(sessionID, executionID string) *RunLogger {
	nl := l.clone()
	nl.sessionID = sessionID
	nl.executionID = executionID
	return nl
}

// WithContext adds a key/value attribute attached to every record.
func (l *RunLogger) WithContext(key string, value any) *RunLogger {
	nl := l.clone()
	nl.attrs = append(nl.attrs, slog.Any(key, value))
	return nl
}

func (l *RunLogger) base() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.sessionID != "" {
		attrs = append(attrs, slog.String("session_id", l.sessionID))
	}
	if l.executionID != "" {
		attrs = append(attrs, slog.String("execution_id", l.executionID))
	}
	return append(attrs, l.attrs...)
}

func (l *RunLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(l.base()...)
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

// Debug logs at debug level.
func (l *RunLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *RunLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *RunLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *RunLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogToolCall records execution details for a tool invocation.
func (l *RunLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	args := []any{"tool_name", tool, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if !success {
		l.log(slog.LevelWarn, "Tool execution failed", args...)
		return
	}
	l.log(slog.LevelInfo, "Tool execution completed", args...)
}

// LogLLMCall records model call latency and token usage.
func (l *RunLogger) LogLLMCall(model string, inputTokens, outputTokens int, dur time.Duration, err error) {
	args := []any{"model", model, "input_tokens", inputTokens, "output_tokens", outputTokens, "duration", dur}
	if err != nil {
		l.log(slog.LevelError, "LLM call failed", append(args, "error", err.Error())...)
		return
	}
	l.log(slog.LevelInfo, "LLM call completed", args...)
}

// LogMemoryOp records a memory subsystem operation (add, search, clear, evict).
func (l *RunLogger) LogMemoryOp(op, sessionID string, count int, dur time.Duration, err error) {
	args := []any{"operation", op, "memory_session", sessionID, "count", count, "duration", dur}
	if err != nil {
		l.log(slog.LevelWarn, "Memory operation failed", append(args, "error", err.Error())...)
		return
	}
	l.log(slog.LevelDebug, "Memory operation completed", args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}

// OrNop returns l, or NoOpLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
