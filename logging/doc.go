// Package logging provides a minimal logging interface and adapters for agentexec.
//
// Every package takes a Logger through its options and defaults to NoOpLogger.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - RunLogger, a contextual slog logger with tool, LLM and memory helpers
//   - NoOpLogger for silent operation (tests, minimal setups)
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LevelDebug, Format: "text", Output: os.Stderr})
//	eng := engine.New(gateway, agents, tools, func(o *engine.Options) { o.Logger = logger })
package logging
