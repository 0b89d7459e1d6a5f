// Package core contains the value types shared by every agentexec package:
// conversation messages, token usage counters, tool descriptors and tool call
// requests. It has no behaviour beyond small helpers so that collaborator
// packages (model, tool, memory, stream) can depend on it without cycles.
package core
