package engine

import (
	"errors"
	"fmt"
)

const (
	// CodeExecution is the stream_error code for failures inside a run.
	CodeExecution = "EXECUTION_ERROR"
	// CodeAgentNotFound is the stream_error code for an unknown agent.
	CodeAgentNotFound = "AGENT_NOT_FOUND"
)

var (
	// ErrAgentNotFound is matched by AgentNotFoundError.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrCancelled is recorded on executions whose stream was cancelled.
	ErrCancelled = errors.New("run cancelled")
)

// AgentNotFoundError is returned before any loop iteration when the agent id
// cannot be resolved.
type AgentNotFoundError struct {
	AgentID string
	Err     error
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %s not found", e.AgentID)
}

// Is makes errors.Is(err, ErrAgentNotFound) succeed.
func (e *AgentNotFoundError) Is(target error) bool { return target == ErrAgentNotFound }

func (e *AgentNotFoundError) Unwrap() error { return e.Err }

// ExecutionError reports a run aborted by a gateway, callback or store
// failure. Tool failures never produce one.
type ExecutionError struct {
	ExecutionID string
	Code        string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s failed: %v", e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
