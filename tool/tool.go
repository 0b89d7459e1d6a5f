// Package tool implements the tool invocation registry that lets the
// reasoning loop invoke structured capabilities with schema validated
// arguments, consistent error handling and descriptors for model guidance.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/internal/util"
)

// Error codes carried by ToolError.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeValidation    = "VALIDATION_ERROR"
	CodeExecution     = "EXECUTION_ERROR"
	CodeInvalidSchema = "INVALID_SCHEMA"
)

// Tool is an executable capability exposed to the model.
//
// Implementations must be safe for concurrent use: one registry serves every
// run of the process.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON schema of the accepted arguments.
	Parameters() map[string]any

	// Call executes the tool. Run details are available through
	// CallInfoFromContext.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Descriptor returns the model-facing description of t.
func Descriptor(t Tool) core.ToolDescriptor {
	return core.ToolDescriptor{Name: t.Name(), Description: t.Description(), InputSchema: t.Parameters()}
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// CallInfo identifies the run a tool is invoked from.
type CallInfo struct {
	SessionID   string
	UserID      string
	AgentID     string
	ExecutionID string
}

type callInfoKey struct{}

// WithCallInfo attaches run details to ctx.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the run details attached to ctx, if any.
func CallInfoFromContext(ctx context.Context) CallInfo {
	info, _ := ctx.Value(callInfoKey{}).(CallInfo)
	return info
}
