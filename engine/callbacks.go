package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/model"
	"github.com/hupe1980/agentexec/tool"
)

// CallbackType names a hook point in the reasoning loop.
type CallbackType string

const (
	// CallbackBeforeModel runs before every gateway call. An error aborts the run.
	CallbackBeforeModel CallbackType = "before_model"
	// CallbackAfterModel runs after every successful gateway call. An error
	// aborts the run.
	CallbackAfterModel CallbackType = "after_model"
	// CallbackBeforeTool runs before a tool executes. An error rejects the
	// call, which is then recorded as a failed tool result.
	CallbackBeforeTool CallbackType = "before_tool"
	// CallbackAfterTool runs after a tool executed. Errors are logged.
	CallbackAfterTool CallbackType = "after_tool"
	// CallbackOnError runs when a run fails. Errors are logged.
	CallbackOnError CallbackType = "on_error"
	// CallbackAfterRun runs once a run has finished successfully, in both
	// modes. Errors are logged.
	CallbackAfterRun CallbackType = "after_run"
)

// CallbackContext describes the loop position a callback fires at. Fields
// that do not apply to the hook point are zero.
type CallbackContext struct {
	ExecutionID string
	SessionID   string
	AgentID     string
	Iteration   int

	Request  *model.Request
	Response *model.Response
	ToolCall *core.ToolCall
	Result   *tool.Result
	Err      error
	Run      *Result

	CallbackType CallbackType
}

// Callback is a loop hook.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cbCtx *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager holds callbacks per hook point and runs them in
// registration order, stopping at the first error.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds callbacks.
func (cm *CallbackManager) RegisterCallback(callbacks ...Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, cb := range callbacks {
		cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
	}
}

// ExecuteCallbacks runs every callback registered for callbackType.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cbCtx *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	cbCtx.CallbackType = callbackType
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return err
		}
	}
	return nil
}
