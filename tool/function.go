package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentexec/internal/util"
	"github.com/xeipuuv/gojsonschema"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the declared JSON schema before the
// function runs. Failures are normalised to *ToolError:
//
//	VALIDATION_ERROR  -> schema / argument mismatch
//	EXECUTION_ERROR   -> the function returned a plain error
//	(custom codes are preserved if the function returns *ToolError directly)
//
// A FunctionTool has no mutable state after construction besides its lazily
// compiled schema and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)

	once      sync.Once
	schema    *gojsonschema.Schema
	schemaErr error
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// util.CreateSchema.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args then invokes the wrapped function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if len(t.parameters) > 0 {
		t.once.Do(func() { t.schema, t.schemaErr = util.CompileSchema(t.parameters) })
		if t.schemaErr != nil {
			return nil, &ToolError{Tool: t.name, Message: t.schemaErr.Error(), Code: CodeInvalidSchema}
		}
		if err := util.ValidateWith(t.schema, args); err != nil {
			return nil, &ToolError{
				Tool:    t.name,
				Message: fmt.Sprintf("parameter validation failed: %v", err),
				Code:    CodeValidation,
				Details: err,
			}
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}
	return result, nil
}
