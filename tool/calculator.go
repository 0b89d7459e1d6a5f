package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

const maxExpressionLength = 1000

// calculatorEnv holds the functions and constants available to expressions.
// abs is an expr builtin.
var calculatorEnv = map[string]any{
	"sqrt": math.Sqrt,
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"log":  math.Log,
	"pow":  math.Pow,
	"pi":   math.Pi,
	"e":    math.E,
}

// NewCalculatorTool returns the calculator built-in. It accepts the
// expression under "expression" or its alias "expr" and returns the result as
// a canonical numeric string ("2+2" -> "4").
func NewCalculatorTool() *FunctionTool {
	return NewFunctionTool(
		"calculator",
		"Performs mathematical calculations. Supports basic arithmetic operations (+, -, *, /, %, ^) and functions like sqrt, sin, cos, tan, log, abs, pow.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": `Mathematical expression to evaluate (e.g., "2 + 3 * 4", "sqrt(16)", "sin(30)")`,
				},
				"expr": map[string]any{
					"type":        "string",
					"description": "Alias of expression",
				},
			},
			"anyOf": []any{
				map[string]any{"required": []string{"expression"}},
				map[string]any{"required": []string{"expr"}},
			},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			expression, _ := args["expression"].(string)
			if expression == "" {
				expression, _ = args["expr"].(string)
			}
			return Evaluate(expression)
		},
	)
}

// Evaluate computes an arithmetic expression.
func Evaluate(expression string) (string, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return "", errors.New("empty expression")
	}
	if len(expression) > maxExpressionLength {
		return "", fmt.Errorf("expression longer than %d characters", maxExpressionLength)
	}

	program, err := expr.Compile(expression, expr.Env(calculatorEnv))
	if err != nil {
		return "", fmt.Errorf("invalid mathematical expression: %w", err)
	}
	out, err := expr.Run(program, calculatorEnv)
	if err != nil {
		return "", fmt.Errorf("calculation error: %w", err)
	}
	return formatNumber(out)
}

func formatNumber(v any) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", fmt.Errorf("result is not a finite number: %v", n)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("expression did not evaluate to a number (got %T)", v)
	}
}
