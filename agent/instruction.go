package agent

import "github.com/hupe1980/agentexec/internal/util"

// PromptVars are the values available to system prompt templates
// ("{{ .agent_name }}", "{{ .session_id }}", ...).
type PromptVars map[string]any

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(vars PromptVars) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(vars PromptVars) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(vars PromptVars) (string, error) { return f(vars) }

// Instruction represents either a template string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a (possibly templated) string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(PromptVars) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no text and no provider are set.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, rendering the template or invoking
// the provider.
func (i Instruction) Resolve(vars PromptVars) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(vars)
	}
	return util.RenderTemplate(i.text, vars)
}
