package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/tool"
)

const toolInstruction = `To use a tool, respond with JSON in this format: {"tool": "tool_name", "params": {...}}`

// BuildSystemPrompt assembles the agent prompt, the tool list and the memory
// recall into one system prompt.
func BuildSystemPrompt(base string, tools []core.ToolDescriptor, recall string) string {
	var b strings.Builder
	b.WriteString(base)
	if len(tools) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for i, t := range tools {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "- %s: %s", t.Name, t.Description)
		}
		b.WriteString("\n\n")
		b.WriteString(toolInstruction)
	}
	if recall = strings.TrimSpace(recall); recall != "" {
		b.WriteString("\n\nRelevant context from memory:\n")
		b.WriteString(recall)
	}
	return b.String()
}

// buildConversation caps prior context to the most recent maxPrior messages
// and appends the new user message.
func buildConversation(prior []core.Message, maxPrior int, message string) []core.Message {
	if maxPrior >= 0 && len(prior) > maxPrior {
		prior = prior[len(prior)-maxPrior:]
	}
	conv := make([]core.Message, 0, len(prior)+1)
	conv = append(conv, prior...)
	return append(conv, core.NewMessage(core.RoleUser, message))
}

// toolTurns returns the synthetic request and observation turns appended
// after a tool ran.
func toolTurns(call *core.ToolCall, res tool.Result) []core.Message {
	params, err := json.Marshal(call.Params)
	if err != nil {
		params = []byte("{}")
	}
	observation := "Tool result: " + res.Text()
	if !res.Success {
		observation = "Tool execution failed: " + res.Error
	}
	return []core.Message{
		core.NewMessage(core.RoleAssistant, fmt.Sprintf("Using tool %s with params: %s", call.Name, params)),
		core.NewMessage(core.RoleUser, observation),
	}
}
