package core

// ToolDescriptor describes a callable capability exposed to the model.
// InputSchema is a JSON schema object.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolCall is a model request to execute a tool.
//
// Reasoning carries any free text the model produced before the request; it is
// surfaced on stream_tool_call events and used as the partial answer when the
// iteration cap is hit.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning,omitempty"`
}
