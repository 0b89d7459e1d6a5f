package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentexec/core"
)

// EventType names one of the six stream event kinds.
type EventType string

const (
	// EventStart opens a session; exactly one per session, always first.
	EventStart EventType = "stream_start"
	// EventChunk carries a text delta and the running accumulation.
	EventChunk EventType = "stream_chunk"
	// EventToolCall announces a tool request.
	EventToolCall EventType = "stream_tool_call"
	// EventToolResult reports a tool outcome.
	EventToolResult EventType = "stream_tool_result"
	// EventComplete is the terminal success event.
	EventComplete EventType = "stream_complete"
	// EventError is the terminal failure event.
	EventError EventType = "stream_error"
)

// IsTerminal reports whether t ends a session.
func (t EventType) IsTerminal() bool { return t == EventComplete || t == EventError }

// Event is the envelope published for every stream event. Data holds exactly
// one of the *Data payload types, selected by Type.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"sessionId"`
	ExecutionID string    `json:"executionId"`
	Timestamp   time.Time `json:"timestamp"`
	Data        Data      `json:"data"`
}

// Data is the sealed payload union.
type Data interface {
	eventType() EventType
}

// StartData is the payload of stream_start.
type StartData struct {
	AgentID string `json:"agentId"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// ChunkData is the payload of stream_chunk.
type ChunkData struct {
	Delta       string           `json:"delta"`
	Accumulated string           `json:"accumulated"`
	TokenUsage  *core.TokenUsage `json:"tokenUsage,omitempty"`
}

// ToolCallData is the payload of stream_tool_call.
type ToolCallData struct {
	ToolName  string         `json:"toolName"`
	Params    map[string]any `json:"toolParams"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// ToolResultData is the payload of stream_tool_result.
type ToolResultData struct {
	ToolName string `json:"toolName"`
	Result   any    `json:"result"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// CompleteData is the payload of stream_complete.
type CompleteData struct {
	FinalResponse string          `json:"finalResponse"`
	ToolsUsed     []string        `json:"toolsUsed"`
	TokenUsage    core.TokenUsage `json:"tokenUsage"`
	ExecutionTime time.Duration   `json:"executionTime"`
}

// ErrorData is the payload of stream_error.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func (StartData) eventType() EventType      { return EventStart }
func (ChunkData) eventType() EventType      { return EventChunk }
func (ToolCallData) eventType() EventType   { return EventToolCall }
func (ToolResultData) eventType() EventType { return EventToolResult }
func (CompleteData) eventType() EventType   { return EventComplete }
func (ErrorData) eventType() EventType      { return EventError }

// UnmarshalJSON decodes the envelope and picks the payload type from Type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type        EventType       `json:"type"`
		SessionID   string          `json:"sessionId"`
		ExecutionID string          `json:"executionId"`
		Timestamp   time.Time       `json:"timestamp"`
		Data        json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var (
		data Data
		err  error
	)
	switch raw.Type {
	case EventStart:
		data, err = decodeData[StartData](raw.Data)
	case EventChunk:
		data, err = decodeData[ChunkData](raw.Data)
	case EventToolCall:
		data, err = decodeData[ToolCallData](raw.Data)
	case EventToolResult:
		data, err = decodeData[ToolResultData](raw.Data)
	case EventComplete:
		data, err = decodeData[CompleteData](raw.Data)
	case EventError:
		data, err = decodeData[ErrorData](raw.Data)
	default:
		return fmt.Errorf("unknown stream event type %q", raw.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", raw.Type, err)
	}
	*e = Event{Type: raw.Type, SessionID: raw.SessionID, ExecutionID: raw.ExecutionID, Timestamp: raw.Timestamp, Data: data}
	return nil
}

func decodeData[T Data](raw json.RawMessage) (Data, error) {
	var v T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func newEvent(s *Session, data Data, now time.Time) Event {
	return Event{
		Type:        data.eventType(),
		SessionID:   s.SessionID,
		ExecutionID: s.ExecutionID,
		Timestamp:   now.UTC(),
		Data:        data,
	}
}
