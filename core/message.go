package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleSystem is used for system instructions.
	RoleSystem Role = "system"
	// RoleUser marks end-user turns and synthetic tool observations.
	RoleUser Role = "user"
	// RoleAssistant marks model turns.
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. ID is optional; stores that need a
// stable identity (long-term memory de-duplication) derive one when empty.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{ID: NewID(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// TokenUsage is a pair of monotonically increasing token counters.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + o.Input, Output: u.Output + o.Output}
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// NewID generates a new unique identifier for executions, sessions and messages.
func NewID() string { return uuid.NewString() }
