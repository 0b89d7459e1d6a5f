package testutil

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentexec/core"
)

// ConversationBuilder builds deterministic message histories.
// Example:
//
//	history := NewConversationBuilder().User("hi").Assistant("hello").Build()
//
// Messages get sequential ids ("m1", "m2", ...) and timestamps one second
// apart starting at a fixed base time.
type ConversationBuilder struct {
	base time.Time
	msgs []core.Message
}

// NewConversationBuilder creates an empty builder.
func NewConversationBuilder() *ConversationBuilder {
	return &ConversationBuilder{base: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Base overrides the timestamp of the first message (chainable).
func (b *ConversationBuilder) Base(t time.Time) *ConversationBuilder { b.base = t; return b }

// User appends a user turn (chainable).
func (b *ConversationBuilder) User(content string) *ConversationBuilder {
	return b.add(core.RoleUser, content)
}

// Assistant appends an assistant turn (chainable).
func (b *ConversationBuilder) Assistant(content string) *ConversationBuilder {
	return b.add(core.RoleAssistant, content)
}

// Turns appends n alternating user/assistant messages with numbered content.
func (b *ConversationBuilder) Turns(n int) *ConversationBuilder {
	for range n {
		i := len(b.msgs) + 1
		if i%2 == 1 {
			b.User(fmt.Sprintf("user message %d", i))
		} else {
			b.Assistant(fmt.Sprintf("assistant message %d", i))
		}
	}
	return b
}

func (b *ConversationBuilder) add(role core.Role, content string) *ConversationBuilder {
	i := len(b.msgs) + 1
	b.msgs = append(b.msgs, core.Message{
		ID:        fmt.Sprintf("m%d", i),
		Role:      role,
		Content:   content,
		Timestamp: b.base.Add(time.Duration(i-1) * time.Second),
	})
	return b
}

// Build returns a copy of the accumulated messages.
func (b *ConversationBuilder) Build() []core.Message {
	return append([]core.Message(nil), b.msgs...)
}
