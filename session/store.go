package session

import (
	"context"

	"github.com/hupe1980/agentexec/core"
)

// Store persists the message history of conversations.
type Store interface {
	// Append adds messages to the end of a conversation.
	Append(ctx context.Context, sessionID string, msgs ...core.Message) error
	// History returns the last limit messages, oldest first. limit <= 0
	// returns everything.
	History(ctx context.Context, sessionID string, limit int) ([]core.Message, error)
	// Count returns the number of stored messages.
	Count(ctx context.Context, sessionID string) (int, error)
	// Delete drops a conversation.
	Delete(ctx context.Context, sessionID string) error
}

func tail(msgs []core.Message, limit int) []core.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]core.Message(nil), msgs...)
}
