package session

import (
	"context"
	"sync"

	"github.com/hupe1980/agentexec/core"
)

// InMemoryStore is a volatile Store keeping histories in a process local
// map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Returned slices are copies.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]core.Message
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]core.Message)}
}

// Append adds messages; messages without an id get one.
func (s *InMemoryStore) Append(_ context.Context, sessionID string, msgs ...core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = core.NewID()
		}
		s.sessions[sessionID] = append(s.sessions[sessionID], m)
	}
	return nil
}

// History returns the last limit messages.
func (s *InMemoryStore) History(_ context.Context, sessionID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.sessions[sessionID], limit), nil
}

// Count returns the history length.
func (s *InMemoryStore) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID]), nil
}

// Delete drops the history.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
