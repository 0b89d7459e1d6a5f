package stream

import (
	"context"
	"sync"
)

// SessionStore is the session table behind the Manager. The in-memory store
// gives single-process affinity; RedisSessionStore externalises the table so
// status can be read from any instance.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*Session, bool, error)
	Set(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
}

// InMemoryStore is a process-local SessionStore. Sessions are cloned on the
// way in and out.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session)}
}

// Get returns a copy of the session.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

// Set stores a copy of the session.
func (s *InMemoryStore) Set(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

// Delete removes the session.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of sessions in the table.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
