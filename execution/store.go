package execution

import (
	"context"
	"sync"
)

// Store persists execution records. Implementations must return copies so
// callers cannot mutate stored state.
type Store interface {
	Get(ctx context.Context, id string) (*Execution, bool, error)
	Set(ctx context.Context, e *Execution) error
	Delete(ctx context.Context, id string) error
}

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*Execution
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{execs: make(map[string]*Execution)}
}

// Get returns a copy of the record.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Execution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.execs[id]
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

// Set stores a copy of the record.
func (s *InMemoryStore) Set(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[e.ID] = e.Clone()
	return nil
}

// Delete removes the record; deleting an unknown id is not an error.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.execs, id)
	return nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.execs)
}
