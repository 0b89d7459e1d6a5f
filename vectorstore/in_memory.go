package vectorstore

import (
	"context"
	"sync"
)

type namespace struct {
	order   []string
	records map[string]Record
}

// InMemoryStore keeps every namespace in process memory and scans it on
// query.
type InMemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{namespaces: make(map[string]*namespace)}
}

// Upsert inserts or replaces records. A replaced record keeps its original
// position in insertion order.
func (s *InMemoryStore) Upsert(_ context.Context, ns string, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.namespaces[ns]
	if !ok {
		n = &namespace{records: make(map[string]Record)}
		s.namespaces[ns] = n
	}
	for _, r := range records {
		if _, exists := n.records[r.ID]; !exists {
			n.order = append(n.order, r.ID)
		}
		n.records[r.ID] = Record{
			ID:       r.ID,
			Text:     r.Text,
			Vector:   append([]float32(nil), r.Vector...),
			Metadata: copyMetadata(r.Metadata),
		}
	}
	return nil
}

// Query scans the namespace.
func (s *InMemoryStore) Query(_ context.Context, ns string, vector []float32, topK int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.namespaces[ns]
	if !ok {
		return nil, nil
	}
	matches := make([]Match, 0, len(n.order))
	for _, id := range n.order {
		r := n.records[id]
		matches = append(matches, Match{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: copyMetadata(r.Metadata),
			Distance: CosineDistance(vector, r.Vector),
		})
	}
	return rank(matches, topK), nil
}

// ListIDs returns ids in insertion order.
func (s *InMemoryStore) ListIDs(_ context.Context, ns string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.namespaces[ns]
	if !ok {
		return nil, nil
	}
	ids := n.order
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return append([]string(nil), ids...), nil
}

// List returns records in insertion order.
func (s *InMemoryStore) List(_ context.Context, ns string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.namespaces[ns]
	if !ok {
		return nil, nil
	}
	var out []Record
	for _, id := range n.order {
		if limit > 0 && len(out) == limit {
			break
		}
		r := n.records[id]
		out = append(out, Record{ID: r.ID, Text: r.Text, Metadata: copyMetadata(r.Metadata)})
	}
	return out, nil
}

// Count returns the namespace size.
func (s *InMemoryStore) Count(_ context.Context, ns string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.namespaces[ns]; ok {
		return len(n.order), nil
	}
	return 0, nil
}

// Delete removes ids from the namespace.
func (s *InMemoryStore) Delete(_ context.Context, ns string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.namespaces[ns]
	if !ok {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, exists := n.records[id]; exists {
			drop[id] = struct{}{}
			delete(n.records, id)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := n.order[:0]
	for _, id := range n.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	n.order = kept
	return nil
}

// DeleteNamespace drops the namespace.
func (s *InMemoryStore) DeleteNamespace(_ context.Context, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, ns)
	return nil
}
