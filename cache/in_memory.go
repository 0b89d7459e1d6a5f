package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// InMemoryCache is a process-local Cache. Expired entries are removed lazily
// on access.
type InMemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewInMemoryCache creates an empty cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string]entry), now: time.Now}
}

// Get returns a copy of the stored value.
func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value.
func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Delete removes keys.
func (c *InMemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// Keys returns the live keys matching pattern, sorted.
func (c *InMemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []string
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			continue
		}
		if g.Match(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored entries, including expired ones not yet
// collected.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
