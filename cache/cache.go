// Package cache provides the key/value cache used by the memory subsystem
// for search results and statistics.
//
// Keys are plain strings; Keys accepts Redis style glob patterns
// ("memory:s1:*") on every implementation.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-valued cache with per-key TTL.
type Cache interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Keys lists keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// DeletePattern removes every key matching pattern and returns how many were
// deleted.
func DeletePattern(ctx context.Context, c Cache, pattern string) (int, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}
