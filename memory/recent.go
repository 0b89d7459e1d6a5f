package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentexec/core"
	"github.com/redis/go-redis/v9"
)

// RecentWindow is the short-term tier: an append-then-trim list of the most
// recent messages per session.
type RecentWindow interface {
	Push(ctx context.Context, sessionID string, msgs ...core.Message) error
	List(ctx context.Context, sessionID string) ([]core.Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// InMemoryRecentWindow keeps windows in process memory.
type InMemoryRecentWindow struct {
	mu       sync.Mutex
	capacity int
	windows  map[string][]core.Message
}

// NewInMemoryRecentWindow creates a window holding at most capacity messages
// per session (10 when capacity <= 0).
func NewInMemoryRecentWindow(capacity int) *InMemoryRecentWindow {
	if capacity <= 0 {
		capacity = 10
	}
	return &InMemoryRecentWindow{capacity: capacity, windows: make(map[string][]core.Message)}
}

// Push appends and trims to capacity.
func (w *InMemoryRecentWindow) Push(_ context.Context, sessionID string, msgs ...core.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	win := append(w.windows[sessionID], msgs...)
	if len(win) > w.capacity {
		win = append([]core.Message(nil), win[len(win)-w.capacity:]...)
	}
	w.windows[sessionID] = win
	return nil
}

// List returns the window oldest first.
func (w *InMemoryRecentWindow) List(_ context.Context, sessionID string) ([]core.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]core.Message(nil), w.windows[sessionID]...), nil
}

// Clear drops the session window.
func (w *InMemoryRecentWindow) Clear(_ context.Context, sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.windows, sessionID)
	return nil
}

// RedisRecentWindow stores each window as a Redis list at
// "memory:<sessionId>:recent" (RPUSH then LTRIM).
type RedisRecentWindow struct {
	client   redis.UniversalClient
	capacity int
	ttl      time.Duration
}

// NewRedisRecentWindow creates a Redis-backed window. ttl <= 0 disables expiry.
func NewRedisRecentWindow(client redis.UniversalClient, capacity int, ttl time.Duration) *RedisRecentWindow {
	if capacity <= 0 {
		capacity = 10
	}
	return &RedisRecentWindow{client: client, capacity: capacity, ttl: ttl}
}

func recentKey(sessionID string) string {
	return "memory:" + sessionID + ":recent"
}

// Push appends and trims atomically in one pipeline.
func (w *RedisRecentWindow) Push(ctx context.Context, sessionID string, msgs ...core.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values[i] = b
	}
	key := recentKey(sessionID)
	_, err := w.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, values...)
		p.LTrim(ctx, key, int64(-w.capacity), -1)
		if w.ttl > 0 {
			p.Expire(ctx, key, w.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push recent: %w", err)
	}
	return nil
}

// List returns the window oldest first.
func (w *RedisRecentWindow) List(ctx context.Context, sessionID string) ([]core.Message, error) {
	raw, err := w.client.LRange(ctx, recentKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list recent: %w", err)
	}
	out := make([]core.Message, 0, len(raw))
	for _, r := range raw {
		var m core.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Clear deletes the list.
func (w *RedisRecentWindow) Clear(ctx context.Context, sessionID string) error {
	if err := w.client.Del(ctx, recentKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis clear recent: %w", err)
	}
	return nil
}
