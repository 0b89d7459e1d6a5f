package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentexec/logging"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "agentexec:stream:"

// RedisSessionStore keeps the session table in Redis as one JSON document per
// session so any process can answer status queries.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisStoreOptions configures a RedisSessionStore.
type RedisStoreOptions struct {
	// Prefix is prepended to every key. Defaults to "agentexec:stream:".
	Prefix string
	// TTL bounds how long an abandoned session survives. Defaults to one hour.
	TTL time.Duration
}

// NewRedisSessionStore creates a Redis backed session table.
func NewRedisSessionStore(client redis.UniversalClient, optFns ...func(o *RedisStoreOptions)) *RedisSessionStore {
	opts := RedisStoreOptions{Prefix: defaultRedisPrefix, TTL: time.Hour}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisSessionStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

// Get loads the session document.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*Session, bool, error) {
	b, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &sess, true, nil
}

// Set writes the session document with the configured TTL.
func (s *RedisSessionStore) Set(ctx context.Context, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.SessionID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Delete removes the session document.
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// RedisSink publishes every event as JSON on the channel
// "<prefix>events:<sessionId>", letting subscribers on other instances follow
// a run that executes elsewhere.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	logger logging.Logger
}

// NewRedisSink creates a pub/sub sink.
func NewRedisSink(client redis.UniversalClient, logger logging.Logger) *RedisSink {
	return &RedisSink{client: client, prefix: defaultRedisPrefix, logger: logging.OrNop(logger)}
}

// Channel returns the pub/sub channel for a session.
func (s *RedisSink) Channel(sessionID string) string {
	return s.prefix + "events:" + sessionID
}

// Emit publishes the event. Failures are logged, never returned.
func (s *RedisSink) Emit(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("Failed to encode stream event", "session_id", e.SessionID, "type", e.Type, "error", err)
		return
	}
	if err := s.client.Publish(ctx, s.Channel(e.SessionID), b).Err(); err != nil {
		s.logger.Warn("Failed to publish stream event", "session_id", e.SessionID, "type", e.Type, "error", err)
	}
}

// Subscribe follows a session's events published by any instance. The
// returned channel closes after the terminal event or when ctx ends.
func (s *RedisSink) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	ps := s.client.Subscribe(ctx, s.Channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					s.logger.Warn("Dropping undecodable stream event", "session_id", sessionID, "error", err)
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if e.Type.IsTerminal() {
					return
				}
			}
		}
	}()
	return out, nil
}
