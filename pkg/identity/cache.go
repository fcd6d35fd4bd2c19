package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrSessionNotFound is returned when a session ID has no cached state
var ErrSessionNotFound = fmt.Errorf("session not found")

// SessionCache holds materialized sessions keyed by session ID
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Set(ctx context.Context, session *Session, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error

	// SetEndReason leaves a short-lived note on why a session ended, so the
	// next request carrying the stale cookie can say what happened.
	SetEndReason(ctx context.Context, sessionID, reason string, ttl time.Duration) error
	// EndReason returns the recorded reason, or "" when none is known.
	EndReason(ctx context.Context, sessionID string) (string, error)
}

// RedisSessionCache implements SessionCache over Redis. Sessions are stored
// as JSON so every clearway instance behind the load balancer sees the same
// materialized state.
type RedisSessionCache struct {
	client *redis.Client
}

// NewRedisSessionCache creates a new Redis-backed session cache
func NewRedisSessionCache(client *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

func sessionKey(sessionID string) string {
	return "clearway:session:" + sessionID
}

// Get retrieves a cached session
func (c *RedisSessionCache) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := c.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Set stores a session with a TTL
func (c *RedisSessionCache) Set(ctx context.Context, session *Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := c.client.Set(ctx, sessionKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// Delete removes a session from the cache
func (c *RedisSessionCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func endReasonKey(sessionID string) string {
	return "clearway:signout:" + sessionID
}

// SetEndReason records a sign-out reason tombstone for an ended session
func (c *RedisSessionCache) SetEndReason(ctx context.Context, sessionID, reason string, ttl time.Duration) error {
	if err := c.client.Set(ctx, endReasonKey(sessionID), reason, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set end reason: %w", err)
	}
	return nil
}

// EndReason returns the sign-out reason for an ended session, if still known
func (c *RedisSessionCache) EndReason(ctx context.Context, sessionID string) (string, error) {
	reason, err := c.client.Get(ctx, endReasonKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get end reason: %w", err)
	}
	return reason, nil
}
