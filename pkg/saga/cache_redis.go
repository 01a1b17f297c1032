package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "sagabank:session:"
	redisSessionIndex  = "sagabank:sessions"
)

// RedisCache is the SessionCache for multi-instance initiators. Session
// ids live in a set so List can scan without KEYS.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache pings the server and returns the cache.
func NewRedisCache(ctx context.Context, client *redis.Client) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("saga: redis client cannot be nil")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("saga: ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func sessionKey(sagaID string) string {
	return redisSessionPrefix + sagaID
}

// Put stores the session and indexes its id.
func (c *RedisCache) Put(ctx context.Context, session *Session) error {
	if session == nil || session.SagaID == "" {
		return fmt.Errorf("saga: session and saga id are required")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("saga: marshal session: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.SagaID), data, redis.KeepTTL)
	pipe.SAdd(ctx, redisSessionIndex, session.SagaID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saga: store session: %w", err)
	}
	return nil
}

// Get loads one session by saga id.
func (c *RedisCache) Get(ctx context.Context, sagaID string) (*Session, error) {
	data, err := c.client.Get(ctx, sessionKey(sagaID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sagaID)
		}
		return nil, fmt.Errorf("saga: load session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("saga: unmarshal session: %w", err)
	}
	return &session, nil
}

// Expire sets a TTL on the session key and drops the index entry once
// the TTL passes List's next sweep.
func (c *RedisCache) Expire(ctx context.Context, sagaID string, ttl time.Duration) error {
	ok, err := c.client.Expire(ctx, sessionKey(sagaID), ttl).Result()
	if err != nil {
		return fmt.Errorf("saga: expire session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sagaID)
	}
	return nil
}

// Delete removes the session and its index entry.
func (c *RedisCache) Delete(ctx context.Context, sagaID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sagaID))
	pipe.SRem(ctx, redisSessionIndex, sagaID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saga: delete session: %w", err)
	}
	return nil
}

// List returns all live sessions, pruning index entries whose keys
// have expired.
func (c *RedisCache) List(ctx context.Context) ([]*Session, error) {
	ids, err := c.client.SMembers(ctx, redisSessionIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("saga: list sessions: %w", err)
	}
	sessions := make([]*Session, 0, len(ids))
	for _, sagaID := range ids {
		session, err := c.Get(ctx, sagaID)
		if errors.Is(err, ErrSessionNotFound) {
			_ = c.client.SRem(ctx, redisSessionIndex, sagaID).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error { return c.client.Close() }
