package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// RedisTracker stores heartbeats as TTL'd keys so multi-node deployments
// share one presence view. Key layout: presence:<session>:<client>.
type RedisTracker struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisTracker connects to Redis and verifies the connection.
func NewRedisTracker(ctx context.Context, addr string, ttl time.Duration) (*RedisTracker, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisTracker{rdb: rdb, ttl: ttl}, nil
}

// Close releases the underlying connection.
func (r *RedisTracker) Close() error { return r.rdb.Close() }

func presenceKey(sessionID uuid.UUID, clientID string) string {
	return fmt.Sprintf("presence:%s:%s", sessionID, clientID)
}

// Heartbeat implements Tracker.
func (r *RedisTracker) Heartbeat(ctx context.Context, sessionID uuid.UUID, p types.UserPresence) error {
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = time.Now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := r.rdb.Set(ctx, presenceKey(sessionID, p.ClientID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	return nil
}

// Active implements Tracker. Expired clients disappear via key TTL.
func (r *RedisTracker) Active(ctx context.Context, sessionID uuid.UUID) ([]types.UserPresence, error) {
	pattern := fmt.Sprintf("presence:%s:*", sessionID)
	var out []types.UserPresence
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == goredis.Nil {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("read presence: %w", err)
		}
		var p types.UserPresence
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode presence: %w", err)
		}
		out = append(out, p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}
	return out, nil
}
