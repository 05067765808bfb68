package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Heartbeats records loop liveness in the shared store.
type Heartbeats interface {
	Beat(ctx context.Context, loop, server string, at time.Time, ttl time.Duration) error
	Last(ctx context.Context, loop, server string) (time.Time, error)
}

// ErrNoHeartbeat is returned by Last when the loop has not beaten within its TTL.
var ErrNoHeartbeat = errors.New("no heartbeat")

// RedisHeartbeats stores one expiring key per loop and server.
type RedisHeartbeats struct {
	client redis.UniversalClient
}

// NewRedisHeartbeats creates a Redis-backed heartbeat store.
func NewRedisHeartbeats(client redis.UniversalClient) *RedisHeartbeats {
	return &RedisHeartbeats{client: client}
}

func heartbeatKey(loop, server string) string {
	return "scheduler:heartbeat:" + loop + ":" + server
}

// Beat records that loop ran on server at the given time.
func (h *RedisHeartbeats) Beat(ctx context.Context, loop, server string, at time.Time, ttl time.Duration) error {
	if err := h.client.Set(ctx, heartbeatKey(loop, server), at.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	return nil
}

// Last returns the time of the most recent live heartbeat.
func (h *RedisHeartbeats) Last(ctx context.Context, loop, server string) (time.Time, error) {
	raw, err := h.client.Get(ctx, heartbeatKey(loop, server)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNoHeartbeat
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read heartbeat: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid heartbeat value %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}
