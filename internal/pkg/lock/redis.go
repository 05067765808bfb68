package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wager-engine/internal/pkg/errs"
)

// releaseScript deletes the key only when it still carries the caller's token.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Redis is a Locker backed by SET NX PX on the shared volatile store.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a new Redis locker.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// TryLock attempts to acquire the lock without blocking.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := newToken()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", errs.Wrap(errs.ErrUnavailable, fmt.Errorf("failed to acquire lock %s: %w", key, err))
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Unlock releases the lock if the token matches.
func (r *Redis) Unlock(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
	if err != nil {
		return errs.Wrap(errs.ErrUnavailable, fmt.Errorf("failed to release lock %s: %w", key, err))
	}
	if n == 0 {
		return ErrNotHolder
	}
	return nil
}
