// Package lock provides short-lived advisory locks keyed by string.
// A lock is set-if-absent with an expiry so a crashed holder never wedges
// the protected resource for longer than the TTL.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Locker acquires and releases advisory locks.
type Locker interface {
	// TryLock acquires key without blocking. It returns ErrLockHeld when the
	// key is owned by someone else, and a token that must be passed to Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Unlock releases key if token still owns it.
	Unlock(ctx context.Context, key, token string) error
}

// WithLock executes fn while holding key. The lock is released as soon as fn
// returns, regardless of its result.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func() error) error {
	token, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// Release on a fresh context: the caller's may already be canceled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.Unlock(releaseCtx, key, token)
	}()
	return fn()
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// localEntry is one held key in a Local locker.
type localEntry struct {
	token     string
	expiresAt time.Time
}

// Local is an in-process Locker. It honours the same TTL semantics as the
// Redis locker and is used by single-process tools and tests.
type Local struct {
	mu    sync.Mutex
	locks map[string]localEntry
	now   func() time.Time
}

// NewLocal creates a new Local locker.
func NewLocal() *Local {
	return &Local{
		locks: make(map[string]localEntry),
		now:   time.Now,
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expiresAt) {
		return "", ErrLockHeld
	}
	token := newToken()
	l.locks[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// Unlock releases the lock if the token matches.
func (l *Local) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok || e.token != token {
		return ErrNotHolder
	}
	delete(l.locks, key)
	return nil
}

// IsLocked checks if key is currently held.
// Note: This is a point-in-time check and may change immediately after.
func (l *Local) IsLocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	return ok && l.now().Before(e.expiresAt)
}
