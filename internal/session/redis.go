package session

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
)

// RedisBackend stores session documents in Redis. CAS uses WATCH on the
// document and every touched back-reference, then a MULTI/EXEC pipeline.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend creates a new RedisBackend.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Load returns the raw document.
func (b *RedisBackend) Load(ctx context.Context, mode model.Mode, id string) ([]byte, error) {
	raw, err := b.client.Get(ctx, docKey(mode, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(ErrStoreUnavailable, err)
	}
	return raw, nil
}

// Create writes a new document if its key is free.
func (b *RedisBackend) Create(ctx context.Context, mode model.Mode, id, server string, c Change) error {
	key := docKey(mode, id)
	watched := append([]string{key}, userKeys(mode, c.Claims)...)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return errs.Wrap(ErrStoreUnavailable, err)
		}
		if n > 0 {
			return ErrExists
		}
		if err := checkClaims(ctx, tx, mode, id, c.Claims); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, c.Doc, c.TTL)
			for _, uid := range c.Claims {
				pipe.Set(ctx, userKey(mode, uid), id, c.TTL)
			}
			pipe.SAdd(ctx, activeKey(mode, ""), id)
			if server != "" {
				pipe.SAdd(ctx, activeKey(mode, server), id)
			}
			return nil
		})
		return err
	}
	return b.watch(ctx, txf, watched...)
}

// Swap applies fn to the current document under WATCH.
func (b *RedisBackend) Swap(ctx context.Context, mode model.Mode, id string, fn func(cur []byte) (*Change, error)) error {
	key := docKey(mode, id)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return errs.Wrap(ErrStoreUnavailable, err)
		}

		c, err := fn(cur)
		if err != nil || c == nil {
			return err
		}

		refs := userKeys(mode, touched(c))
		if len(refs) > 0 {
			if err := tx.Watch(ctx, refs...).Err(); err != nil {
				return errs.Wrap(ErrStoreUnavailable, err)
			}
		}
		if err := checkClaims(ctx, tx, mode, id, c.Claims); err != nil {
			return err
		}
		hold, err := ownedRefs(ctx, tx, mode, id, c.Holds)
		if err != nil {
			return err
		}
		release, err := ownedRefs(ctx, tx, mode, id, c.Releases)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, c.Doc, c.TTL)
			for _, k := range hold {
				pipe.Set(ctx, k, id, c.TTL)
			}
			for _, uid := range c.Claims {
				pipe.Set(ctx, userKey(mode, uid), id, c.TTL)
			}
			if len(release) > 0 {
				pipe.Del(ctx, release...)
			}
			return nil
		})
		return err
	}
	return b.watch(ctx, txf, key)
}

// Participant returns the session a participant is bound to.
func (b *RedisBackend) Participant(ctx context.Context, mode model.Mode, userID string) (string, error) {
	id, err := b.client.Get(ctx, userKey(mode, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errs.Wrap(ErrStoreUnavailable, err)
	}
	return id, nil
}

// Active lists the ids in an active index.
func (b *RedisBackend) Active(ctx context.Context, mode model.Mode, server string) ([]string, error) {
	ids, err := b.client.SMembers(ctx, activeKey(mode, server)).Result()
	if err != nil {
		return nil, errs.Wrap(ErrStoreUnavailable, err)
	}
	return ids, nil
}

// Deactivate removes id from the active indexes.
func (b *RedisBackend) Deactivate(ctx context.Context, mode model.Mode, id, server string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, activeKey(mode, ""), id)
		if server != "" {
			pipe.SRem(ctx, activeKey(mode, server), id)
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(ErrStoreUnavailable, err)
	}
	return nil
}

func (b *RedisBackend) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	err := b.client.Watch(ctx, txf, keys...)
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStale
	}
	if errors.Is(err, errs.ErrUnavailable) {
		return err
	}
	// Errors from the mutator pass through untouched; transport and server
	// errors mean the store itself is failing.
	var (
		rerr redis.Error
		nerr net.Error
	)
	if errors.As(err, &rerr) || errors.As(err, &nerr) {
		return errs.Wrap(ErrStoreUnavailable, err)
	}
	return err
}

// checkClaims fails with ErrParticipantBusy if any participant is bound to a
// session other than id.
func checkClaims(ctx context.Context, tx *redis.Tx, mode model.Mode, id string, claims []string) error {
	for _, uid := range claims {
		cur, err := tx.Get(ctx, userKey(mode, uid)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return errs.Wrap(ErrStoreUnavailable, err)
		}
		if cur != id {
			return ErrParticipantBusy
		}
	}
	return nil
}

// ownedRefs returns the back-reference keys among ids that still point at id.
func ownedRefs(ctx context.Context, tx *redis.Tx, mode model.Mode, id string, ids []string) ([]string, error) {
	var keys []string
	for _, uid := range ids {
		k := userKey(mode, uid)
		cur, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errs.Wrap(ErrStoreUnavailable, err)
		}
		if cur == id {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func userKeys(mode model.Mode, ids []string) []string {
	keys := make([]string, 0, len(ids))
	for _, uid := range ids {
		keys = append(keys, userKey(mode, uid))
	}
	return keys
}
