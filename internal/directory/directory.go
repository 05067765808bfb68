// Package directory resolves participant display fields from the user
// table through a short-lived Redis cache.
package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"wager-engine/internal/model"
)

// Source is the authoritative user lookup.
type Source interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// Directory resolves users by id. A lookup never fails: ids that cannot be
// resolved get the "unknown" placeholder.
type Directory struct {
	source Source
	cache  redis.UniversalClient
	ttl    time.Duration
}

// New creates a Directory. A nil cache disables caching.
func New(source Source, cache redis.UniversalClient, ttl time.Duration) *Directory {
	return &Directory{source: source, cache: cache, ttl: ttl}
}

func cacheKey(id string) string {
	return "user:profile:" + id
}

// Lookup returns a user for every requested id.
func (d *Directory) Lookup(ctx context.Context, ids []string) map[string]model.User {
	out := make(map[string]model.User, len(ids))
	missing := d.fromCache(ctx, ids, out)

	if len(missing) > 0 {
		users, err := d.source.GetByIDs(ctx, missing)
		if err != nil {
			log.Warn().Err(err).Int("count", len(missing)).Msg("User lookup failed, using placeholders")
		}
		for _, u := range users {
			out[u.ID] = u
		}
		d.store(ctx, users)
	}

	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = model.UnknownUser(id)
		}
	}
	return out
}

// Get returns a single user.
func (d *Directory) Get(ctx context.Context, id string) model.User {
	return d.Lookup(ctx, []string{id})[id]
}

func (d *Directory) fromCache(ctx context.Context, ids []string, out map[string]model.User) []string {
	if d.cache == nil || len(ids) == 0 {
		return ids
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	vals, err := d.cache.MGet(ctx, keys...).Result()
	if err != nil {
		log.Debug().Err(err).Msg("User cache read failed")
		return ids
	}

	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var u model.User
		if err := json.Unmarshal([]byte(s), &u); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		out[ids[i]] = u
	}
	return missing
}

func (d *Directory) store(ctx context.Context, users []model.User) {
	if d.cache == nil || len(users) == 0 {
		return
	}
	_, err := d.cache.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			data, err := json.Marshal(u)
			if err != nil {
				continue
			}
			pipe.Set(ctx, cacheKey(u.ID), data, d.ttl)
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Msg("User cache write failed")
	}
}
