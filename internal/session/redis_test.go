package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/cache/cachetest"
)

func TestRedisBackend(t *testing.T) {
	client := cachetest.NewClient(t)
	runBackendContract(t, func(t *testing.T) Backend {
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatal(err)
		}
		return NewRedisBackend(client)
	})
}

func TestRedisBackend_WritesRefreshBackReferences(t *testing.T) {
	client := cachetest.NewClient(t)
	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx).Err())

	s := New[duel](NewRedisBackend(client), model.ModeCoinflip, Options{TTL: time.Hour})
	require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}, "u1"))

	// Age the creator's reference as if most of its TTL had passed.
	ref := userKey(model.ModeCoinflip, "u1")
	require.NoError(t, client.Expire(ctx, ref, time.Minute).Err())

	_, err := s.Update(ctx, "g1", join("u2"))
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, ref).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Minute)

	owner, err := s.Participant(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "g1", owner)
}
