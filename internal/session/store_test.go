package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
)

type duel struct {
	ID     string `json:"id"`
	First  string `json:"first"`
	Second string `json:"second"`
	Done   bool   `json:"done"`
}

func (d *duel) ParticipantIDs() []string {
	ids := []string{d.First}
	if d.Second != "" {
		ids = append(ids, d.Second)
	}
	return ids
}

var errFull = fmt.Errorf("%w: duel is full", errs.ErrConflict)

func join(uid string) Mutator[duel] {
	return func(d *duel, w *Write) error {
		if d.Second != "" {
			return errFull
		}
		d.Second = uid
		w.Claim(uid)
		return nil
	}
}

// runBackendContract exercises the behaviour every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("create claims participants", func(t *testing.T) {
		s := New[duel](newBackend(t), model.ModeCoinflip, Options{Server: "w1", TTL: time.Minute})

		require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}, "u1"))
		assert.ErrorIs(t, s.Create(ctx, "g1", &duel{ID: "g1"}), ErrExists)

		err := s.Create(ctx, "g2", &duel{ID: "g2", First: "u1"}, "u1")
		assert.ErrorIs(t, err, ErrParticipantBusy)
		assert.ErrorIs(t, err, errs.ErrConflict)

		owner, err := s.Participant(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "g1", owner)

		ids, err := s.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"g1"}, ids)
	})

	t.Run("update applies mutator", func(t *testing.T) {
		s := New[duel](newBackend(t), model.ModeCoinflip, Options{TTL: time.Minute})
		require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}, "u1"))

		got, err := s.Update(ctx, "g1", join("u2"))
		require.NoError(t, err)
		assert.Equal(t, "u2", got.Second)

		_, err = s.Update(ctx, "g1", join("u3"))
		assert.ErrorIs(t, err, errFull)

		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "u2", stored.Second)

		owner, err := s.Participant(ctx, "u3")
		require.NoError(t, err)
		assert.Empty(t, owner)
	})

	t.Run("release drops back-references", func(t *testing.T) {
		s := New[duel](newBackend(t), model.ModeCoinflip, Options{TTL: time.Minute})
		require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}, "u1"))

		_, err := s.Update(ctx, "g1", func(d *duel, w *Write) error {
			d.Done = true
			w.Release("u1")
			return nil
		})
		require.NoError(t, err)

		owner, err := s.Participant(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, owner)

		require.NoError(t, s.Create(ctx, "g2", &duel{ID: "g2", First: "u1"}, "u1"))
	})

	t.Run("claim of a participant bound elsewhere fails", func(t *testing.T) {
		s := New[duel](newBackend(t), model.ModeCoinflip, Options{TTL: time.Minute})
		require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}, "u1"))
		require.NoError(t, s.Create(ctx, "g2", &duel{ID: "g2", First: "u2"}, "u2"))

		_, err := s.Update(ctx, "g1", join("u2"))
		assert.ErrorIs(t, err, ErrParticipantBusy)

		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Empty(t, stored.Second)
	})

	t.Run("skip leaves the document untouched", func(t *testing.T) {
		s := New[duel](newBackend(t), model.ModeCoinflip, Options{TTL: time.Minute})
		require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}))

		got, err := s.Update(ctx, "g1", func(d *duel, w *Write) error {
			d.Second = "ignored"
			return ErrSkip
		})
		require.NoError(t, err)
		assert.Equal(t, "u1", got.First)

		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Empty(t, stored.Second)
	})

	t.Run("missing session", func(t *testing.T) {
		s := New[duel](newBackend(t), model.ModeJackpot, Options{TTL: time.Minute})
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Update(ctx, "nope", join("u1"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deactivate", func(t *testing.T) {
		b := newBackend(t)
		s := New[duel](b, model.ModeJackpot, Options{Server: "w1", TTL: time.Minute})
		require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1"}))
		require.NoError(t, s.Deactivate(ctx, "g1", "w1"))

		ids, err := s.Active(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
		ids, err = b.Active(ctx, model.ModeJackpot, "w1")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("concurrent joins fill the seat once", func(t *testing.T) {
		s := New[duel](newBackend(t), model.ModeCoinflip, Options{TTL: time.Minute, Attempts: 3})

		for round := 0; round < 20; round++ {
			id := fmt.Sprintf("g%d", round)
			require.NoError(t, s.Create(ctx, id, &duel{ID: id, First: "creator"}))

			var wg sync.WaitGroup
			results := make([]error, 2)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, results[i] = s.Update(ctx, id, join(fmt.Sprintf("%s-u%d", id, i)))
				}(i)
			}
			wg.Wait()

			ok := 0
			for _, err := range results {
				if err == nil {
					ok++
				} else {
					assert.ErrorIs(t, err, errs.ErrConflict)
				}
			}
			assert.Equal(t, 1, ok, "round %d: %v", round, results)
		}
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendContract(t, func(*testing.T) Backend { return NewMemoryBackend() })
}

func TestMemoryBackend_TTL(t *testing.T) {
	b := NewMemoryBackend()
	now := time.Now()
	b.now = func() time.Time { return now }
	s := New[duel](b, model.ModeCoinflip, Options{TTL: time.Second})
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1"}, "u1"))
	now = now.Add(2 * time.Second)

	_, err := s.Get(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)
	owner, err := s.Participant(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

// A back-reference must live as long as the session it points at, even when
// the session outlives the TTL of the write that claimed it.
func TestMemoryBackend_WritesRefreshBackReferences(t *testing.T) {
	b := NewMemoryBackend()
	now := time.Now()
	b.now = func() time.Time { return now }
	s := New[duel](b, model.ModeCoinflip, Options{TTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}, "u1"))
	now = now.Add(40 * time.Minute)
	_, err := s.Update(ctx, "g1", join("u2"))
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)

	stored, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "u2", stored.Second)

	owner, err := s.Participant(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "g1", owner)

	err = s.Create(ctx, "g2", &duel{ID: "g2", First: "u1"}, "u1")
	assert.ErrorIs(t, err, ErrParticipantBusy)
}

func TestMemoryBackend_ReleaseWinsOverRefresh(t *testing.T) {
	s := New[duel](NewMemoryBackend(), model.ModeCoinflip, Options{TTL: time.Hour})
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1", First: "u1"}, "u1"))

	_, err := s.Update(ctx, "g1", func(d *duel, w *Write) error {
		d.Done = true
		w.Release(d.First)
		return nil
	})
	require.NoError(t, err)

	owner, err := s.Participant(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestStore_ContentionIsConflict(t *testing.T) {
	b := NewMemoryBackend()
	s := New[duel](b, model.ModeCoinflip, Options{TTL: time.Minute, Attempts: 3})
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "g1", &duel{ID: "g1"}))

	calls := 0
	_, err := s.Update(ctx, "g1", func(d *duel, w *Write) error {
		calls++
		// A competing writer lands between every read and write.
		_, _, _ = s.TryUpdate(ctx, "g1", func(d *duel, w *Write) error {
			d.First = fmt.Sprint(calls)
			return nil
		})
		d.Second = "loser"
		return nil
	})
	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, 3, calls)
}

// TestBackRefProperty checks that after any interleaving of creates, joins and
// releases every back-reference points at a session that lists that participant.
func TestBackRefProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		s := New[duel](NewMemoryBackend(), model.ModeCoinflip, Options{TTL: time.Minute})
		users := []string{"a", "b", "c", "d"}
		var sessions []string

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			uid := rapid.SampledFrom(users).Draw(t, "user")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				id := fmt.Sprintf("g%d", i)
				if err := s.Create(ctx, id, &duel{ID: id, First: uid}, uid); err == nil {
					sessions = append(sessions, id)
				} else if !errors.Is(err, ErrParticipantBusy) {
					t.Fatalf("create: %v", err)
				}
			case 1:
				if len(sessions) == 0 {
					continue
				}
				id := rapid.SampledFrom(sessions).Draw(t, "session")
				_, err := s.Update(ctx, id, func(d *duel, w *Write) error {
					if d.Done || d.First == uid {
						return ErrSkip
					}
					return join(uid)(d, w)
				})
				if err != nil && !errors.Is(err, errs.ErrConflict) {
					t.Fatalf("join: %v", err)
				}
			case 2:
				if len(sessions) == 0 {
					continue
				}
				id := rapid.SampledFrom(sessions).Draw(t, "session")
				_, err := s.Update(ctx, id, func(d *duel, w *Write) error {
					d.Done = true
					w.Release(d.First, d.Second)
					return nil
				})
				if err != nil {
					t.Fatalf("finish: %v", err)
				}
			}
		}

		for _, uid := range users {
			id, err := s.Participant(ctx, uid)
			if err != nil {
				t.Fatal(err)
			}
			if id == "" {
				continue
			}
			d, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("back-reference %s -> %s dangling: %v", uid, id, err)
			}
			if d.Done || (d.First != uid && d.Second != uid) {
				t.Fatalf("back-reference %s -> %s but session is %+v", uid, id, d)
			}
		}
	})
}
