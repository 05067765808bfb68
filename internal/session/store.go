package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/retry"
)

// Write collects the side effects committed with a document write.
type Write struct {
	claims   []string
	releases []string
	ttl      time.Duration
}

// Claim binds participants to the session being written.
func (w *Write) Claim(userIDs ...string) {
	w.claims = append(w.claims, userIDs...)
}

// Release unbinds participants from the session being written.
func (w *Write) Release(userIDs ...string) {
	w.releases = append(w.releases, userIDs...)
}

// SetTTL overrides the document expiry for this write.
func (w *Write) SetTTL(ttl time.Duration) {
	w.ttl = ttl
}

// Mutator changes a session snapshot in place. It may run more than once
// per Update and must not have side effects outside v and w.
type Mutator[T any] func(v *T, w *Write) error

// Options configures a Store.
type Options struct {
	// Server is the id of this worker, used for the per-server active index.
	Server string
	// TTL bounds the lifetime of every written document.
	TTL      time.Duration
	Attempts int
	Backoff  time.Duration
}

// Store is a typed view over a Backend for one game mode.
type Store[T any] struct {
	backend Backend
	mode    model.Mode
	server  string
	ttl     time.Duration
	policy  retry.Policy
}

// New creates a Store for documents of type T.
func New[T any](backend Backend, mode model.Mode, opts Options) *Store[T] {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Store[T]{
		backend: backend,
		mode:    mode,
		server:  opts.Server,
		ttl:     opts.TTL,
		policy:  retry.Policy{Attempts: attempts, Backoff: opts.Backoff, MaxBackoff: 8 * opts.Backoff},
	}
}

// Mode returns the game mode of this store.
func (s *Store[T]) Mode() model.Mode {
	return s.mode
}

// Server returns the worker id recorded in the per-server index.
func (s *Store[T]) Server() string {
	return s.server
}

// LockKey returns the advisory lock key of a session.
func (s *Store[T]) LockKey(id string) string {
	return LockKey(s.mode, id)
}

// Get reads a session. Returns ErrNotFound if absent.
func (s *Store[T]) Get(ctx context.Context, id string) (*T, error) {
	raw, err := s.backend.Load(ctx, s.mode, id)
	if err != nil {
		return nil, err
	}
	return decode[T](raw)
}

// Create stores a new session and claims the given participants.
// Returns ErrExists or ErrParticipantBusy on conflict.
func (s *Store[T]) Create(ctx context.Context, id string, v *T, claims ...string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	c := Change{Doc: raw, TTL: s.ttl, Claims: claims}
	if b, ok := any(v).(Bound); ok {
		c.Holds = b.ParticipantIDs()
	}

	err = retry.Do(ctx, s.policy, func(int) error {
		if err := s.backend.Create(ctx, s.mode, id, s.server, c); errors.Is(err, ErrStale) {
			return retry.ErrRetry
		} else if err != nil {
			return err
		}
		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return ErrContention
	}
	return err
}

// TryUpdate makes a single compare-and-swap attempt. It reports applied=false
// without error when the session changed between the read and the write.
func (s *Store[T]) TryUpdate(ctx context.Context, id string, fn Mutator[T]) (*T, bool, error) {
	var out *T
	err := s.backend.Swap(ctx, s.mode, id, func(cur []byte) (*Change, error) {
		v, err := decode[T](cur)
		if err != nil {
			return nil, err
		}
		w := &Write{ttl: s.ttl}
		if err := fn(v, w); err != nil {
			if errors.Is(err, ErrSkip) {
				out = v
				return nil, nil
			}
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode session: %w", err)
		}
		out = v
		c := &Change{Doc: raw, TTL: w.ttl, Claims: w.claims, Releases: w.releases}
		if b, ok := any(v).(Bound); ok {
			c.Holds = b.ParticipantIDs()
		}
		return c, nil
	})
	if errors.Is(err, ErrStale) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Update rereads and reapplies fn until the write lands, bounded by the
// configured attempts. Exhaustion returns ErrContention. A mutator returning
// ErrSkip ends the update without writing and yields the current value.
func (s *Store[T]) Update(ctx context.Context, id string, fn Mutator[T]) (*T, error) {
	var out *T
	err := retry.Do(ctx, s.policy, func(int) error {
		v, applied, err := s.TryUpdate(ctx, id, fn)
		if err != nil {
			return err
		}
		if !applied {
			return retry.ErrRetry
		}
		out = v
		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return nil, ErrContention
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Participant returns the session id a participant is bound to, or "".
func (s *Store[T]) Participant(ctx context.Context, userID string) (string, error) {
	return s.backend.Participant(ctx, s.mode, userID)
}

// Active lists every indexed session id of this mode.
func (s *Store[T]) Active(ctx context.Context) ([]string, error) {
	return s.backend.Active(ctx, s.mode, "")
}

// Deactivate removes a session from the active indexes. The document itself
// expires through its TTL.
func (s *Store[T]) Deactivate(ctx context.Context, id, server string) error {
	return s.backend.Deactivate(ctx, s.mode, id, server)
}

func decode[T any](raw []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return v, nil
}
