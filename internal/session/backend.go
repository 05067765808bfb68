// Package session is the optimistic store for game session documents.
//
// Documents live in the shared volatile store keyed by mode and id. Every
// mutation is a compare-and-swap: the document is read, a mutator is applied
// to the snapshot, and the write is rejected if the stored value changed in
// between. Participant back-references (one active session per participant
// per mode) are claimed and released in the same atomic write as the
// document itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
)

// Errors returned by the session store.
var (
	ErrNotFound         = fmt.Errorf("%w: session", errs.ErrNotFound)
	ErrExists           = fmt.Errorf("%w: session already exists", errs.ErrConflict)
	ErrParticipantBusy  = fmt.Errorf("%w: participant already has an active session", errs.ErrConflict)
	ErrContention       = fmt.Errorf("%w: session changed concurrently, retries exhausted", errs.ErrConflict)
	ErrStoreUnavailable = fmt.Errorf("%w: session store", errs.ErrUnavailable)

	// ErrStale is returned by a Backend when the watched value changed
	// before the write could be applied.
	ErrStale = errors.New("session changed during update")

	// ErrSkip may be returned by a mutator to end the update without writing.
	ErrSkip = errors.New("skip write")
)

// Change is the write produced by one mutation attempt.
type Change struct {
	Doc []byte
	TTL time.Duration
	// Claims are participant ids whose back-reference must point at this
	// session after the write. A back-reference to another session fails
	// the write with ErrParticipantBusy.
	Claims []string
	// Releases are participant ids whose back-reference is removed if it
	// still points at this session.
	Releases []string
	// Holds are participant ids whose back-reference, if it still points at
	// this session, is rewritten with TTL so it lives as long as the document.
	Holds []string
}

// Bound is implemented by documents that list their current participants.
// Every write of a Bound document refreshes their back-references.
type Bound interface {
	ParticipantIDs() []string
}

// touched lists every participant whose back-reference a change may write.
func touched(c *Change) []string {
	ids := make([]string, 0, len(c.Claims)+len(c.Releases)+len(c.Holds))
	ids = append(ids, c.Claims...)
	ids = append(ids, c.Releases...)
	return append(ids, c.Holds...)
}

// Backend is the shared volatile store holding session documents.
type Backend interface {
	// Load returns the raw document or ErrNotFound.
	Load(ctx context.Context, mode model.Mode, id string) ([]byte, error)

	// Create writes a new document, claims its participants and adds it to
	// the global and per-server active indexes. It returns ErrExists if the
	// id is taken.
	Create(ctx context.Context, mode model.Mode, id, server string, c Change) error

	// Swap reads the document under a watch, passes it to fn and applies
	// the returned change atomically. A nil change writes nothing. A
	// concurrent write to any watched key yields ErrStale.
	Swap(ctx context.Context, mode model.Mode, id string, fn func(cur []byte) (*Change, error)) error

	// Participant returns the session id a participant is bound to, or "".
	Participant(ctx context.Context, mode model.Mode, userID string) (string, error)

	// Active lists indexed session ids. An empty server lists the global index.
	Active(ctx context.Context, mode model.Mode, server string) ([]string, error)

	// Deactivate removes a session from the global index and from server's index.
	Deactivate(ctx context.Context, mode model.Mode, id, server string) error
}

// Key layout in the shared store.
func docKey(mode model.Mode, id string) string {
	return string(mode) + ":game:" + id
}

func userKey(mode model.Mode, userID string) string {
	return string(mode) + ":user:" + userID
}

func activeKey(mode model.Mode, server string) string {
	if server == "" {
		return string(mode) + ":active"
	}
	return string(mode) + ":active:" + server
}

// LockKey returns the advisory lock key of a session.
func LockKey(mode model.Mode, id string) string {
	return string(mode) + ":lock:" + id
}
