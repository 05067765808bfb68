package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"wager-engine/internal/escrow"
	"wager-engine/internal/fair"
	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
	"wager-engine/internal/session"
)

// Errors shared by every manager.
var (
	ErrNoItems       = fmt.Errorf("%w: at least one item is required", errs.ErrValidation)
	ErrDuplicateItem = fmt.Errorf("%w: item listed more than once", errs.ErrValidation)
	ErrNoUser        = fmt.Errorf("%w: user id is required", errs.ErrValidation)
	ErrItemsNotOwned = fmt.Errorf("%w: items not owned by user", errs.ErrOwnership)
)

// Base is the header embedded in every session document.
type Base struct {
	ID string `json:"id"`
	// Server is the worker that created the session; its per-server active
	// index holds the id.
	Server string `json:"server"`
	// ServerSeed stays in the stored document but is blanked by Public views
	// until the session is terminal.
	ServerSeed     string     `json:"server_seed,omitempty"`
	ServerSeedHash string     `json:"server_seed_hash"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NewBase creates a session header with a fresh id and committed server seed.
func NewBase(server string, now time.Time) (Base, error) {
	seed, err := fair.NewServerSeed()
	if err != nil {
		return Base{}, err
	}
	return Base{
		ID:             uuid.NewString(),
		Server:         server,
		ServerSeed:     seed,
		ServerSeedHash: fair.HashSeed(seed),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Redact blanks the server seed unless revealed is set.
func (b *Base) Redact(revealed bool) {
	if !revealed {
		b.ServerSeed = ""
	}
}

// Touch records a mutation time.
func (b *Base) Touch(now time.Time) {
	b.UpdatedAt = now
}

// Finish records completion.
func (b *Base) Finish(now time.Time) {
	b.UpdatedAt = now
	b.CompletedAt = &now
}

// Expired reports whether a terminal session has outlived the grace window.
func (b *Base) Expired(now time.Time, grace time.Duration) bool {
	return b.CompletedAt != nil && now.Sub(*b.CompletedAt) >= grace
}

// ValidateStake checks that assetIDs are non-empty, distinct and all owned
// by userID, and returns the items with their current prices.
func ValidateStake(ctx context.Context, inv Inventory, userID string, assetIDs []string) ([]model.Item, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if len(assetIDs) == 0 {
		return nil, ErrNoItems
	}
	seen := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, id)
		}
		seen[id] = true
	}

	items, err := inv.OwnedBy(ctx, userID, assetIDs)
	if err != nil {
		return nil, err
	}
	if len(items) != len(assetIDs) {
		return nil, ErrItemsNotOwned
	}
	return items, nil
}

// ClientSeed returns seed, or a random one when empty.
func ClientSeed(seed string) string {
	if seed == "" {
		return fair.NewClientSeed()
	}
	return seed
}

// CancelQuietly cancels an escrow transfer as a compensating action. Failure
// is logged and swallowed: the transfer state machine already prevents a
// second settlement.
func CancelQuietly(ctx context.Context, transfers escrow.Transferer, id, reason string) {
	if id == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := transfers.Cancel(ctx, id, reason); err != nil {
		log.Error().Err(err).Str("transfer_id", id).Str("reason", reason).Msg("Compensating cancel failed")
	}
}

// ConfirmedTo reports whether a confirm error only means an earlier attempt
// already moved the transfer's items to target.
func ConfirmedTo(ctx context.Context, transfers escrow.Transferer, transferID, target string, err error) bool {
	if !errors.Is(err, escrow.ErrAlreadyConfirmed) {
		return false
	}
	t, getErr := transfers.Get(ctx, transferID)
	return getErr == nil && t.TargetID != nil && *t.TargetID == target
}

// Sweep removes an expired or vanished session from the active index.
// It reports whether the session was removed.
func Sweep[T any](ctx context.Context, store *session.Store[T], id string, base *Base, terminal bool, now time.Time, grace time.Duration) (bool, error) {
	if base == nil {
		return true, store.Deactivate(ctx, id, store.Server())
	}
	if !terminal || !base.Expired(now, grace) {
		return false, nil
	}
	if err := store.Deactivate(ctx, id, base.Server); err != nil {
		return false, err
	}
	log.Debug().Str("mode", string(store.Mode())).Str("session_id", id).Msg("Session removed from active index")
	return true, nil
}

// Load reads a session, mapping a vanished document to (nil, nil) so
// scheduler ticks can sweep its index entry.
func Load[T any](ctx context.Context, store *session.Store[T], id string) (*T, error) {
	v, err := store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
