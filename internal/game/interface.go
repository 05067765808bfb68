// Package game defines what the coinflip, jackpot and case-battle managers
// share: the session header, stake validation, the collaborator contracts
// and the registry the scheduler iterates.
package game

import (
	"context"
	"time"

	"wager-engine/internal/model"
)

// Manager is a game mode's state machine as seen by the scheduler.
type Manager interface {
	// Mode returns the game mode this manager drives.
	Mode() model.Mode

	// ActiveIDs lists the sessions in the mode's active index.
	ActiveIDs(ctx context.Context) ([]string, error)

	// Advance performs whatever time-driven transition is due for the
	// session at now: auto-start, countdown finalize, resume of an
	// interrupted round loop, or removal from the active index once the
	// session has been terminal for longer than the grace window.
	Advance(ctx context.Context, id string, now time.Time) error
}

// Maintainer is implemented by managers with mode-wide periodic work, such
// as keeping a house session open.
type Maintainer interface {
	Maintain(ctx context.Context, now time.Time) error
}

// Inventory is the read-only ownership view used to validate stakes.
type Inventory interface {
	// OwnedBy returns the subset of assetIDs owned by ownerID, in input order.
	OwnedBy(ctx context.Context, ownerID string, assetIDs []string) ([]model.Item, error)
}

// RoundLog persists resolved rounds for later verification.
type RoundLog interface {
	Create(ctx context.Context, round *model.Round) error
}

// Profiles resolves participant display fields. Lookups never fail.
type Profiles interface {
	Lookup(ctx context.Context, ids []string) map[string]model.User
}
