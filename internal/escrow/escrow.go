// Package escrow is the only path by which item ownership changes.
//
// A transfer freezes a list of (owner, item) pairs when it is created and is
// then either confirmed (items move to a target, or two owners swap) or
// canceled. Both transitions are one-way. Ownership is re-validated under
// non-blocking row locks inside a single database transaction at confirm
// time, so concurrent confirm/cancel calls cannot double-spend the same items.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
	"wager-engine/internal/repository"
)

// Transfer errors.
var (
	ErrInProgress       = fmt.Errorf("%w: transfer in progress elsewhere", errs.ErrConflict)
	ErrAlreadyConfirmed = fmt.Errorf("%w: transfer already confirmed", errs.ErrConflict)
	ErrCanceled         = fmt.Errorf("%w: transfer canceled", errs.ErrConflict)
	ErrNotOwned         = fmt.Errorf("%w: item not owned by listed user", errs.ErrOwnership)
	ErrSwapOwners       = fmt.Errorf("%w: swap requires exactly two owners", errs.ErrValidation)
	ErrNoTarget         = fmt.Errorf("%w: confirm requires a target or swap", errs.ErrValidation)
	ErrDuplicateItem    = fmt.Errorf("%w: item listed more than once", errs.ErrValidation)
	ErrEmptyOwner       = fmt.Errorf("%w: entry has no owner", errs.ErrValidation)
	ErrTransferNotFound = repository.ErrTransferNotFound
)

// Entry is one owner's contribution to a transfer.
type Entry struct {
	UserID   string   `json:"user_id"`
	AssetIDs []string `json:"asset_ids"`
}

// Transferer is implemented by the database-backed Service, by the HTTP
// Client that calls it remotely, and by the in-memory fake in escrowtest.
type Transferer interface {
	// Create validates ownership and records a pending transfer.
	Create(ctx context.Context, entries []Entry) (string, error)
	// Confirm assigns every item to target.
	Confirm(ctx context.Context, id, target string) error
	// ConfirmSwap exchanges the item sets of the transfer's two owners.
	ConfirmSwap(ctx context.Context, id string) error
	// Cancel voids a pending transfer. Canceling twice is a no-op.
	Cancel(ctx context.Context, id, reason string) error
	// Get returns the transfer record.
	Get(ctx context.Context, id string) (*model.Transfer, error)
}

// Flatten converts entries to the ordered (owner, item) pairs stored with a
// transfer, rejecting empty owners and items listed twice.
func Flatten(entries []Entry) ([]model.TransferEntry, error) {
	seen := make(map[string]bool)
	var out []model.TransferEntry
	for _, e := range entries {
		if e.UserID == "" {
			return nil, ErrEmptyOwner
		}
		for _, id := range e.AssetIDs {
			if seen[id] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, id)
			}
			seen[id] = true
			out = append(out, model.TransferEntry{OwnerID: e.UserID, AssetID: id})
		}
	}
	return out, nil
}

// Error codes carried over the transfer sub-API.
const (
	codeInProgress       = "in_progress"
	codeAlreadyConfirmed = "already_confirmed"
	codeCanceled         = "canceled"
	codeNotOwned         = "not_owned"
	codeSwapOwners       = "swap_owners"
	codeNoTarget         = "no_target"
	codeDuplicateItem    = "duplicate_item"
	codeNotFound         = "not_found"
)

var codes = []struct {
	code string
	err  error
}{
	{codeInProgress, ErrInProgress},
	{codeAlreadyConfirmed, ErrAlreadyConfirmed},
	{codeCanceled, ErrCanceled},
	{codeNotOwned, ErrNotOwned},
	{codeSwapOwners, ErrSwapOwners},
	{codeNoTarget, ErrNoTarget},
	{codeDuplicateItem, ErrDuplicateItem},
	{codeNotFound, ErrTransferNotFound},
}

// codeOf returns the wire code of err, falling back to its kind name.
func codeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return errs.KindOf(err)
}

// errorOf maps a wire code back to a sentinel.
func errorOf(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	switch code {
	case errs.KindValidation:
		return errs.New(errs.ErrValidation, msg)
	case errs.KindConflict:
		return errs.New(errs.ErrConflict, msg)
	case errs.KindOwnership:
		return errs.New(errs.ErrOwnership, msg)
	case errs.KindNotFound:
		return errs.New(errs.ErrNotFound, msg)
	case errs.KindUnavailable:
		return errs.New(errs.ErrUnavailable, msg)
	default:
		return errors.New(msg)
	}
}
