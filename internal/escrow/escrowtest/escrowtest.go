// Package escrowtest provides an in-memory escrow.Transferer for tests.
package escrowtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wager-engine/internal/escrow"
	"wager-engine/internal/model"
)

// Fake is an in-memory transfer service following the same state machine as
// escrow.Service. Ownership is held in a plain map.
type Fake struct {
	mu        sync.Mutex
	owners    map[string]string
	transfers map[string]*model.Transfer
	seq       int
	failures  map[string]error
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		owners:    make(map[string]string),
		transfers: make(map[string]*model.Transfer),
		failures:  make(map[string]error),
	}
}

// Give assigns items to owner, as if they had been deposited.
func (f *Fake) Give(owner string, assetIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range assetIDs {
		f.owners[id] = owner
	}
}

// Owner returns the current owner of an item.
func (f *Fake) Owner(assetID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[assetID]
}

// Items returns the sorted items held by owner.
func (f *Fake) Items(owner string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, o := range f.owners {
		if o == owner {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// FailNext makes the next call of op ("create", "confirm", "cancel") return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Transfers returns a snapshot of every transfer.
func (f *Fake) Transfers() []model.Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Transfer, 0, len(f.transfers))
	for _, t := range f.transfers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Fake) injected(op string) error {
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

// Create implements escrow.Transferer.
func (f *Fake) Create(_ context.Context, entries []escrow.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("create"); err != nil {
		return "", err
	}

	flat, err := escrow.Flatten(entries)
	if err != nil {
		return "", err
	}
	for _, e := range flat {
		if f.owners[e.AssetID] != e.OwnerID {
			return "", fmt.Errorf("%w: user %s", escrow.ErrNotOwned, e.OwnerID)
		}
	}

	f.seq++
	now := time.Now()
	t := &model.Transfer{
		ID:        fmt.Sprintf("t%04d", f.seq),
		Status:    model.TransferPending,
		Entries:   flat,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.transfers[t.ID] = t
	return t.ID, nil
}

// Confirm implements escrow.Transferer.
func (f *Fake) Confirm(_ context.Context, id, target string) error {
	if target == "" {
		return escrow.ErrNoTarget
	}
	return f.confirm(id, &target, false)
}

// ConfirmSwap implements escrow.Transferer.
func (f *Fake) ConfirmSwap(_ context.Context, id string) error {
	return f.confirm(id, nil, true)
}

func (f *Fake) confirm(id string, target *string, swap bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("confirm"); err != nil {
		return err
	}

	t, ok := f.transfers[id]
	if !ok {
		return escrow.ErrTransferNotFound
	}
	switch t.Status {
	case model.TransferConfirmed:
		return escrow.ErrAlreadyConfirmed
	case model.TransferCanceled:
		return escrow.ErrCanceled
	}
	owners := t.Owners()
	if swap && len(owners) != 2 {
		return escrow.ErrSwapOwners
	}
	for _, e := range t.Entries {
		if f.owners[e.AssetID] != e.OwnerID {
			t.Status = model.TransferCanceled
			t.Reason = "ownership mismatch"
			t.UpdatedAt = time.Now()
			return fmt.Errorf("%w: %s", escrow.ErrNotOwned, e.AssetID)
		}
	}

	for _, e := range t.Entries {
		switch {
		case !swap:
			f.owners[e.AssetID] = *target
		case e.OwnerID == owners[0]:
			f.owners[e.AssetID] = owners[1]
		default:
			f.owners[e.AssetID] = owners[0]
		}
	}
	t.Status = model.TransferConfirmed
	t.TargetID = target
	t.Swap = swap
	t.UpdatedAt = time.Now()
	return nil
}

// Cancel implements escrow.Transferer.
func (f *Fake) Cancel(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("cancel"); err != nil {
		return err
	}

	t, ok := f.transfers[id]
	if !ok {
		return escrow.ErrTransferNotFound
	}
	switch t.Status {
	case model.TransferConfirmed:
		return escrow.ErrAlreadyConfirmed
	case model.TransferCanceled:
		return nil
	}
	if len(t.Entries) == 0 {
		delete(f.transfers, id)
		return nil
	}
	t.Status = model.TransferCanceled
	t.Reason = reason
	t.UpdatedAt = time.Now()
	return nil
}

// Get implements escrow.Transferer.
func (f *Fake) Get(_ context.Context, id string) (*model.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[id]
	if !ok {
		return nil, escrow.ErrTransferNotFound
	}
	cp := *t
	cp.Entries = append([]model.TransferEntry(nil), t.Entries...)
	return &cp, nil
}

var _ escrow.Transferer = (*Fake)(nil)
