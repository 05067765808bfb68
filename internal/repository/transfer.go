package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
)

// ErrTransferNotFound is returned when no transfer has the requested id.
var ErrTransferNotFound = fmt.Errorf("%w: transfer", errs.ErrNotFound)

// TransferRepository handles escrow transfer records and their line items.
type TransferRepository struct {
	db DBTX
}

// NewTransferRepository creates a new TransferRepository instance.
func NewTransferRepository(db DBTX) *TransferRepository {
	return &TransferRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *TransferRepository) WithTx(tx DBTX) *TransferRepository {
	return &TransferRepository{db: tx}
}

// Create inserts a pending transfer and its entries.
// Callers run it inside a transaction so header and entries land together.
func (r *TransferRepository) Create(ctx context.Context, t *model.Transfer) error {
	const header = `
		INSERT INTO transfers (id, status, swap, reason, created_at, updated_at)
		VALUES ($1, $2, FALSE, '', NOW(), NOW())
		RETURNING created_at, updated_at
	`
	if err := r.db.QueryRow(ctx, header, t.ID, string(t.Status)).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	const entry = `
		INSERT INTO transfer_items (transfer_id, position, owner_id, asset_id)
		VALUES ($1, $2, $3, $4)
	`
	for i, e := range t.Entries {
		if _, err := r.db.Exec(ctx, entry, t.ID, i, e.OwnerID, e.AssetID); err != nil {
			return fmt.Errorf("failed to create transfer entry: %w", err)
		}
	}
	return nil
}

// Get retrieves a transfer with its entries.
func (r *TransferRepository) Get(ctx context.Context, id string) (*model.Transfer, error) {
	const query = `
		SELECT id, status, target_id, swap, reason, created_at, updated_at
		FROM transfers
		WHERE id = $1
	`
	var (
		t      model.Transfer
		status string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&t.ID, &status, &t.TargetID, &t.Swap, &t.Reason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	t.Status = model.TransferStatus(status)

	if t.Entries, err = r.Entries(ctx, id); err != nil {
		return nil, err
	}
	return &t, nil
}

// LockStatus row-locks the transfer header without waiting and returns its status.
func (r *TransferRepository) LockStatus(ctx context.Context, id string) (model.TransferStatus, error) {
	const query = `
		SELECT status FROM transfers
		WHERE id = $1
		FOR UPDATE NOWAIT
	`
	var status string
	err := r.db.QueryRow(ctx, query, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrTransferNotFound
		}
		if isLockNotAvailable(err) {
			return "", ErrLockNotAvailable
		}
		return "", fmt.Errorf("failed to lock transfer: %w", err)
	}
	return model.TransferStatus(status), nil
}

// Entries returns the transfer's (owner, item) pairs in creation order.
func (r *TransferRepository) Entries(ctx context.Context, id string) ([]model.TransferEntry, error) {
	const query = `
		SELECT owner_id, asset_id
		FROM transfer_items
		WHERE transfer_id = $1
		ORDER BY position
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer entries: %w", err)
	}
	defer rows.Close()

	entries := []model.TransferEntry{}
	for rows.Next() {
		var e model.TransferEntry
		if err := rows.Scan(&e.OwnerID, &e.AssetID); err != nil {
			return nil, fmt.Errorf("failed to scan transfer entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer entries: %w", err)
	}
	return entries, nil
}

// MarkConfirmed moves a transfer to the confirmed state.
func (r *TransferRepository) MarkConfirmed(ctx context.Context, id string, targetID *string, swap bool) error {
	const query = `
		UPDATE transfers
		SET status = 'confirmed', target_id = $2, swap = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, query, id, targetID, swap)
}

// MarkCanceled moves a transfer to the canceled state.
func (r *TransferRepository) MarkCanceled(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE transfers
		SET status = 'canceled', reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, query, id, reason)
}

// Delete removes a transfer and its entries.
func (r *TransferRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM transfers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	return nil
}

func (r *TransferRepository) transition(ctx context.Context, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: transfer is not pending", errs.ErrConflict)
	}
	return nil
}
