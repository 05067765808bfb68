package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"wager-engine/internal/model"
	"wager-engine/internal/repository"
)

// Service implements the transfer protocol over PostgreSQL.
type Service struct {
	pool      *pgxpool.Pool
	items     *repository.ItemRepository
	transfers *repository.TransferRepository
}

// NewService creates a new Service instance.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{
		pool:      pool,
		items:     repository.NewItemRepository(pool),
		transfers: repository.NewTransferRepository(pool),
	}
}

// Create checks that every listed item is currently owned by the listed user
// and records a pending transfer. Nothing is locked or moved yet.
func (s *Service) Create(ctx context.Context, entries []Entry) (string, error) {
	flat, err := Flatten(entries)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if len(e.AssetIDs) == 0 {
			continue
		}
		owned, err := s.items.OwnedBy(ctx, e.UserID, e.AssetIDs)
		if err != nil {
			return "", err
		}
		if len(owned) != len(e.AssetIDs) {
			return "", fmt.Errorf("%w: user %s", ErrNotOwned, e.UserID)
		}
	}

	t := &model.Transfer{
		ID:      newTransferID(),
		Status:  model.TransferPending,
		Entries: flat,
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.transfers.WithTx(tx).Create(ctx, t); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transfer: %w", err)
	}

	log.Info().
		Str("transfer_id", t.ID).
		Int("items", len(flat)).
		Msg("Transfer created")
	return t.ID, nil
}

// Confirm assigns every item of the transfer to target.
func (s *Service) Confirm(ctx context.Context, id, target string) error {
	if target == "" {
		return ErrNoTarget
	}
	return s.confirm(ctx, id, &target, false)
}

// ConfirmSwap exchanges the item sets of the transfer's two owners.
func (s *Service) ConfirmSwap(ctx context.Context, id string) error {
	return s.confirm(ctx, id, nil, true)
}

func (s *Service) confirm(ctx context.Context, id string, target *string, swap bool) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	transfers := s.transfers.WithTx(tx)
	items := s.items.WithTx(tx)

	status, err := transfers.LockStatus(ctx, id)
	if err != nil {
		return mapLockErr(err)
	}
	switch status {
	case model.TransferConfirmed:
		return ErrAlreadyConfirmed
	case model.TransferCanceled:
		return ErrCanceled
	}

	entries, err := transfers.Entries(ctx, id)
	if err != nil {
		return err
	}
	t := model.Transfer{Entries: entries}
	owners := t.Owners()
	if swap && len(owners) != 2 {
		return ErrSwapOwners
	}

	assetIDs := make([]string, len(entries))
	for i, e := range entries {
		assetIDs[i] = e.AssetID
	}

	locked, err := items.LockForUpdate(ctx, assetIDs)
	if err != nil {
		return mapLockErr(err)
	}
	for _, e := range entries {
		if it, ok := locked[e.AssetID]; !ok || it.OwnerID != e.OwnerID {
			// A mismatch voids the whole transfer.
			if err := transfers.MarkCanceled(ctx, id, "ownership mismatch"); err != nil {
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("failed to commit voided transfer: %w", err)
			}
			log.Warn().
				Str("transfer_id", id).
				Str("asset_id", e.AssetID).
				Str("owner_id", e.OwnerID).
				Msg("Transfer voided: ownership mismatch")
			return fmt.Errorf("%w: %s", ErrNotOwned, e.AssetID)
		}
	}

	if swap {
		byOwner := make(map[string][]string, 2)
		for _, e := range entries {
			byOwner[e.OwnerID] = append(byOwner[e.OwnerID], e.AssetID)
		}
		a, b := owners[0], owners[1]
		if err := setOwner(ctx, items, byOwner[a], b); err != nil {
			return err
		}
		if err := setOwner(ctx, items, byOwner[b], a); err != nil {
			return err
		}
	} else if err := setOwner(ctx, items, assetIDs, *target); err != nil {
		return err
	}

	if err := transfers.MarkConfirmed(ctx, id, target, swap); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}

	ev := log.Info().Str("transfer_id", id).Int("items", len(entries)).Bool("swap", swap)
	if target != nil {
		ev = ev.Str("target_id", *target)
	}
	ev.Msg("Transfer confirmed")
	return nil
}

// Cancel voids a pending transfer. A transfer with no items is deleted
// instead. Canceling a canceled transfer succeeds without change.
func (s *Service) Cancel(ctx context.Context, id, reason string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	transfers := s.transfers.WithTx(tx)

	status, err := transfers.LockStatus(ctx, id)
	if err != nil {
		return mapLockErr(err)
	}
	switch status {
	case model.TransferConfirmed:
		return ErrAlreadyConfirmed
	case model.TransferCanceled:
		return nil
	}

	entries, err := transfers.Entries(ctx, id)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		err = transfers.Delete(ctx, id)
	} else {
		err = transfers.MarkCanceled(ctx, id, reason)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cancel: %w", err)
	}

	log.Info().Str("transfer_id", id).Str("reason", reason).Msg("Transfer canceled")
	return nil
}

// Get returns the transfer record.
func (s *Service) Get(ctx context.Context, id string) (*model.Transfer, error) {
	return s.transfers.Get(ctx, id)
}

func setOwner(ctx context.Context, items *repository.ItemRepository, assetIDs []string, owner string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	n, err := items.SetOwner(ctx, assetIDs, owner)
	if err != nil {
		return err
	}
	if n != int64(len(assetIDs)) {
		return fmt.Errorf("%w: updated %d of %d items", ErrNotOwned, n, len(assetIDs))
	}
	return nil
}

func mapLockErr(err error) error {
	if errors.Is(err, repository.ErrLockNotAvailable) {
		return ErrInProgress
	}
	return err
}

func newTransferID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
