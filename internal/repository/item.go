package repository

import (
	"context"
	"fmt"

	"wager-engine/internal/model"
)

// ItemRepository handles item ownership rows.
// Ownership rows are written only by the escrow protocol.
type ItemRepository struct {
	db DBTX
}

// NewItemRepository creates a new ItemRepository instance.
func NewItemRepository(db DBTX) *ItemRepository {
	return &ItemRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *ItemRepository) WithTx(tx DBTX) *ItemRepository {
	return &ItemRepository{db: tx}
}

// Upsert inserts an item or replaces its owner, name and price.
func (r *ItemRepository) Upsert(ctx context.Context, item model.Item) error {
	const query = `
		INSERT INTO items (asset_id, owner_id, name, price, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (asset_id)
		DO UPDATE SET owner_id = $2, name = $3, price = $4, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, item.AssetID, item.OwnerID, item.Name, item.Price.String()); err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// GetByOwner returns every item owned by ownerID.
func (r *ItemRepository) GetByOwner(ctx context.Context, ownerID string) ([]model.Item, error) {
	const query = `
		SELECT asset_id, owner_id, name, price::text, updated_at
		FROM items
		WHERE owner_id = $1
		ORDER BY asset_id
	`
	return r.query(ctx, query, ownerID)
}

// GetByAssetIDs returns the items with the given asset ids, ordered by asset id.
// Missing ids are simply absent from the result.
func (r *ItemRepository) GetByAssetIDs(ctx context.Context, assetIDs []string) ([]model.Item, error) {
	const query = `
		SELECT asset_id, owner_id, name, price::text, updated_at
		FROM items
		WHERE asset_id = ANY($1)
		ORDER BY asset_id
	`
	return r.query(ctx, query, assetIDs)
}

// OwnedBy returns the subset of assetIDs currently owned by ownerID, in the
// order the ids were given.
func (r *ItemRepository) OwnedBy(ctx context.Context, ownerID string, assetIDs []string) ([]model.Item, error) {
	const query = `
		SELECT asset_id, owner_id, name, price::text, updated_at
		FROM items
		WHERE owner_id = $1 AND asset_id = ANY($2)
	`
	items, err := r.query(ctx, query, ownerID, assetIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Item, len(items))
	for _, it := range items {
		byID[it.AssetID] = it
	}
	ordered := make([]model.Item, 0, len(items))
	for _, id := range assetIDs {
		if it, ok := byID[id]; ok {
			ordered = append(ordered, it)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// LockForUpdate row-locks the given items without waiting. A concurrent holder
// yields ErrLockNotAvailable. Rows are locked in asset id order.
func (r *ItemRepository) LockForUpdate(ctx context.Context, assetIDs []string) (map[string]model.Item, error) {
	const query = `
		SELECT asset_id, owner_id, name, price::text, updated_at
		FROM items
		WHERE asset_id = ANY($1)
		ORDER BY asset_id
		FOR UPDATE NOWAIT
	`
	items, err := r.query(ctx, query, assetIDs)
	if err != nil {
		if isLockNotAvailable(err) {
			return nil, ErrLockNotAvailable
		}
		return nil, err
	}
	locked := make(map[string]model.Item, len(items))
	for _, it := range items {
		locked[it.AssetID] = it
	}
	return locked, nil
}

// SetOwner assigns every listed item to ownerID and returns the rows changed.
func (r *ItemRepository) SetOwner(ctx context.Context, assetIDs []string, ownerID string) (int64, error) {
	const query = `
		UPDATE items
		SET owner_id = $2, updated_at = NOW()
		WHERE asset_id = ANY($1)
	`
	result, err := r.db.Exec(ctx, query, assetIDs, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to set owner: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *ItemRepository) query(ctx context.Context, query string, args ...any) ([]model.Item, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var (
			item  model.Item
			price string
		)
		if err := rows.Scan(&item.AssetID, &item.OwnerID, &item.Name, &price, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if item.Price, err = parseMoney(price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		if isLockNotAvailable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}
