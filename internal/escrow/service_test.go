package escrow

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/db/dbtest"
	"wager-engine/internal/pkg/errs"
	"wager-engine/internal/repository"
)

func setupService(t *testing.T) (*Service, *repository.ItemRepository) {
	t.Helper()
	pool := dbtest.NewPool(t)
	items := repository.NewItemRepository(pool)
	ctx := context.Background()

	for owner, ids := range map[string][]string{"u1": {"a1", "a2"}, "u2": {"b1"}} {
		for _, id := range ids {
			require.NoError(t, items.Upsert(ctx, model.Item{AssetID: id, OwnerID: owner, Name: id, Price: decimal.NewFromInt(5)}))
		}
	}
	return NewService(pool), items
}

func owners(t *testing.T, items *repository.ItemRepository, ids ...string) map[string]string {
	t.Helper()
	got, err := items.GetByAssetIDs(context.Background(), ids)
	require.NoError(t, err)
	out := make(map[string]string, len(got))
	for _, it := range got {
		out[it.AssetID] = it.OwnerID
	}
	return out
}

func TestService_ConfirmToTarget(t *testing.T) {
	svc, items := setupService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, []Entry{
		{UserID: "u1", AssetIDs: []string{"a1", "a2"}},
		{UserID: "u2", AssetIDs: []string{"b1"}},
	})
	require.NoError(t, err)
	assert.Len(t, id, 16)

	require.NoError(t, svc.Confirm(ctx, id, "holding"))
	assert.Equal(t, map[string]string{"a1": "holding", "a2": "holding", "b1": "holding"}, owners(t, items, "a1", "a2", "b1"))

	tr, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferConfirmed, tr.Status)
	require.NotNil(t, tr.TargetID)
	assert.Equal(t, "holding", *tr.TargetID)
}

func TestService_DoubleConfirmIsConflict(t *testing.T) {
	svc, items := setupService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, []Entry{{UserID: "u1", AssetIDs: []string{"a1"}}})
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, id, "u2"))

	// Move the item on so a second application would be visible.
	_, err = items.SetOwner(ctx, []string{"a1"}, "u3")
	require.NoError(t, err)

	err = svc.Confirm(ctx, id, "u2")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, "u3", owners(t, items, "a1")["a1"])

	assert.ErrorIs(t, svc.Cancel(ctx, id, "late"), ErrAlreadyConfirmed)
}

func TestService_Swap(t *testing.T) {
	svc, items := setupService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, []Entry{
		{UserID: "u1", AssetIDs: []string{"a1", "a2"}},
		{UserID: "u2", AssetIDs: []string{"b1"}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmSwap(ctx, id))
	assert.Equal(t, map[string]string{"a1": "u2", "a2": "u2", "b1": "u1"}, owners(t, items, "a1", "a2", "b1"))

	one, err := svc.Create(ctx, []Entry{{UserID: "u2", AssetIDs: []string{"a1"}}})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.ConfirmSwap(ctx, one), ErrSwapOwners)
}

func TestService_CreateRejectsUnownedItems(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, []Entry{{UserID: "u1", AssetIDs: []string{"b1"}}})
	assert.ErrorIs(t, err, errs.ErrOwnership)

	_, err = svc.Create(ctx, []Entry{
		{UserID: "u1", AssetIDs: []string{"a1"}},
		{UserID: "u2", AssetIDs: []string{"a1"}},
	})
	assert.ErrorIs(t, err, ErrDuplicateItem)
}

func TestService_OwnershipMismatchVoidsTransfer(t *testing.T) {
	svc, items := setupService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, []Entry{{UserID: "u1", AssetIDs: []string{"a1", "a2"}}})
	require.NoError(t, err)

	_, err = items.SetOwner(ctx, []string{"a2"}, "u9")
	require.NoError(t, err)

	err = svc.Confirm(ctx, id, "u2")
	assert.ErrorIs(t, err, ErrNotOwned)
	assert.Equal(t, map[string]string{"a1": "u1", "a2": "u9"}, owners(t, items, "a1", "a2"))

	tr, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferCanceled, tr.Status)
}

func TestService_Cancel(t *testing.T) {
	svc, items := setupService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, []Entry{{UserID: "u1", AssetIDs: []string{"a1"}}})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, id, "player left"))
	require.NoError(t, svc.Cancel(ctx, id, "again"))
	assert.ErrorIs(t, svc.Confirm(ctx, id, "u2"), ErrCanceled)
	assert.Equal(t, "u1", owners(t, items, "a1")["a1"])

	empty, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, empty, "nothing held"))
	_, err = svc.Get(ctx, empty)
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestService_LockedTransferIsInProgress(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, []Entry{{UserID: "u1", AssetIDs: []string{"a1"}}})
	require.NoError(t, err)

	tx, err := svc.pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	_, err = repository.NewTransferRepository(tx).LockStatus(ctx, id)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Confirm(ctx, id, "u2"), ErrInProgress)
	assert.ErrorIs(t, svc.Cancel(ctx, id, "x"), ErrInProgress)
}
