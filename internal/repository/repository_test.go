// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/db/dbtest"
	"wager-engine/internal/pkg/errs"
)

func seedItems(t *testing.T, repo *ItemRepository, owner string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		err := repo.Upsert(context.Background(), model.Item{
			AssetID: id,
			OwnerID: owner,
			Name:    "item " + id,
			Price:   decimal.NewFromInt(int64(i + 1)),
		})
		require.NoError(t, err)
	}
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_UpsertAndGet(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.User{ID: "u1", DisplayName: "alice", AvatarURL: "a.png"}))
	require.NoError(t, repo.Upsert(ctx, model.User{ID: "u1", DisplayName: "alice2", AvatarURL: "b.png"}))

	user, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", user.DisplayName)
	assert.Equal(t, "b.png", user.AvatarURL)
	assert.False(t, user.CreatedAt.IsZero())

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepository_GetByIDs(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.User{ID: "u1", DisplayName: "alice"}))
	require.NoError(t, repo.Upsert(ctx, model.User{ID: "u2", DisplayName: "bob"}))

	users, err := repo.GetByIDs(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

// ============================================================================
// ItemRepository Tests
// ============================================================================

func TestItemRepository_OwnedByKeepsOrder(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewItemRepository(pool)
	ctx := context.Background()

	seedItems(t, repo, "u1", "a", "b", "c")
	seedItems(t, repo, "u2", "d")

	items, err := repo.OwnedBy(ctx, "u1", []string{"c", "d", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, model.AssetIDs(items))
	assert.True(t, items[0].Price.Equal(decimal.NewFromInt(3)))
}

func TestItemRepository_SetOwner(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewItemRepository(pool)
	ctx := context.Background()

	seedItems(t, repo, "u1", "a", "b")

	n, err := repo.SetOwner(ctx, []string{"a", "b"}, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, err := repo.GetByOwner(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestItemRepository_LockForUpdateNoWait(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewItemRepository(pool)
	ctx := context.Background()

	seedItems(t, repo, "u1", "a", "b")

	tx1, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx1.Rollback(ctx)

	locked, err := repo.WithTx(tx1).LockForUpdate(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, locked, 2)
	assert.Equal(t, "u1", locked["a"].OwnerID)

	tx2, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Rollback(ctx)

	_, err = repo.WithTx(tx2).LockForUpdate(ctx, []string{"b"})
	assert.ErrorIs(t, err, ErrLockNotAvailable)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

// ============================================================================
// TransferRepository Tests
// ============================================================================

func TestTransferRepository_Lifecycle(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewTransferRepository(pool)
	ctx := context.Background()

	tr := &model.Transfer{
		ID:     "t1",
		Status: model.TransferPending,
		Entries: []model.TransferEntry{
			{OwnerID: "u1", AssetID: "a"},
			{OwnerID: "u2", AssetID: "b"},
		},
	}
	require.NoError(t, repo.Create(ctx, tr))

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TransferPending, got.Status)
	assert.Nil(t, got.TargetID)
	assert.Equal(t, tr.Entries, got.Entries)

	target := "u3"
	require.NoError(t, repo.MarkConfirmed(ctx, "t1", &target, false))

	got, err = repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TransferConfirmed, got.Status)
	require.NotNil(t, got.TargetID)
	assert.Equal(t, "u3", *got.TargetID)

	err = repo.MarkCanceled(ctx, "t1", "late")
	assert.ErrorIs(t, err, errs.ErrConflict)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestTransferRepository_LockStatusAndDelete(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewTransferRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Transfer{ID: "t1", Status: model.TransferPending}))

	tx1, err := pool.Begin(ctx)
	require.NoError(t, err)
	status, err := repo.WithTx(tx1).LockStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TransferPending, status)

	tx2, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = repo.WithTx(tx2).LockStatus(ctx, "t1")
	assert.ErrorIs(t, err, ErrLockNotAvailable)
	require.NoError(t, tx2.Rollback(ctx))
	require.NoError(t, tx1.Rollback(ctx))

	require.NoError(t, repo.Delete(ctx, "t1"))
	_, err = repo.LockStatus(ctx, "t1")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

// ============================================================================
// Audit and settlement Tests
// ============================================================================

func TestSettlementRepository_CreatePendingOnce(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewSettlementRepository(pool)
	ctx := context.Background()

	s := &model.Settlement{
		Source:    model.ModeCaseBattle,
		SessionID: "s1",
		UserID:    "u1",
		Amount:    decimal.RequireFromString("12.34"),
	}
	created, err := repo.CreatePending(ctx, s)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreatePending(ctx, s)
	require.NoError(t, err)
	assert.False(t, created)

	list, err := repo.GetBySession(ctx, model.ModeCaseBattle, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Amount.Equal(decimal.RequireFromString("12.34")))
	assert.Equal(t, model.SettlementPending, list[0].Status)
}

func TestRoundAndEventRepository(t *testing.T) {
	pool := dbtest.NewPool(t)
	rounds := NewRoundRepository(pool)
	events := NewEventRepository(pool)
	ctx := context.Background()

	round := &model.Round{
		Mode:       model.ModeCoinflip,
		SessionID:  "s1",
		ServerSeed: "seed",
		Digest:     "abc",
		Outcome:    map[string]any{"winner": "u1"},
	}
	require.NoError(t, rounds.Create(ctx, round))
	assert.NotZero(t, round.ID)

	// A resumed settle records the same round again.
	again := &model.Round{
		Mode:       model.ModeCoinflip,
		SessionID:  "s1",
		ServerSeed: "seed",
		Digest:     "abc",
		Outcome:    map[string]any{"winner": "u1"},
	}
	require.NoError(t, rounds.Create(ctx, again))
	assert.Equal(t, round.ID, again.ID)

	other := &model.Round{Mode: model.ModeJackpot, SessionID: "s1", ServerSeed: "seed", Digest: "def", Outcome: map[string]any{}}
	require.NoError(t, rounds.Create(ctx, other))
	assert.NotEqual(t, round.ID, other.ID)

	got, err := rounds.GetBySession(ctx, model.ModeCoinflip, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].Outcome["winner"])

	require.NoError(t, events.Create(ctx, &model.Event{
		Mode: model.ModeCoinflip, SessionID: "s1", Kind: model.EventCreated, ActorID: "u1",
		Payload: map[string]any{"value": "1.00"},
	}))
	require.NoError(t, events.Create(ctx, &model.Event{
		Mode: model.ModeCoinflip, SessionID: "s1", Kind: model.EventJoined, ActorID: "u2",
	}))

	evs, err := events.GetBySession(ctx, model.ModeCoinflip, "s1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventCreated, evs[0].Kind)
	assert.Equal(t, model.EventJoined, evs[1].Kind)
}

// ============================================================================
// CaseRepository Tests
// ============================================================================

func TestCaseRepository_GetByIDs(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewCaseRepository(pool)
	ctx := context.Background()

	c := &model.Case{
		ID:    "c1",
		Name:  "starter",
		Price: decimal.RequireFromString("2.50"),
		Items: []model.CaseItem{
			{Name: "common", Price: decimal.RequireFromString("0.50"), Tickets: 90_000},
			{Name: "rare", Price: decimal.RequireFromString("20.00"), Tickets: 10_000},
		},
	}
	require.NoError(t, repo.Upsert(ctx, c))

	cases, err := repo.GetByIDs(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Contains(t, cases, "c1")
	got := cases["c1"]
	assert.Equal(t, "starter", got.Name)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "common", got.Items[0].Name)
	assert.Equal(t, int64(10_000), got.Items[1].Tickets)

	_, err = repo.GetByIDs(ctx, []string{"c1", "nope"})
	assert.ErrorIs(t, err, ErrCaseNotFound)
}
