package jackpot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-engine/internal/config"
	"wager-engine/internal/game/gametest"
	"wager-engine/internal/model"
	"wager-engine/internal/session"
)

const holding = "escrow-holding"

func testConfig() config.JackpotConfig {
	return config.JackpotConfig{
		Countdown:      10 * time.Second,
		AutoStartAfter: 30 * time.Second,
		MaxPlayers:     10,
		HouseID:        "house",
		SessionTTL:     time.Hour,
		TerminalGrace:  time.Minute,
	}
}

func setup(t *testing.T, cfg config.JackpotConfig) (*Manager, *gametest.Env) {
	t.Helper()
	env := gametest.New()
	env.Inventory.Give("alice", "a1", "1.00")
	env.Inventory.Give("alice", "a2", "0.50")
	env.Inventory.Give("bob", "b1", "2.00")
	env.Inventory.Give("carol", "c1", "3.00")
	return New(env.Deps, cfg, holding), env
}

func TestJackpot_EndToEnd(t *testing.T) {
	m, env := setup(t, testConfig())
	ctx := context.Background()

	s, err := m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a1"}})
	require.NoError(t, err)
	assert.Nil(t, s.AutoStartAt, "a lone creator does not start the clock")

	s, err = m.Join(ctx, s.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)
	require.NotNil(t, s.AutoStartAt)
	assert.Equal(t, env.Clock.Now().Add(30*time.Second), *s.AutoStartAt)

	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "carol", AssetIDs: []string{"c1"}})
	require.NoError(t, err)

	require.NoError(t, m.Advance(ctx, s.ID, env.Clock.Now()))
	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)

	env.Clock.Advance(30 * time.Second)
	require.NoError(t, m.Advance(ctx, s.ID, env.Clock.Now()))
	got, err = m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCountdown, got.Status)
	assert.Equal(t, []string{"a1", "b1", "c1"}, env.Escrow.Items(holding))

	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "alice", AssetIDs: []string{"a2"}})
	assert.ErrorIs(t, err, ErrNotJoinable)
	assert.ErrorIs(t, m.Finalize(ctx, s.ID), ErrCountdownRunning)

	env.Clock.Advance(10 * time.Second)
	require.NoError(t, m.Advance(ctx, s.ID, env.Clock.Now()))

	got, err = m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, []Range{
		{UserID: "alice", From: 0, To: 16666},
		{UserID: "bob", From: 16667, To: 49999},
		{UserID: "carol", From: 50000, To: 99999},
	}, got.Result.Ranges)
	assert.Equal(t, Owner(got.Result.Ranges, got.Result.Ticket), got.Result.WinnerID)
	assert.Equal(t, "6", got.Result.Pot.String())
	assert.True(t, Verify(got))

	// The winner may also hold unstaked items of their own.
	assert.Subset(t, env.Escrow.Items(got.Result.WinnerID), []string{"a1", "b1", "c1"})
	assert.Empty(t, env.Escrow.Items(holding))
	assert.Len(t, env.Rounds.All(), 1)
	assert.Equal(t, []model.EventKind{
		model.EventCreated, model.EventJoined, model.EventJoined, model.EventStarted, model.EventCompleted,
	}, env.Events.Kinds(s.ID))

	// Everyone is free again.
	_, err = m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a2"}})
	require.NoError(t, err)
}

func TestJackpot_FinalizeIsIdempotent(t *testing.T) {
	m, env := setup(t, testConfig())
	ctx := context.Background()

	s, err := m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a1"}})
	require.NoError(t, err)
	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, s.ID))
	env.Clock.Advance(10 * time.Second)

	// The payout confirm fails once; the next run resumes the recorded payout.
	env.Escrow.FailNext("confirm", errors.New("transfer api down"))
	require.Error(t, m.Finalize(ctx, s.ID))
	got, err := m.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCountdown, got.Status)
	require.NotNil(t, got.Result)
	require.NotEmpty(t, got.PayoutTransferID)
	winner := got.Result.WinnerID

	require.NoError(t, m.Finalize(ctx, s.ID))
	transfers := env.Escrow.Transfers()
	require.Len(t, transfers, 2)

	require.NoError(t, m.Finalize(ctx, s.ID))
	require.NoError(t, m.Finalize(ctx, s.ID))

	got, err = m.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, winner, got.Result.WinnerID)
	assert.Equal(t, transfers, env.Escrow.Transfers())
	assert.Len(t, env.Rounds.All(), 1)
	assert.Subset(t, env.Escrow.Items(winner), []string{"a1", "b1"})
}

func TestJackpot_ResumedFinalizeRecordsOneRound(t *testing.T) {
	m, env := setup(t, testConfig())
	ctx := context.Background()

	s, err := m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a1"}})
	require.NoError(t, err)
	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, s.ID))
	env.Clock.Advance(10 * time.Second)

	// An earlier attempt recorded the round and died before saving the result.
	recorded := &model.Round{Mode: model.ModeJackpot, SessionID: s.ID, Digest: "recorded"}
	require.NoError(t, env.Rounds.Create(ctx, recorded))

	require.NoError(t, m.Finalize(ctx, s.ID))
	rounds := env.Rounds.All()
	require.Len(t, rounds, 1)
	assert.Equal(t, "recorded", rounds[0].Digest)
}

func TestJackpot_HoldResumes(t *testing.T) {
	m, env := setup(t, testConfig())
	ctx := context.Background()

	s, err := m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a1"}})
	require.NoError(t, err)
	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)

	env.Escrow.FailNext("confirm", errors.New("transfer api down"))
	require.Error(t, m.Start(ctx, s.ID))
	got, err := m.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, got.Status)
	assert.NotEmpty(t, got.HoldTransferID)

	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "carol", AssetIDs: []string{"c1"}})
	assert.ErrorIs(t, err, ErrNotJoinable)

	require.NoError(t, m.Advance(ctx, s.ID, env.Clock.Now()))
	got, err = m.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCountdown, got.Status)
	assert.Len(t, env.Escrow.Transfers(), 1)
}

func TestJackpot_StartDropsTradedStakes(t *testing.T) {
	m, env := setup(t, testConfig())
	ctx := context.Background()

	s, err := m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a1", "a2"}})
	require.NoError(t, err)
	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)

	env.Escrow.Give("carol", "b1", "a2")
	require.NoError(t, m.Start(ctx, s.ID))

	got, err := m.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCountdown, got.Status)
	require.Len(t, got.Members, 1)
	assert.Equal(t, "alice", got.Members[0].UserID)
	assert.Equal(t, "1", got.Members[0].Value.String())

	ref, err := m.store.Participant(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, ref, "dropped members are released")
}

func TestJackpot_NoStakesLeftCancels(t *testing.T) {
	m, env := setup(t, testConfig())
	ctx := context.Background()

	s, err := m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a1"}})
	require.NoError(t, err)
	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)

	env.Escrow.Give("carol", "a1", "b1")
	require.NoError(t, m.Start(ctx, s.ID))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Empty(t, env.Escrow.Transfers())

	_, err = m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a2"}})
	require.NoError(t, err)

	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, m.Advance(ctx, s.ID, env.Clock.Now()))
	ids, err := m.ActiveIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, s.ID)
}

func TestJackpot_JoinRules(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPlayers = 2
	m, env := setup(t, cfg)
	ctx := context.Background()

	s, err := m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a1"}})
	require.NoError(t, err)

	_, err = m.Create(ctx, CreateRequest{UserID: "alice", AssetIDs: []string{"a2"}})
	assert.ErrorIs(t, err, session.ErrParticipantBusy)

	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "alice", AssetIDs: []string{"a1"}})
	assert.ErrorIs(t, err, ErrAlreadyStaked)

	s, err = m.Join(ctx, s.ID, JoinRequest{UserID: "alice", AssetIDs: []string{"a2"}})
	require.NoError(t, err)
	require.Len(t, s.Members, 1)
	assert.Equal(t, "1.5", s.Members[0].Value.String())

	s, err = m.Join(ctx, s.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)
	require.NotNil(t, s.AutoStartAt)
	assert.Equal(t, env.Clock.Now(), *s.AutoStartAt, "a full session is due at once")

	_, err = m.Join(ctx, s.ID, JoinRequest{UserID: "carol", AssetIDs: []string{"c1"}})
	assert.ErrorIs(t, err, ErrFull)
}

func TestJackpot_HouseSession(t *testing.T) {
	cfg := testConfig()
	cfg.House = true
	m, env := setup(t, cfg)
	ctx := context.Background()

	require.NoError(t, m.Maintain(ctx, env.Clock.Now()))
	require.NoError(t, m.Maintain(ctx, env.Clock.Now()))
	ids, err := m.ActiveIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	house, err := m.House(ctx)
	require.NoError(t, err)
	assert.True(t, house.House)
	assert.Empty(t, house.Members)

	s, err := m.Join(ctx, house.ID, JoinRequest{UserID: "bob", AssetIDs: []string{"b1"}})
	require.NoError(t, err)
	require.NotNil(t, s.AutoStartAt, "the first house member starts the clock")

	env.Clock.Advance(30 * time.Second)
	require.NoError(t, m.Advance(ctx, house.ID, env.Clock.Now()))
	got, err := m.Get(ctx, house.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCountdown, got.Status)

	// The house moves on to a fresh session during the countdown.
	require.NoError(t, m.Maintain(ctx, env.Clock.Now()))
	next, err := m.House(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, house.ID, next.ID)

	env.Clock.Advance(10 * time.Second)
	require.NoError(t, m.Advance(ctx, house.ID, env.Clock.Now()))
	got, err = m.Get(ctx, house.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, "bob", got.Result.WinnerID)
	assert.Equal(t, []string{"b1"}, env.Escrow.Items("bob"))
}
