// Package coinflip implements the two-player coin toss. The creator stakes
// items and picks a side; a joiner stakes against it. Settlement runs later,
// from a scheduler tick, so the join request never pays its cost.
package coinflip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"wager-engine/internal/config"
	"wager-engine/internal/escrow"
	"wager-engine/internal/fair"
	"wager-engine/internal/game"
	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
	"wager-engine/internal/pkg/lock"
	"wager-engine/internal/session"
)

// Errors for coinflip.
var (
	ErrInvalidCoin  = fmt.Errorf("%w: coin must be ct or t", errs.ErrValidation)
	ErrNotJoinable  = fmt.Errorf("%w: coinflip is not waiting for a player", errs.ErrConflict)
	ErrSelfJoin     = fmt.Errorf("%w: cannot join your own coinflip", errs.ErrConflict)
	ErrNotStartable = fmt.Errorf("%w: coinflip is not awaiting confirmation", errs.ErrConflict)
	ErrNotCreator   = fmt.Errorf("%w: only the creator can cancel", errs.ErrConflict)

	// ErrSettlementFailed is returned after a failed settlement was
	// compensated and the session marked failed.
	ErrSettlementFailed = errors.New("coinflip settlement failed")
)

// Manager drives coinflip sessions.
type Manager struct {
	deps  game.Deps
	cfg   config.CoinflipConfig
	store *session.Store[Session]
}

// New creates a coinflip manager.
func New(deps game.Deps, cfg config.CoinflipConfig) *Manager {
	return &Manager{
		deps:  deps,
		cfg:   cfg,
		store: game.Store[Session](deps, model.ModeCoinflip, cfg.SessionTTL),
	}
}

// Mode implements game.Manager.
func (m *Manager) Mode() model.Mode {
	return model.ModeCoinflip
}

// CreateRequest holds the creator's stake.
type CreateRequest struct {
	UserID     string
	AssetIDs   []string
	Coin       Coin
	ClientSeed string
}

// JoinRequest holds the joiner's stake.
type JoinRequest struct {
	UserID     string
	AssetIDs   []string
	ClientSeed string
}

// Create opens a session. The creator must own every staked item and have
// no other active coinflip.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if !req.Coin.Valid() {
		return nil, ErrInvalidCoin
	}
	items, err := game.ValidateStake(ctx, m.deps.Inventory, req.UserID, req.AssetIDs)
	if err != nil {
		return nil, err
	}

	now := m.deps.Clock()
	base, err := game.NewBase(m.deps.Server, now)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Base:    base,
		Status:  StatusWaiting,
		Creator: m.side(ctx, req.UserID, req.Coin, items, req.ClientSeed),
	}
	if err := m.store.Create(ctx, s.ID, s, req.UserID); err != nil {
		return nil, err
	}

	game.RecordTransition(model.ModeCoinflip, string(StatusWaiting))
	m.deps.Event(model.ModeCoinflip, s.ID, model.EventCreated, req.UserID, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", req.UserID).
		Str("value", s.Creator.Value.String()).
		Msg("Coinflip created")
	return s.Public(), nil
}

// Join fills the second seat and schedules the start.
func (m *Manager) Join(ctx context.Context, id string, req JoinRequest) (*Session, error) {
	items, err := game.ValidateStake(ctx, m.deps.Inventory, req.UserID, req.AssetIDs)
	if err != nil {
		return nil, err
	}

	var joiner *Side
	s, err := m.store.Update(ctx, id, func(s *Session, w *session.Write) error {
		if s.Status != StatusWaiting || s.Joiner != nil {
			return ErrNotJoinable
		}
		if s.Creator.UserID == req.UserID {
			return ErrSelfJoin
		}
		if joiner == nil {
			side := m.side(ctx, req.UserID, s.Creator.Coin.Opposite(), items, req.ClientSeed)
			joiner = &side
		}
		now := m.deps.Clock()
		startAfter := now.Add(m.cfg.StartDelay)
		s.Joiner = joiner
		s.Status = StatusAwaiting
		s.StartAfter = &startAfter
		s.Touch(now)
		w.Claim(req.UserID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	game.RecordTransition(model.ModeCoinflip, string(StatusAwaiting))
	m.deps.Event(model.ModeCoinflip, s.ID, model.EventJoined, req.UserID, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", req.UserID).
		Str("value", s.Joiner.Value.String()).
		Msg("Coinflip joined")
	return s.Public(), nil
}

// Cancel closes a session nobody has joined yet.
func (m *Manager) Cancel(ctx context.Context, id, userID string) (*Session, error) {
	s, err := m.store.Update(ctx, id, func(s *Session, w *session.Write) error {
		if s.Creator.UserID != userID {
			return ErrNotCreator
		}
		if s.Status != StatusWaiting {
			return ErrNotJoinable
		}
		s.Status = StatusCanceled
		s.Finish(m.deps.Clock())
		w.Release(s.ParticipantIDs()...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	game.RecordTransition(model.ModeCoinflip, string(StatusCanceled))
	m.deps.Event(model.ModeCoinflip, s.ID, model.EventCanceled, userID, s.summary())
	log.Info().Str("session_id", id).Msg("Coinflip canceled")
	return s.Public(), nil
}

// Get returns the public view of a session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Public(), nil
}

// ActiveIDs implements game.Manager.
func (m *Manager) ActiveIDs(ctx context.Context) ([]string, error) {
	return m.store.Active(ctx)
}

// Advance implements game.Manager.
func (m *Manager) Advance(ctx context.Context, id string, now time.Time) error {
	s, err := game.Load(ctx, m.store, id)
	if err != nil {
		return err
	}
	if s == nil {
		_, err := game.Sweep(ctx, m.store, id, nil, true, now, 0)
		return err
	}
	if s.Status == StatusAwaiting && s.StartAfter != nil && !now.Before(*s.StartAfter) {
		err := m.Start(ctx, id)
		if errors.Is(err, lock.ErrLockHeld) {
			return nil
		}
		return err
	}
	_, err = game.Sweep(ctx, m.store, id, &s.Base, s.Status.Terminal(), now, m.cfg.TerminalGrace)
	return err
}

// Start settles a joined session: both stakes go into one escrow transfer,
// the coin is resolved weighted by stake value, and the transfer is
// confirmed to the winner. Any failure after the transfer exists cancels it
// and marks the session failed. Starting a completed session is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	return lock.WithLock(ctx, m.deps.Locker, m.store.LockKey(id), m.deps.LockTimeout(), func() error {
		return m.settle(ctx, id)
	})
}

func (m *Manager) settle(ctx context.Context, id string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case s.Status == StatusCompleted:
		return nil
	case s.Status != StatusAwaiting || s.Joiner == nil:
		return ErrNotStartable
	}

	// A previous attempt may have died after recording the transfer; resume it.
	transferID := s.TransferID
	if transferID == "" {
		transferID, err = m.deps.Transfers.Create(ctx, []escrow.Entry{
			{UserID: s.Creator.UserID, AssetIDs: s.Creator.AssetIDs()},
			{UserID: s.Joiner.UserID, AssetIDs: s.Joiner.AssetIDs()},
		})
		if errors.Is(err, errs.ErrOwnership) {
			return m.fail(ctx, s, "", "stake no longer owned")
		}
		if err != nil {
			return fmt.Errorf("failed to create transfer: %w", err)
		}

		s, err = m.store.Update(ctx, id, func(s *Session, _ *session.Write) error {
			if s.Status != StatusAwaiting || s.TransferID != "" {
				return ErrNotStartable
			}
			s.TransferID = transferID
			s.Touch(m.deps.Clock())
			return nil
		})
		if err != nil {
			game.CancelQuietly(ctx, m.deps.Transfers, transferID, "coinflip start aborted")
			return err
		}
	}

	result, err := resolve(s)
	if err != nil {
		return m.fail(ctx, s, transferID, err.Error())
	}

	round := &model.Round{
		Mode:       model.ModeCoinflip,
		SessionID:  s.ID,
		ServerSeed: s.ServerSeed,
		Digest:     result.Digest,
		Outcome: map[string]any{
			"winner_id":    result.WinnerID,
			"winning_coin": string(result.WinningCoin),
			"roll":         result.Roll,
			"total":        result.Total,
			"client_seeds": []string{s.Creator.ClientSeed, s.Joiner.ClientSeed},
			"nonce":        s.Nonce,
		},
	}
	if err := m.deps.Rounds.Create(ctx, round); err != nil {
		return m.fail(ctx, s, transferID, "failed to record round")
	}

	if err := m.deps.Transfers.Confirm(ctx, transferID, result.WinnerID); err != nil && !game.ConfirmedTo(ctx, m.deps.Transfers, transferID, result.WinnerID, err) {
		return m.fail(ctx, s, transferID, "failed to confirm transfer")
	}

	s, err = m.store.Update(ctx, id, func(s *Session, w *session.Write) error {
		if s.Status == StatusCompleted {
			return session.ErrSkip
		}
		s.Status = StatusCompleted
		s.Result = result
		s.Finish(m.deps.Clock())
		w.Release(s.ParticipantIDs()...)
		w.SetTTL(m.terminalTTL())
		return nil
	})
	if err != nil {
		return err
	}

	game.RecordTransition(model.ModeCoinflip, string(StatusCompleted))
	game.RecordSettlement(model.ModeCoinflip, "ok")
	m.deps.Event(model.ModeCoinflip, s.ID, model.EventCompleted, result.WinnerID, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("winner_id", result.WinnerID).
		Str("winning_coin", string(result.WinningCoin)).
		Str("transfer_id", transferID).
		Msg("Coinflip completed")
	return nil
}

// fail cancels the transfer and marks the session failed.
func (m *Manager) fail(ctx context.Context, s *Session, transferID, reason string) error {
	game.CancelQuietly(ctx, m.deps.Transfers, transferID, reason)

	s, err := m.store.Update(ctx, s.ID, func(s *Session, w *session.Write) error {
		if s.Status.Terminal() {
			return session.ErrSkip
		}
		s.Status = StatusFailed
		s.Reason = reason
		s.Finish(m.deps.Clock())
		w.Release(s.ParticipantIDs()...)
		w.SetTTL(m.terminalTTL())
		return nil
	})
	if err != nil {
		return err
	}

	game.RecordTransition(model.ModeCoinflip, string(StatusFailed))
	game.RecordSettlement(model.ModeCoinflip, "failed")
	m.deps.Event(model.ModeCoinflip, s.ID, model.EventFailed, "", s.summary())
	log.Warn().Str("session_id", s.ID).Str("reason", reason).Msg("Coinflip failed")
	return fmt.Errorf("%w: %s", ErrSettlementFailed, reason)
}

func (m *Manager) side(ctx context.Context, userID string, coin Coin, items []model.Item, seed string) Side {
	u := model.UnknownUser(userID)
	if m.deps.Profiles != nil {
		u = m.deps.Profiles.Lookup(ctx, []string{userID})[userID]
	}
	return Side{
		UserID:      userID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Coin:        coin,
		Items:       items,
		Value:       model.TotalValue(items),
		ClientSeed:  game.ClientSeed(seed),
	}
}

func (m *Manager) terminalTTL() time.Duration {
	if m.cfg.TerminalGrace <= 0 {
		return m.cfg.SessionTTL
	}
	// The document outlives the index entry so late observers can still read it.
	return 2 * m.cfg.TerminalGrace
}

// resolve draws the coin weighted by each side's stake in cents.
func resolve(s *Session) (*Result, error) {
	first, second := model.Cents(s.Creator.Value), model.Cents(s.Joiner.Value)
	if first+second <= 0 {
		first, second = 1, 1
	}
	res, err := fair.Coin(s.ServerSeed, []string{s.Creator.ClientSeed, s.Joiner.ClientSeed}, s.Nonce, first, second)
	if err != nil {
		return nil, err
	}

	winner := s.Joiner
	if res.FirstWins {
		winner = &s.Creator
	}
	return &Result{
		WinnerID:    winner.UserID,
		WinningCoin: winner.Coin,
		Digest:      res.Digest,
		Roll:        res.Roll,
		Total:       res.Total,
		Pot:         s.Creator.Value.Add(s.Joiner.Value),
	}, nil
}

// Verify recomputes a completed session's outcome from its revealed seeds.
func Verify(s *Session) bool {
	if s.Result == nil || s.Joiner == nil || s.ServerSeed == "" {
		return false
	}
	if fair.HashSeed(s.ServerSeed) != s.ServerSeedHash {
		return false
	}
	got, err := resolve(s)
	return err == nil &&
		got.WinnerID == s.Result.WinnerID &&
		got.WinningCoin == s.Result.WinningCoin &&
		got.Digest == s.Result.Digest &&
		got.Roll == s.Result.Roll &&
		got.Total == s.Result.Total
}

var _ game.Manager = (*Manager)(nil)
