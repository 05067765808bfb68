// Package jackpot implements the pooled N-player jackpot. Members stake items
// into one pot. When the session starts the pot moves to a holding account;
// after a countdown a ticket drawn over value-proportional ranges picks the
// member who receives the whole pot.
package jackpot

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

// Errors for jackpot.
var (
	ErrNotJoinable      = fmt.Errorf("%w: jackpot is not accepting members", errs.ErrConflict)
	ErrFull             = fmt.Errorf("%w: jackpot is full", errs.ErrConflict)
	ErrAlreadyStaked    = fmt.Errorf("%w: item is already in the pot", errs.ErrConflict)
	ErrNotStartable     = fmt.Errorf("%w: jackpot is not waiting to start", errs.ErrConflict)
	ErrNotFinalizable   = fmt.Errorf("%w: jackpot is not in countdown", errs.ErrConflict)
	ErrCountdownRunning = fmt.Errorf("%w: countdown has not elapsed", errs.ErrConflict)

	// ErrSettlementFailed is returned after the session was marked failed.
	ErrSettlementFailed = errors.New("jackpot settlement failed")
)

// Manager drives jackpot sessions.
type Manager struct {
	deps    game.Deps
	cfg     config.JackpotConfig
	holding string
	store   *session.Store[Session]
}

// New creates a jackpot manager. Stakes are held by holdingAccount during
// the countdown.
func New(deps game.Deps, cfg config.JackpotConfig, holdingAccount string) *Manager {
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		holding: holdingAccount,
		store:   game.Store[Session](deps, model.ModeJackpot, cfg.SessionTTL),
	}
}

// Mode implements game.Manager.
func (m *Manager) Mode() model.Mode {
	return model.ModeJackpot
}

// CreateRequest holds the creator's opening stake.
type CreateRequest struct {
	UserID     string
	AssetIDs   []string
	ClientSeed string
}

// JoinRequest holds a member's stake. A member may join again to add items.
type JoinRequest struct {
	UserID     string
	AssetIDs   []string
	ClientSeed string
}

// Create opens a session with the creator as its first member.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
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
		Base:       base,
		Status:     StatusWaiting,
		CreatorID:  req.UserID,
		MaxPlayers: m.maxPlayers(),
		Members:    []Member{m.newMember(ctx, req.UserID, items, req.ClientSeed, now)},
	}
	m.schedule(s, now)
	if err := m.store.Create(ctx, s.ID, s, req.UserID); err != nil {
		return nil, err
	}

	game.RecordTransition(model.ModeJackpot, string(StatusWaiting))
	m.deps.Event(model.ModeJackpot, s.ID, model.EventCreated, req.UserID, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", req.UserID).
		Str("value", s.Pot().String()).
		Msg("Jackpot created")
	return s.Public(), nil
}

// Maintain keeps one house session open when the house is enabled. The
// house back-reference guarantees a single open house session across
// workers.
func (m *Manager) Maintain(ctx context.Context, now time.Time) error {
	if !m.cfg.House {
		return nil
	}
	current, err := m.store.Participant(ctx, m.cfg.HouseID)
	if err != nil || current != "" {
		return err
	}

	base, err := game.NewBase(m.deps.Server, now)
	if err != nil {
		return err
	}
	s := &Session{
		Base:       base,
		Status:     StatusWaiting,
		CreatorID:  m.cfg.HouseID,
		House:      true,
		MaxPlayers: m.maxPlayers(),
	}
	err = m.store.Create(ctx, s.ID, s, m.cfg.HouseID)
	if errors.Is(err, session.ErrParticipantBusy) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open house jackpot: %w", err)
	}

	game.RecordTransition(model.ModeJackpot, string(StatusWaiting))
	m.deps.Event(model.ModeJackpot, s.ID, model.EventCreated, m.cfg.HouseID, s.summary())
	log.Info().Str("session_id", s.ID).Msg("House jackpot opened")
	return nil
}

// House returns the open house session, or ErrNotFound.
func (m *Manager) House(ctx context.Context) (*Session, error) {
	id, err := m.store.Participant(ctx, m.cfg.HouseID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, session.ErrNotFound
	}
	return m.Get(ctx, id)
}

// Join adds a stake. New members claim a seat; existing members add items
// to their contribution.
func (m *Manager) Join(ctx context.Context, id string, req JoinRequest) (*Session, error) {
	items, err := game.ValidateStake(ctx, m.deps.Inventory, req.UserID, req.AssetIDs)
	if err != nil {
		return nil, err
	}

	var fresh *Member
	s, err := m.store.Update(ctx, id, func(s *Session, w *session.Write) error {
		if s.Status != StatusWaiting {
			return ErrNotJoinable
		}
		for _, it := range items {
			if s.staked(it.AssetID) {
				return fmt.Errorf("%w: %s", ErrAlreadyStaked, it.AssetID)
			}
		}

		now := m.deps.Clock()
		if mem := s.member(req.UserID); mem != nil {
			mem.Items = append(mem.Items, items...)
			mem.Value = model.TotalValue(mem.Items)
		} else {
			if len(s.Members) >= s.MaxPlayers {
				return ErrFull
			}
			if fresh == nil {
				mem := m.newMember(ctx, req.UserID, items, req.ClientSeed, now)
				fresh = &mem
			}
			s.Members = append(s.Members, *fresh)
			w.Claim(req.UserID)
		}
		m.schedule(s, now)
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.deps.Event(model.ModeJackpot, s.ID, model.EventJoined, req.UserID, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", req.UserID).
		Int("members", len(s.Members)).
		Str("pot", s.Pot().String()).
		Msg("Jackpot joined")
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

	switch {
	case s.Status == StatusStarting,
		s.Status == StatusWaiting && s.AutoStartAt != nil && !now.Before(*s.AutoStartAt):
		err = m.Start(ctx, id)
	case s.Status == StatusCountdown && s.CountdownEndsAt != nil && !now.Before(*s.CountdownEndsAt):
		err = m.Finalize(ctx, id)
	default:
		_, err = game.Sweep(ctx, m.store, id, &s.Base, s.Status.Terminal(), now, m.cfg.TerminalGrace)
		return err
	}
	if errors.Is(err, lock.ErrLockHeld) {
		return nil
	}
	return err
}

// Start closes the session to new members, re-verifies every stake, moves
// the pot to the holding account and opens the countdown. An interrupted
// start resumes from the recorded hold transfer.
func (m *Manager) Start(ctx context.Context, id string) error {
	return lock.WithLock(ctx, m.deps.Locker, m.store.LockKey(id), m.deps.LockTimeout(), func() error {
		return m.start(ctx, id)
	})
}

func (m *Manager) start(ctx context.Context, id string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch s.Status {
	case StatusCountdown, StatusComplete:
		return nil
	case StatusWaiting:
		if len(s.Members) == 0 {
			return ErrNotStartable
		}
		s, err = m.store.Update(ctx, id, func(s *Session, _ *session.Write) error {
			if s.Status != StatusWaiting {
				return ErrNotStartable
			}
			now := m.deps.Clock()
			s.Status = StatusStarting
			s.StartedAt = &now
			s.Touch(now)
			return nil
		})
		if err != nil {
			return err
		}
		game.RecordTransition(model.ModeJackpot, string(StatusStarting))
	case StatusStarting:
	default:
		return ErrNotStartable
	}
	return m.hold(ctx, s)
}

// hold moves the verified stakes into escrow and opens the countdown.
func (m *Manager) hold(ctx context.Context, s *Session) error {
	transferID := s.HoldTransferID
	if transferID != "" {
		t, err := m.deps.Transfers.Get(ctx, transferID)
		if err != nil {
			return fmt.Errorf("failed to load hold transfer: %w", err)
		}
		// A voided hold is retried with freshly verified stakes.
		if t.Status == model.TransferCanceled {
			transferID = ""
		}
	}

	if transferID == "" {
		var err error
		s, err = m.verify(ctx, s)
		if err != nil || s.Status.Terminal() {
			return err
		}
		transferID, err = m.deps.Transfers.Create(ctx, entries(s))
		if err != nil {
			return fmt.Errorf("failed to create hold transfer: %w", err)
		}
		s, err = m.store.Update(ctx, s.ID, func(s *Session, _ *session.Write) error {
			if s.Status != StatusStarting {
				return ErrNotStartable
			}
			s.HoldTransferID = transferID
			s.Touch(m.deps.Clock())
			return nil
		})
		if err != nil {
			game.CancelQuietly(ctx, m.deps.Transfers, transferID, "jackpot start aborted")
			return err
		}
	}

	if err := m.deps.Transfers.Confirm(ctx, transferID, m.holding); err != nil && !game.ConfirmedTo(ctx, m.deps.Transfers, transferID, m.holding, err) {
		if errors.Is(err, errs.ErrOwnership) {
			log.Warn().Err(err).Str("session_id", s.ID).Str("transfer_id", transferID).Msg("Jackpot hold voided, stakes will be re-verified")
		}
		return fmt.Errorf("failed to confirm hold transfer: %w", err)
	}

	s, err := m.store.Update(ctx, s.ID, func(s *Session, w *session.Write) error {
		if s.Status != StatusStarting {
			return session.ErrSkip
		}
		now := m.deps.Clock()
		ends := now.Add(m.cfg.Countdown)
		s.Status = StatusCountdown
		s.CountdownEndsAt = &ends
		s.Touch(now)
		if s.House {
			w.Release(s.CreatorID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	game.RecordTransition(model.ModeJackpot, string(StatusCountdown))
	m.deps.Event(model.ModeJackpot, s.ID, model.EventStarted, "", s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("transfer_id", transferID).
		Int("members", len(s.Members)).
		Str("pot", s.Pot().String()).
		Msg("Jackpot countdown started")
	return nil
}

// verify re-reads ownership of every stake. Members keep only the items they
// still own and are dropped when none remain. With no members left the
// session is canceled.
func (m *Manager) verify(ctx context.Context, s *Session) (*Session, error) {
	owned := make(map[string][]model.Item, len(s.Members))
	for _, mem := range s.Members {
		items, err := m.deps.Inventory.OwnedBy(ctx, mem.UserID, mem.AssetIDs())
		if err != nil {
			return nil, fmt.Errorf("failed to verify stakes: %w", err)
		}
		owned[mem.UserID] = items
	}

	var dropped []string
	s, err := m.store.Update(ctx, s.ID, func(s *Session, w *session.Write) error {
		if s.Status != StatusStarting {
			return ErrNotStartable
		}
		dropped = dropped[:0]
		kept := make([]Member, 0, len(s.Members))
		for _, mem := range s.Members {
			items := owned[mem.UserID]
			if len(items) == 0 {
				dropped = append(dropped, mem.UserID)
				continue
			}
			mem.Items = items
			mem.Value = model.TotalValue(items)
			kept = append(kept, mem)
		}
		s.Members = kept
		w.Release(dropped...)

		now := m.deps.Clock()
		if len(kept) == 0 {
			s.Status = StatusCanceled
			s.Reason = "no stakes left"
			s.Finish(now)
			w.Release(s.ParticipantIDs()...)
			w.SetTTL(m.terminalTTL())
			return nil
		}
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(dropped) > 0 {
		log.Warn().Str("session_id", s.ID).Strs("dropped", dropped).Msg("Jackpot members dropped, stakes no longer owned")
	}
	if s.Status == StatusCanceled {
		game.RecordTransition(model.ModeJackpot, string(StatusCanceled))
		m.deps.Event(model.ModeJackpot, s.ID, model.EventCanceled, "", s.summary())
		log.Info().Str("session_id", s.ID).Msg("Jackpot canceled")
	}
	return s, nil
}

// Finalize draws the winner once the countdown has elapsed and pays out the
// held pot. Every step is recorded before the next runs, so re-invoking it
// resumes where it stopped; on a complete session it does nothing.
func (m *Manager) Finalize(ctx context.Context, id string) error {
	return lock.WithLock(ctx, m.deps.Locker, m.store.LockKey(id), m.deps.LockTimeout(), func() error {
		return m.finalize(ctx, id)
	})
}

func (m *Manager) finalize(ctx context.Context, id string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch s.Status {
	case StatusComplete:
		return nil
	case StatusCountdown:
	default:
		return ErrNotFinalizable
	}
	if s.CountdownEndsAt != nil && m.deps.Clock().Before(*s.CountdownEndsAt) {
		return ErrCountdownRunning
	}

	if s.Result == nil {
		result, err := draw(s)
		if err != nil {
			return m.fail(ctx, s, err.Error())
		}
		round := &model.Round{
			Mode:       model.ModeJackpot,
			SessionID:  s.ID,
			ServerSeed: s.ServerSeed,
			Digest:     result.Digest,
			Outcome: map[string]any{
				"winner_id":    result.WinnerID,
				"ticket":       result.Ticket,
				"ranges":       result.Ranges,
				"client_seeds": s.clientSeeds(),
				"pot":          result.Pot.String(),
			},
		}
		if err := m.deps.Rounds.Create(ctx, round); err != nil {
			return fmt.Errorf("failed to record round: %w", err)
		}
		s, err = m.store.Update(ctx, id, func(s *Session, _ *session.Write) error {
			if s.Result != nil {
				return session.ErrSkip
			}
			s.Result = result
			s.Touch(m.deps.Clock())
			return nil
		})
		if err != nil {
			return err
		}
	}
	winner := s.Result.WinnerID

	payoutID := s.PayoutTransferID
	if payoutID == "" {
		payoutID, err = m.deps.Transfers.Create(ctx, []escrow.Entry{{UserID: m.holding, AssetIDs: s.assets()}})
		if errors.Is(err, errs.ErrOwnership) {
			return m.fail(ctx, s, "held pot no longer in holding account")
		}
		if err != nil {
			return fmt.Errorf("failed to create payout transfer: %w", err)
		}
		created := payoutID
		s, err = m.store.Update(ctx, id, func(s *Session, _ *session.Write) error {
			if s.PayoutTransferID != "" {
				return session.ErrSkip
			}
			s.PayoutTransferID = created
			s.Touch(m.deps.Clock())
			return nil
		})
		if err != nil {
			game.CancelQuietly(ctx, m.deps.Transfers, created, "jackpot payout aborted")
			return err
		}
		if s.PayoutTransferID != created {
			game.CancelQuietly(ctx, m.deps.Transfers, created, "duplicate jackpot payout")
			payoutID = s.PayoutTransferID
		}
	}

	if err := m.deps.Transfers.Confirm(ctx, payoutID, winner); err != nil && !game.ConfirmedTo(ctx, m.deps.Transfers, payoutID, winner, err) {
		if errors.Is(err, errs.ErrOwnership) {
			return m.fail(ctx, s, "held pot no longer in holding account")
		}
		return fmt.Errorf("failed to confirm payout transfer: %w", err)
	}

	s, err = m.store.Update(ctx, id, func(s *Session, w *session.Write) error {
		if s.Status == StatusComplete {
			return session.ErrSkip
		}
		s.Status = StatusComplete
		s.Finish(m.deps.Clock())
		w.Release(s.ParticipantIDs()...)
		w.SetTTL(m.terminalTTL())
		return nil
	})
	if err != nil {
		return err
	}

	game.RecordTransition(model.ModeJackpot, string(StatusComplete))
	game.RecordSettlement(model.ModeJackpot, "ok")
	m.deps.Event(model.ModeJackpot, s.ID, model.EventCompleted, winner, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("winner_id", winner).
		Int64("ticket", s.Result.Ticket).
		Str("pot", s.Result.Pot.String()).
		Str("transfer_id", payoutID).
		Msg("Jackpot complete")
	return nil
}

// fail marks the session failed. Held items stay in the holding account for
// manual resolution.
func (m *Manager) fail(ctx context.Context, s *Session, reason string) error {
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

	game.RecordTransition(model.ModeJackpot, string(StatusFailed))
	game.RecordSettlement(model.ModeJackpot, "failed")
	m.deps.Event(model.ModeJackpot, s.ID, model.EventFailed, "", s.summary())
	log.Error().
		Str("session_id", s.ID).
		Str("hold_transfer_id", s.HoldTransferID).
		Str("reason", reason).
		Msg("Jackpot failed")
	return fmt.Errorf("%w: %s", ErrSettlementFailed, reason)
}

func (m *Manager) newMember(ctx context.Context, userID string, items []model.Item, seed string, now time.Time) Member {
	u := model.UnknownUser(userID)
	if m.deps.Profiles != nil {
		u = m.deps.Profiles.Lookup(ctx, []string{userID})[userID]
	}
	return Member{
		UserID:      userID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Items:       items,
		Value:       model.TotalValue(items),
		ClientSeed:  game.ClientSeed(seed),
		JoinedAt:    now,
	}
}

// schedule sets the auto-start deadline. House sessions start counting at
// the first member, others at the second; a full session is due at once.
func (m *Manager) schedule(s *Session, now time.Time) {
	if len(s.Members) >= s.MaxPlayers {
		s.AutoStartAt = &now
		return
	}
	if s.AutoStartAt != nil {
		return
	}
	need := 2
	if s.House {
		need = 1
	}
	if len(s.Members) >= need {
		at := now.Add(m.cfg.AutoStartAfter)
		s.AutoStartAt = &at
	}
}

func (m *Manager) maxPlayers() int {
	if m.cfg.MaxPlayers < 1 {
		return 1
	}
	return m.cfg.MaxPlayers
}

func (m *Manager) terminalTTL() time.Duration {
	if m.cfg.TerminalGrace <= 0 {
		return m.cfg.SessionTTL
	}
	return 2 * m.cfg.TerminalGrace
}

func entries(s *Session) []escrow.Entry {
	out := make([]escrow.Entry, len(s.Members))
	for i, mem := range s.Members {
		out[i] = escrow.Entry{UserID: mem.UserID, AssetIDs: mem.AssetIDs()}
	}
	return out
}

// draw allocates tickets and picks the winner. A pot with no value falls
// back to equal shares.
func draw(s *Session) (*Result, error) {
	stakes := s.stakes()
	ranges, err := Allocate(stakes)
	if errors.Is(err, ErrEmptyPool) {
		for i := range stakes {
			stakes[i].Cents = 1
		}
		ranges, err = Allocate(stakes)
	}
	if err != nil {
		return nil, err
	}

	d, err := fair.Ticket(s.ServerSeed, s.clientSeeds())
	if err != nil {
		return nil, err
	}
	return &Result{
		WinnerID: Owner(ranges, d.Ticket),
		Ticket:   d.Ticket,
		Digest:   d.Digest,
		Pot:      s.Pot(),
		Ranges:   ranges,
	}, nil
}

// Verify recomputes a completed session's draw from its revealed seeds.
func Verify(s *Session) bool {
	if s.Result == nil || s.ServerSeed == "" || fair.HashSeed(s.ServerSeed) != s.ServerSeedHash {
		return false
	}
	got, err := draw(s)
	return err == nil &&
		got.WinnerID == s.Result.WinnerID &&
		got.Ticket == s.Result.Ticket &&
		got.Digest == s.Result.Digest
}

var (
	_ game.Manager    = (*Manager)(nil)
	_ game.Maintainer = (*Manager)(nil)
)
