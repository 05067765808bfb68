// Package casebattle implements multi-round case-opening battles. Players
// take seats in teams; once every seat is filled each round opens one case
// per player and, after the last round, a settlement strategy divides the
// value of everything pulled. Payouts to humans are queued as pending
// settlements; bots take part but are never paid.
package casebattle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"wager-engine/internal/config"
	"wager-engine/internal/fair"
	"wager-engine/internal/game"
	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
	"wager-engine/internal/pkg/lock"
	"wager-engine/internal/session"
)

const (
	maxSeats = 8

	botPrefix = "bot-"
	botWords  = 2
	botSep    = "-"
)

// Errors for case battles.
var (
	ErrInvalidStrategy = fmt.Errorf("%w: unknown battle strategy", errs.ErrValidation)
	ErrInvalidTeams    = fmt.Errorf("%w: battles need at least two seats and at most %d", errs.ErrValidation, maxSeats)
	ErrNoCases         = fmt.Errorf("%w: at least one case is required", errs.ErrValidation)
	ErrTooManyRounds   = fmt.Errorf("%w: too many cases", errs.ErrValidation)
	ErrInvalidPosition = fmt.Errorf("%w: seat position out of range", errs.ErrValidation)
	ErrNotJoinable     = fmt.Errorf("%w: battle is not waiting for players", errs.ErrConflict)
	ErrSeatTaken       = fmt.Errorf("%w: seat already taken", errs.ErrConflict)
	ErrAlreadySeated   = fmt.Errorf("%w: already seated in this battle", errs.ErrConflict)
	ErrFull            = fmt.Errorf("%w: battle is full", errs.ErrConflict)
	ErrNotCreator      = fmt.Errorf("%w: only the creator can do that", errs.ErrConflict)
	ErrNotStartable    = fmt.Errorf("%w: battle is not ready to start", errs.ErrConflict)

	errRoundTaken = errors.New("round already drawn")
)

// Catalog reads case definitions.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*model.Case, error)
}

// Settlements queues payouts for the external settlement processor.
type Settlements interface {
	CreatePending(ctx context.Context, s *model.Settlement) (bool, error)
}

// Manager drives case battles.
type Manager struct {
	deps        game.Deps
	cfg         config.CaseBattleConfig
	catalog     Catalog
	settlements Settlements
	store       *session.Store[Session]

	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]bool
}

// New creates a case battle manager.
func New(deps game.Deps, cfg config.CaseBattleConfig, catalog Catalog, settlements Settlements) *Manager {
	return &Manager{
		deps:        deps,
		cfg:         cfg,
		catalog:     catalog,
		settlements: settlements,
		store:       game.Store[Session](deps, model.ModeCaseBattle, cfg.SessionTTL),
		running:     make(map[string]bool),
	}
}

// Mode implements game.Manager.
func (m *Manager) Mode() model.Mode {
	return model.ModeCaseBattle
}

// CreateRequest describes a new battle. The creator takes seat 0.
type CreateRequest struct {
	UserID     string
	CaseIDs    []string
	Strategy   Strategy
	Crazy      bool
	TeamCount  int
	TeamSize   int
	ClientSeed string
}

// JoinRequest takes a seat. A nil Position takes the first free seat.
type JoinRequest struct {
	UserID     string
	Position   *int
	ClientSeed string
}

// Create opens a battle with the cases snapshotted from the catalog.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.UserID == "" {
		return nil, game.ErrNoUser
	}
	if !req.Strategy.Valid() {
		return nil, ErrInvalidStrategy
	}
	if req.TeamCount < 1 || req.TeamSize < 1 || req.TeamCount*req.TeamSize < 2 || req.TeamCount*req.TeamSize > maxSeats {
		return nil, ErrInvalidTeams
	}
	if req.Strategy != StrategyShare && req.TeamCount < 2 {
		return nil, ErrInvalidTeams
	}
	cases, err := m.cases(ctx, req.CaseIDs)
	if err != nil {
		return nil, err
	}

	now := m.deps.Clock()
	base, err := game.NewBase(m.deps.Server, now)
	if err != nil {
		return nil, err
	}
	cost := decimal.Zero
	for _, c := range cases {
		cost = cost.Add(c.Price)
	}
	s := &Session{
		Base:      base,
		Status:    StatusWaiting,
		CreatorID: req.UserID,
		Strategy:  req.Strategy,
		Crazy:     req.Crazy,
		TeamCount: req.TeamCount,
		TeamSize:  req.TeamSize,
		Cases:     cases,
		Cost:      cost,
	}
	s.Players = []Player{m.human(ctx, s, req.UserID, 0, req.ClientSeed)}
	if err := m.store.Create(ctx, s.ID, s, req.UserID); err != nil {
		return nil, err
	}

	game.RecordTransition(model.ModeCaseBattle, string(StatusWaiting))
	m.deps.Event(model.ModeCaseBattle, s.ID, model.EventCreated, req.UserID, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", req.UserID).
		Str("strategy", string(s.Strategy)).
		Int("rounds", len(s.Cases)).
		Int("seats", s.Seats()).
		Msg("Case battle created")
	return s.Public(), nil
}

func (m *Manager) cases(ctx context.Context, ids []string) ([]model.Case, error) {
	if len(ids) == 0 {
		return nil, ErrNoCases
	}
	if m.cfg.MaxRounds > 0 && len(ids) > m.cfg.MaxRounds {
		return nil, ErrTooManyRounds
	}
	found, err := m.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.Case, len(ids))
	for i, id := range ids {
		c, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: case %s", errs.ErrNotFound, id)
		}
		if err := ValidateCase(c); err != nil {
			return nil, fmt.Errorf("case %s: %w", id, err)
		}
		out[i] = *c
	}
	return out, nil
}

// Join seats a player. When the creator joins their own battle again the
// seat goes to a bot instead. Filling the last seat starts the battle.
func (m *Manager) Join(ctx context.Context, id string, req JoinRequest) (*Session, error) {
	if req.UserID == "" {
		return nil, game.ErrNoUser
	}

	var seat *Player
	s, err := m.store.Update(ctx, id, func(s *Session, w *session.Write) error {
		if s.CreatorID == req.UserID {
			return session.ErrSkip
		}
		pos, err := takeSeat(s, req.Position)
		if err != nil {
			return err
		}
		if s.player(req.UserID) != nil {
			return ErrAlreadySeated
		}
		if seat == nil || seat.Position != pos {
			p := m.human(ctx, s, req.UserID, pos, req.ClientSeed)
			seat = &p
		}
		s.Players = append(s.Players, *seat)
		s.Touch(m.deps.Clock())
		w.Claim(req.UserID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if seat == nil {
		return m.AddBot(ctx, id, req.UserID, req.Position)
	}
	return m.seated(ctx, s, seat)
}

// AddBot fills a seat with a bot. Only the creator may add bots.
func (m *Manager) AddBot(ctx context.Context, id, userID string, position *int) (*Session, error) {
	var seat *Player
	s, err := m.store.Update(ctx, id, func(s *Session, _ *session.Write) error {
		if s.CreatorID != userID {
			return ErrNotCreator
		}
		pos, err := takeSeat(s, position)
		if err != nil {
			return err
		}
		if seat == nil || seat.Position != pos {
			p := bot(s, pos)
			seat = &p
		}
		s.Players = append(s.Players, *seat)
		s.Touch(m.deps.Clock())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.seated(ctx, s, seat)
}

// takeSeat validates a requested seat, or picks the first free one.
func takeSeat(s *Session, position *int) (int, error) {
	if s.Status != StatusWaiting {
		return 0, ErrNotJoinable
	}
	if s.Full() {
		return 0, ErrFull
	}
	if position == nil {
		return s.freeSeat(), nil
	}
	pos := *position
	if pos < 0 || pos >= s.Seats() {
		return 0, ErrInvalidPosition
	}
	if s.seated(pos) {
		return 0, ErrSeatTaken
	}
	return pos, nil
}

func (m *Manager) seated(ctx context.Context, s *Session, p *Player) (*Session, error) {
	m.deps.Event(model.ModeCaseBattle, s.ID, model.EventJoined, p.UserID, s.summary())
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", p.UserID).
		Bool("bot", p.IsBot).
		Int("position", p.Position).
		Msg("Case battle joined")
	if s.Full() {
		m.launch(ctx, s.ID)
	}
	return s.Public(), nil
}

// Cancel closes a battle that has not started. Only the creator may cancel.
func (m *Manager) Cancel(ctx context.Context, id, userID string) (*Session, error) {
	s, err := m.store.Update(ctx, id, func(s *Session, w *session.Write) error {
		if s.CreatorID != userID {
			return ErrNotCreator
		}
		if s.Status != StatusWaiting {
			return ErrNotJoinable
		}
		s.Status = StatusCanceled
		s.Finish(m.deps.Clock())
		w.Release(s.humans()...)
		w.SetTTL(m.terminalTTL())
		return nil
	})
	if err != nil {
		return nil, err
	}

	game.RecordTransition(model.ModeCaseBattle, string(StatusCanceled))
	m.deps.Event(model.ModeCaseBattle, s.ID, model.EventCanceled, userID, s.summary())
	log.Info().Str("session_id", id).Msg("Case battle canceled")
	return s.Public(), nil
}

// Get returns the public view of a battle.
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

// Advance implements game.Manager. A full battle that never started, or an
// in-progress battle whose runner went quiet, is handed to a new runner.
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
	case s.Status == StatusWaiting && s.Full():
		m.launch(ctx, id)
	case s.Stale(now, m.cfg.StaleAfter):
		log.Warn().Str("session_id", id).Int("round", s.CurrentRound).Msg("Resuming stale case battle")
		m.launch(ctx, id)
	default:
		_, err = game.Sweep(ctx, m.store, id, &s.Base, s.Status.Terminal(), now, m.cfg.TerminalGrace)
	}
	return err
}

// launch runs the battle in the background unless this process already is.
func (m *Manager) launch(ctx context.Context, id string) {
	m.mu.Lock()
	if m.running[id] {
		m.mu.Unlock()
		return
	}
	m.running[id] = true
	m.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
		}()
		if err := m.Start(ctx, id); err != nil && !errors.Is(err, lock.ErrLockHeld) {
			log.Error().Err(err).Str("session_id", id).Msg("Case battle run failed")
		}
	}()
}

// Wait blocks until every background run has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Start flips a full battle to in progress and plays it to the end. The
// advisory lock covers only the flip; the rounds run without it. Starting
// an in-progress battle resumes it at its current round.
func (m *Manager) Start(ctx context.Context, id string) error {
	err := lock.WithLock(ctx, m.deps.Locker, m.store.LockKey(id), m.deps.LockTimeout(), func() error {
		return m.flip(ctx, id)
	})
	if err != nil {
		return err
	}
	return m.run(ctx, id)
}

func (m *Manager) flip(ctx context.Context, id string) error {
	flipped := false
	s, err := m.store.Update(ctx, id, func(s *Session, _ *session.Write) error {
		switch {
		case s.Status == StatusInProgress, s.Status == StatusCompleted:
			return session.ErrSkip
		case s.Status != StatusWaiting || !s.Full():
			return ErrNotStartable
		}
		now := m.deps.Clock()
		s.Status = StatusInProgress
		s.StartedAt = &now
		s.Touch(now)
		flipped = true
		return nil
	})
	if err != nil {
		return err
	}
	if flipped {
		game.RecordTransition(model.ModeCaseBattle, string(StatusInProgress))
		m.deps.Event(model.ModeCaseBattle, s.ID, model.EventStarted, "", s.summary())
		log.Info().Str("session_id", id).Int("rounds", len(s.Cases)).Msg("Case battle started")
	}
	return nil
}

// run draws the remaining rounds one at a time. Each round is written only
// if no other runner has drawn it yet, so concurrent runners cannot
// double-apply a round; the one that loses stops.
func (m *Manager) run(ctx context.Context, id string) error {
	for {
		s, err := m.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if s.Status != StatusInProgress {
			return nil
		}
		if s.CurrentRound >= len(s.Cases) {
			return m.settle(ctx, s)
		}

		round := s.CurrentRound
		pulls, err := DrawRound(s, round)
		if err != nil {
			return fmt.Errorf("failed to draw round %d: %w", round, err)
		}
		_, err = m.store.Update(ctx, id, func(s *Session, _ *session.Write) error {
			if s.Status != StatusInProgress || s.CurrentRound != round {
				return errRoundTaken
			}
			for i := range s.Players {
				s.Players[i].Pulls = append(s.Players[i].Pulls, pulls[i])
				s.Players[i].Total = s.Players[i].Total.Add(pulls[i].Price)
			}
			s.CurrentRound = round + 1
			s.Touch(m.deps.Clock())
			return nil
		})
		if errors.Is(err, errRoundTaken) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Debug().Str("session_id", id).Int("round", round).Msg("Case battle round drawn")

		if m.cfg.RoundDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.RoundDelay):
			}
		}
	}
}

// settle queues payouts and completes the battle. Pending settlements are
// unique per battle and user, so a rerun after a crash does not pay twice.
func (m *Manager) settle(ctx context.Context, s *Session) error {
	out, err := Settle(s)
	if err != nil {
		return err
	}

	for _, p := range out.Payouts {
		player := s.player(p.UserID)
		if player == nil || player.IsBot || !p.Amount.IsPositive() {
			continue
		}
		if _, err := m.settlements.CreatePending(ctx, &model.Settlement{
			Source:    model.ModeCaseBattle,
			SessionID: s.ID,
			UserID:    p.UserID,
			Amount:    p.Amount,
			Status:    model.SettlementPending,
		}); err != nil {
			game.RecordSettlement(model.ModeCaseBattle, "failed")
			return fmt.Errorf("failed to queue settlement: %w", err)
		}
	}

	pulls := make(map[string][]Pull, len(s.Players))
	for _, p := range s.Players {
		pulls[p.UserID] = p.Pulls
	}
	if err := m.deps.Rounds.Create(ctx, &model.Round{
		Mode:       model.ModeCaseBattle,
		SessionID:  s.ID,
		ServerSeed: s.ServerSeed,
		Digest:     out.Digest,
		Outcome: map[string]any{
			"strategy": string(s.Strategy),
			"crazy":    s.Crazy,
			"winners":  out.Winners,
			"payouts":  out.Payouts,
			"pulls":    pulls,
		},
	}); err != nil {
		return fmt.Errorf("failed to record round: %w", err)
	}

	s, err = m.store.Update(ctx, s.ID, func(s *Session, w *session.Write) error {
		if s.Status != StatusInProgress {
			return session.ErrSkip
		}
		s.Status = StatusCompleted
		s.Winners = out.Winners
		s.Payouts = out.Payouts
		s.Digest = out.Digest
		s.Finish(m.deps.Clock())
		w.Release(s.humans()...)
		w.SetTTL(m.terminalTTL())
		return nil
	})
	if err != nil {
		return err
	}

	game.RecordTransition(model.ModeCaseBattle, string(StatusCompleted))
	game.RecordSettlement(model.ModeCaseBattle, "ok")
	m.deps.Event(model.ModeCaseBattle, s.ID, model.EventCompleted, "", s.summary())
	log.Info().
		Str("session_id", s.ID).
		Strs("winners", out.Winners).
		Str("pool", s.Pool().String()).
		Msg("Case battle completed")
	return nil
}

func (m *Manager) human(ctx context.Context, s *Session, userID string, pos int, seed string) Player {
	u := model.UnknownUser(userID)
	if m.deps.Profiles != nil {
		u = m.deps.Profiles.Lookup(ctx, []string{userID})[userID]
	}
	return Player{
		UserID:      userID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Position:    pos,
		Team:        pos / s.TeamSize,
		ClientSeed:  game.ClientSeed(seed),
		Total:       decimal.Zero,
	}
}

func bot(s *Session, pos int) Player {
	return Player{
		UserID:      botPrefix + uuid.NewString()[:8],
		DisplayName: petname.Generate(botWords, botSep),
		IsBot:       true,
		Position:    pos,
		Team:        pos / s.TeamSize,
		ClientSeed:  fair.NewClientSeed(),
		Total:       decimal.Zero,
	}
}

func (m *Manager) terminalTTL() time.Duration {
	if m.cfg.TerminalGrace <= 0 {
		return m.cfg.SessionTTL
	}
	return 2 * m.cfg.TerminalGrace
}

var _ game.Manager = (*Manager)(nil)
