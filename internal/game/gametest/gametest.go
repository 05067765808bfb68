// Package gametest wires managers to in-memory collaborators for tests.
package gametest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wager-engine/internal/escrow/escrowtest"
	"wager-engine/internal/game"
	"wager-engine/internal/model"
	"wager-engine/internal/pkg/lock"
	"wager-engine/internal/session"
)

// Inventory reads ownership from an escrow fake and prices from a map.
type Inventory struct {
	Escrow *escrowtest.Fake

	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

// Give deposits an item worth price to owner.
func (inv *Inventory) Give(owner, assetID, price string) {
	inv.mu.Lock()
	if inv.prices == nil {
		inv.prices = make(map[string]decimal.Decimal)
	}
	inv.prices[assetID] = decimal.RequireFromString(price)
	inv.mu.Unlock()
	inv.Escrow.Give(owner, assetID)
}

// OwnedBy implements game.Inventory.
func (inv *Inventory) OwnedBy(_ context.Context, ownerID string, assetIDs []string) ([]model.Item, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var out []model.Item
	for _, id := range assetIDs {
		if inv.Escrow.Owner(id) == ownerID {
			out = append(out, model.Item{AssetID: id, OwnerID: ownerID, Name: id, Price: inv.prices[id]})
		}
	}
	return out, nil
}

// Rounds records rounds in memory.
type Rounds struct {
	mu     sync.Mutex
	rounds []model.Round
	Err    error
}

// Create implements game.RoundLog. Like the database, it keeps one round per
// session.
func (r *Rounds) Create(_ context.Context, round *model.Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, existing := range r.rounds {
		if existing.Mode == round.Mode && existing.SessionID == round.SessionID {
			round.ID = existing.ID
			return nil
		}
	}
	round.ID = int64(len(r.rounds) + 1)
	r.rounds = append(r.rounds, *round)
	return nil
}

// All returns the recorded rounds.
func (r *Rounds) All() []model.Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Round(nil), r.rounds...)
}

// Events records audit events in memory.
type Events struct {
	mu     sync.Mutex
	events []model.Event
}

// Record implements audit.Recorder.
func (e *Events) Record(ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

// Kinds returns the recorded event kinds for a session in order.
func (e *Events) Kinds(sessionID string) []model.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var kinds []model.EventKind
	for _, ev := range e.events {
		if ev.SessionID == sessionID {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Env bundles the fakes behind a game.Deps.
type Env struct {
	Deps      game.Deps
	Escrow    *escrowtest.Fake
	Inventory *Inventory
	Sessions  *session.MemoryBackend
	Rounds    *Rounds
	Events    *Events
	Clock     *Clock
}

// New builds an Env with fresh fakes.
func New() *Env {
	fake := escrowtest.New()
	env := &Env{
		Escrow:    fake,
		Inventory: &Inventory{Escrow: fake},
		Sessions:  session.NewMemoryBackend(),
		Rounds:    &Rounds{},
		Events:    &Events{},
		Clock:     NewClock(),
	}
	env.Deps = game.Deps{
		Sessions:    env.Sessions,
		Locker:      lock.NewLocal(),
		Transfers:   fake,
		Inventory:   env.Inventory,
		Rounds:      env.Rounds,
		Audit:       env.Events,
		Server:      "test-worker",
		LockTTL:     time.Minute,
		CASAttempts: 3,
		Now:         env.Clock.Now,
	}
	return env
}
