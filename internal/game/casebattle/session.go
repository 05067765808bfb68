package casebattle

import (
	"time"

	"github.com/shopspring/decimal"

	"wager-engine/internal/game"
	"wager-engine/internal/model"
)

// Status is the state of a case battle.
type Status string

// Case battle states. Completed and canceled are terminal.
const (
	StatusWaiting    Status = "waiting_for_players"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the battle can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Pull is one item drawn by a player in one round.
type Pull struct {
	Round  int             `json:"round"`
	CaseID string          `json:"case_id"`
	Item   string          `json:"item"`
	Price  decimal.Decimal `json:"price"`
	Ticket int64           `json:"ticket"`
	Digest string          `json:"digest"`
}

// Player occupies one seat.
type Player struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	AvatarURL   string          `json:"avatar_url"`
	IsBot       bool            `json:"is_bot"`
	Position    int             `json:"position"`
	Team        int             `json:"team"`
	ClientSeed  string          `json:"client_seed"`
	Pulls       []Pull          `json:"pulls"`
	Total       decimal.Decimal `json:"total"`
}

// Payout is one player's share of the pool.
type Payout struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Session is the stored case battle document.
type Session struct {
	game.Base
	Status    Status   `json:"status"`
	CreatorID string   `json:"creator_id"`
	Strategy  Strategy `json:"strategy"`
	// Crazy makes the lowest value win wherever values are compared.
	Crazy     bool         `json:"crazy"`
	TeamCount int          `json:"team_count"`
	TeamSize  int          `json:"team_size"`
	Cases     []model.Case `json:"cases"`
	// Cost is the entry price per seat: the sum of the case prices.
	Cost    decimal.Decimal `json:"cost"`
	Players []Player        `json:"players"`
	// CurrentRound is the number of rounds already drawn.
	CurrentRound int `json:"current_round"`

	Winners []string `json:"winners,omitempty"`
	Payouts []Payout `json:"payouts,omitempty"`
	Digest  string   `json:"digest,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Seats returns the number of seats.
func (s *Session) Seats() int {
	return s.TeamCount * s.TeamSize
}

// Full reports whether every seat is taken.
func (s *Session) Full() bool {
	return len(s.Players) >= s.Seats()
}

// Public returns a copy safe to show to participants. Pulls are public as
// they resolve; the server seed is not.
func (s *Session) Public() *Session {
	cp := *s
	cp.Redact(s.Status.Terminal())
	return &cp
}

// Stale reports whether an in-progress battle has not advanced for longer
// than after, meaning its runner is probably gone.
func (s *Session) Stale(now time.Time, after time.Duration) bool {
	return s.Status == StatusInProgress && now.Sub(s.UpdatedAt) >= after
}

// Pool returns the summed value of every pull so far.
func (s *Session) Pool() decimal.Decimal {
	pool := decimal.Zero
	for _, p := range s.Players {
		pool = pool.Add(p.Total)
	}
	return pool
}

func (s *Session) player(userID string) *Player {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *Session) seated(pos int) bool {
	for _, p := range s.Players {
		if p.Position == pos {
			return true
		}
	}
	return false
}

// freeSeat returns the lowest free position, or -1.
func (s *Session) freeSeat() int {
	for pos := 0; pos < s.Seats(); pos++ {
		if !s.seated(pos) {
			return pos
		}
	}
	return -1
}

// humans returns the ids of non-bot players. Only they hold back-references.
func (s *Session) humans() []string {
	var ids []string
	for _, p := range s.Players {
		if !p.IsBot {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// ParticipantIDs returns the players whose back-references track the session.
func (s *Session) ParticipantIDs() []string {
	return s.humans()
}

func (s *Session) caseIDs() []string {
	ids := make([]string, len(s.Cases))
	for i, c := range s.Cases {
		ids[i] = c.ID
	}
	return ids
}

func (s *Session) summary() map[string]any {
	players := make([]map[string]any, len(s.Players))
	for i, p := range s.Players {
		players[i] = map[string]any{
			"user_id":  p.UserID,
			"position": p.Position,
			"team":     p.Team,
			"bot":      p.IsBot,
			"total":    p.Total.String(),
		}
	}
	out := map[string]any{
		"status":           string(s.Status),
		"creator":          s.CreatorID,
		"strategy":         string(s.Strategy),
		"crazy":            s.Crazy,
		"cases":            s.caseIDs(),
		"cost":             s.Cost.String(),
		"players":          players,
		"round":            s.CurrentRound,
		"server_seed_hash": s.ServerSeedHash,
	}
	if len(s.Winners) > 0 {
		out["winners"] = s.Winners
		out["pool"] = s.Pool().String()
	}
	if s.Reason != "" {
		out["reason"] = s.Reason
	}
	return out
}
