package coinflip

import (
	"time"

	"github.com/shopspring/decimal"

	"wager-engine/internal/game"
	"wager-engine/internal/model"
)

// Status is the state of a coinflip session.
type Status string

// Coinflip states. Completed, failed and canceled are terminal.
const (
	StatusWaiting   Status = "waiting_for_player"
	StatusAwaiting  Status = "awaiting_confirmation"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the session can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Coin is a side of the coin.
type Coin string

// Coin sides.
const (
	CoinCT Coin = "ct"
	CoinT  Coin = "t"
)

// Valid reports whether c is a known side.
func (c Coin) Valid() bool {
	return c == CoinCT || c == CoinT
}

// Opposite returns the other side.
func (c Coin) Opposite() Coin {
	if c == CoinCT {
		return CoinT
	}
	return CoinCT
}

// Side is one participant and their stake.
type Side struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	AvatarURL   string          `json:"avatar_url"`
	Coin        Coin            `json:"coin"`
	Items       []model.Item    `json:"items"`
	Value       decimal.Decimal `json:"value"`
	ClientSeed  string          `json:"client_seed"`
}

// AssetIDs returns the staked asset ids.
func (s *Side) AssetIDs() []string {
	return model.AssetIDs(s.Items)
}

// Result is the resolved outcome.
type Result struct {
	WinnerID    string          `json:"winner_id"`
	WinningCoin Coin            `json:"winning_coin"`
	Digest      string          `json:"digest"`
	Roll        int64           `json:"roll"`
	Total       int64           `json:"total"`
	Pot         decimal.Decimal `json:"pot"`
}

// Session is the stored coinflip document.
type Session struct {
	game.Base
	Status     Status     `json:"status"`
	Creator    Side       `json:"creator"`
	Joiner     *Side      `json:"joiner,omitempty"`
	StartAfter *time.Time `json:"start_after,omitempty"`
	TransferID string     `json:"transfer_id,omitempty"`
	Nonce      int64      `json:"nonce"`
	Result     *Result    `json:"result,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Public returns a copy safe to show to participants.
func (s *Session) Public() *Session {
	cp := *s
	cp.Redact(s.Status.Terminal())
	return &cp
}

// ParticipantIDs returns the ids holding a back-reference to the session.
func (s *Session) ParticipantIDs() []string {
	ids := []string{s.Creator.UserID}
	if s.Joiner != nil {
		ids = append(ids, s.Joiner.UserID)
	}
	return ids
}

func (s *Session) summary() map[string]any {
	out := map[string]any{
		"status":           string(s.Status),
		"creator":          s.Creator.UserID,
		"creator_value":    s.Creator.Value.String(),
		"creator_items":    s.Creator.AssetIDs(),
		"server_seed_hash": s.ServerSeedHash,
	}
	if s.Joiner != nil {
		out["joiner"] = s.Joiner.UserID
		out["joiner_value"] = s.Joiner.Value.String()
		out["joiner_items"] = s.Joiner.AssetIDs()
	}
	if s.Result != nil {
		out["winner"] = s.Result.WinnerID
		out["winning_coin"] = string(s.Result.WinningCoin)
		out["pot"] = s.Result.Pot.String()
	}
	if s.Reason != "" {
		out["reason"] = s.Reason
	}
	return out
}
