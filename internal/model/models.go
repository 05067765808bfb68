// Package model defines the data models shared by the wagering engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode identifies a game mode. It is also the key prefix for that mode's
// documents in the shared volatile store.
type Mode string

// Game modes.
const (
	ModeCoinflip   Mode = "coinflip"
	ModeJackpot    Mode = "jackpot"
	ModeCaseBattle Mode = "casebattle"
)

// User is an entry in the user directory.
type User struct {
	ID          string    `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	AvatarURL   string    `db:"avatar_url" json:"avatar_url"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
}

// UnknownUser returns the placeholder used when the directory has no entry.
func UnknownUser(id string) User {
	return User{ID: id, DisplayName: "unknown", AvatarURL: ""}
}

// Item is one ownership row. Owner rows are the source of truth for who holds what.
type Item struct {
	AssetID   string          `db:"asset_id" json:"asset_id"`
	OwnerID   string          `db:"owner_id" json:"owner_id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	UpdatedAt time.Time       `db:"updated_at" json:"-"`
}

// TotalValue sums the prices of items.
func TotalValue(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return total
}

// AssetIDs returns the asset ids of items in order.
func AssetIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.AssetID
	}
	return ids
}

// Cents converts a monetary value to integer cents, truncating sub-cent digits.
func Cents(v decimal.Decimal) int64 {
	return v.Shift(2).IntPart()
}

// TransferStatus is the state of an escrow transfer.
type TransferStatus string

// Transfer statuses. Confirmed and canceled are terminal.
const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferCanceled  TransferStatus = "canceled"
)

// Terminal reports whether the status can no longer change.
func (s TransferStatus) Terminal() bool {
	return s == TransferConfirmed || s == TransferCanceled
}

// TransferEntry is one (owner, item) pair frozen when the transfer is created.
type TransferEntry struct {
	OwnerID string `json:"owner_id"`
	AssetID string `json:"asset_id"`
}

// Transfer is the audit record of an escrow transfer.
type Transfer struct {
	ID        string          `json:"id"`
	Status    TransferStatus  `json:"status"`
	TargetID  *string         `json:"target_id,omitempty"`
	Swap      bool            `json:"swap"`
	Reason    string          `json:"reason,omitempty"`
	Entries   []TransferEntry `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Owners returns the distinct owners of the transfer in first-seen order.
func (t *Transfer) Owners() []string {
	seen := make(map[string]bool)
	var owners []string
	for _, e := range t.Entries {
		if !seen[e.OwnerID] {
			seen[e.OwnerID] = true
			owners = append(owners, e.OwnerID)
		}
	}
	return owners
}

// Settlement statuses.
const (
	SettlementPending = "pending"
)

// Settlement is a pending external payout record.
type Settlement struct {
	ID        int64           `json:"id"`
	Source    Mode            `json:"source"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Round is an audit-log entry for a resolved round.
type Round struct {
	ID         int64          `json:"id"`
	Mode       Mode           `json:"mode"`
	SessionID  string         `json:"session_id"`
	ServerSeed string         `json:"server_seed"`
	Digest     string         `json:"digest"`
	Outcome    map[string]any `json:"outcome"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EventKind is a round lifecycle event.
type EventKind string

// Event kinds recorded by the audit sink.
const (
	EventCreated   EventKind = "created"
	EventJoined    EventKind = "joined"
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventCanceled  EventKind = "canceled"
	EventFailed    EventKind = "failed"
)

// Event is a best-effort lifecycle record with valuation context.
type Event struct {
	Mode      Mode           `json:"mode"`
	SessionID string         `json:"session_id"`
	Kind      EventKind      `json:"kind"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// CaseItem is one entry in a case's weighted item table. Tickets out of
// 100,000 define the probability of drawing it.
type CaseItem struct {
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Tickets int64           `json:"tickets"`
}

// Case is a catalog case opened during case battles.
type Case struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Items []CaseItem      `json:"items"`
}
