package jackpot

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"wager-engine/internal/game"
	"wager-engine/internal/model"
)

// Status is the state of a jackpot session.
type Status string

// Jackpot states. Starting is held while the stakes move into escrow;
// complete, canceled and failed are terminal.
const (
	StatusWaiting   Status = "waiting_for_start"
	StatusStarting  Status = "starting"
	StatusCountdown Status = "countdown"
	StatusComplete  Status = "complete"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the session can no longer change.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCanceled || s == StatusFailed
}

// Member is one contributor to the pot.
type Member struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	AvatarURL   string          `json:"avatar_url"`
	Items       []model.Item    `json:"items"`
	Value       decimal.Decimal `json:"value"`
	ClientSeed  string          `json:"client_seed"`
	JoinedAt    time.Time       `json:"joined_at"`
}

// AssetIDs returns the contributed asset ids.
func (m *Member) AssetIDs() []string {
	return model.AssetIDs(m.Items)
}

// Result is the drawn outcome.
type Result struct {
	WinnerID string          `json:"winner_id"`
	Ticket   int64           `json:"ticket"`
	Digest   string          `json:"digest"`
	Pot      decimal.Decimal `json:"pot"`
	Ranges   []Range         `json:"ranges"`
}

// Session is the stored jackpot document.
type Session struct {
	game.Base
	Status    Status `json:"status"`
	CreatorID string `json:"creator_id"`
	// House sessions are opened by the scheduler under the house id; the
	// house holds the creator back-reference until the countdown starts.
	House           bool       `json:"house"`
	MaxPlayers      int        `json:"max_players"`
	Members         []Member   `json:"members"`
	AutoStartAt     *time.Time `json:"auto_start_at,omitempty"`
	CountdownEndsAt *time.Time `json:"countdown_ends_at,omitempty"`

	HoldTransferID   string  `json:"hold_transfer_id,omitempty"`
	PayoutTransferID string  `json:"payout_transfer_id,omitempty"`
	Result           *Result `json:"result,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

// Public returns a copy safe to show to participants.
func (s *Session) Public() *Session {
	cp := *s
	cp.Redact(s.Status.Terminal())
	if !s.Status.Terminal() {
		cp.Result = nil
	}
	return &cp
}

// Pot returns the summed value of every member.
func (s *Session) Pot() decimal.Decimal {
	pot := decimal.Zero
	for _, m := range s.Members {
		pot = pot.Add(m.Value)
	}
	return pot
}

func (s *Session) member(userID string) *Member {
	for i := range s.Members {
		if s.Members[i].UserID == userID {
			return &s.Members[i]
		}
	}
	return nil
}

// staked reports whether any member already contributed assetID.
func (s *Session) staked(assetID string) bool {
	for _, m := range s.Members {
		for _, it := range m.Items {
			if it.AssetID == assetID {
				return true
			}
		}
	}
	return false
}

// ParticipantIDs returns every id that may hold a back-reference.
func (s *Session) ParticipantIDs() []string {
	ids := make([]string, 0, len(s.Members)+1)
	ids = append(ids, s.CreatorID)
	for _, m := range s.Members {
		if m.UserID != s.CreatorID {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// stakes returns each member's value in cents.
func (s *Session) stakes() []Stake {
	out := make([]Stake, len(s.Members))
	for i, m := range s.Members {
		out[i] = Stake{UserID: m.UserID, Cents: model.Cents(m.Value)}
	}
	return out
}

// clientSeeds returns the members' seeds ordered by user id.
func (s *Session) clientSeeds() []string {
	members := append([]Member(nil), s.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	seeds := make([]string, len(members))
	for i, m := range members {
		seeds[i] = m.ClientSeed
	}
	return seeds
}

// assets returns every contributed asset id in member order.
func (s *Session) assets() []string {
	var ids []string
	for _, m := range s.Members {
		ids = append(ids, m.AssetIDs()...)
	}
	return ids
}

func (s *Session) summary() map[string]any {
	members := make([]map[string]any, len(s.Members))
	for i, m := range s.Members {
		members[i] = map[string]any{
			"user_id": m.UserID,
			"value":   m.Value.String(),
			"items":   m.AssetIDs(),
		}
	}
	out := map[string]any{
		"status":           string(s.Status),
		"creator":          s.CreatorID,
		"house":            s.House,
		"members":          members,
		"pot":              s.Pot().String(),
		"server_seed_hash": s.ServerSeedHash,
	}
	if s.Result != nil {
		out["winner"] = s.Result.WinnerID
		out["ticket"] = s.Result.Ticket
	}
	if s.Reason != "" {
		out["reason"] = s.Reason
	}
	return out
}
