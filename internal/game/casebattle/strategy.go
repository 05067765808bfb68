package casebattle

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"wager-engine/internal/fair"
	"wager-engine/internal/model"
)

// Strategy selects how the pool is divided after the last round.
type Strategy string

// Settlement strategies.
const (
	// StrategyTotal gives the pool to the team with the highest summed value.
	StrategyTotal Strategy = "total"
	// StrategyRandom gives the pool to a team drawn from the seeds.
	StrategyRandom Strategy = "random"
	// StrategyShowdown compares each team's best last-round pull.
	StrategyShowdown Strategy = "showdown"
	// StrategyShare splits the pool equally across every player.
	StrategyShare Strategy = "share"
)

// Valid reports whether st is a known strategy.
func (st Strategy) Valid() bool {
	switch st {
	case StrategyTotal, StrategyRandom, StrategyShowdown, StrategyShare:
		return true
	}
	return false
}

// Outcome is the settled result of a battle.
type Outcome struct {
	Winners []string
	Payouts []Payout
	// Digest is the fair digest behind a random pick or a tie-break.
	Digest string
}

var errNoPlayers = errors.New("battle has no players")

// Settle divides the pool according to the session's strategy. It reads
// only the session document.
func Settle(s *Session) (Outcome, error) {
	if len(s.Players) == 0 {
		return Outcome{}, errNoPlayers
	}
	players := append([]Player(nil), s.Players...)
	sort.Slice(players, func(i, j int) bool { return players[i].Position < players[j].Position })

	var (
		team   int
		digest string
	)
	switch s.Strategy {
	case StrategyShare:
		return Outcome{Winners: ids(players), Payouts: split(s.Pool(), players)}, nil
	case StrategyRandom:
		digest = fair.Digest(s.ServerSeed, ":team:", joinSeeds(players))
		team = int(fair.Reduce(digest, int64(s.TeamCount)))
	case StrategyTotal:
		team, digest = pickTeam(s, teamValues(s, players, func(p Player) decimal.Decimal { return p.Total }, sumOf))
	case StrategyShowdown:
		team, digest = pickTeam(s, teamValues(s, players, lastPull, bestOf(s.Crazy)))
	default:
		return Outcome{}, errors.New("unknown strategy " + string(s.Strategy))
	}

	var winners []Player
	for _, p := range players {
		if p.Team == team {
			winners = append(winners, p)
		}
	}
	return Outcome{Winners: ids(winners), Payouts: split(s.Pool(), winners), Digest: digest}, nil
}

// teamValues folds each team's players into one value.
func teamValues(s *Session, players []Player, value func(Player) decimal.Decimal, fold func(a, b decimal.Decimal) decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, s.TeamCount)
	seen := make([]bool, s.TeamCount)
	for _, p := range players {
		v := value(p)
		if !seen[p.Team] {
			out[p.Team], seen[p.Team] = v, true
			continue
		}
		out[p.Team] = fold(out[p.Team], v)
	}
	return out
}

// pickTeam returns the team with the highest value, or the lowest when the
// battle is crazy. Ties are broken by a fair draw over the tied teams.
func pickTeam(s *Session, values []decimal.Decimal) (int, string) {
	var tied []int
	for t, v := range values {
		if len(tied) == 0 {
			tied = []int{t}
			continue
		}
		c := v.Cmp(values[tied[0]])
		if s.Crazy {
			c = -c
		}
		switch {
		case c > 0:
			tied = []int{t}
		case c == 0:
			tied = append(tied, t)
		}
	}
	if len(tied) == 1 {
		return tied[0], ""
	}
	d := fair.Digest(s.ServerSeed, ":tie:", strconv.Itoa(len(s.Cases)))
	return tied[fair.Reduce(d, int64(len(tied)))], d
}

// split divides pool equally, rounded down to cents. The remainder goes to
// the first winner by position.
func split(pool decimal.Decimal, winners []Player) []Payout {
	if len(winners) == 0 {
		return nil
	}
	n := decimal.NewFromInt(int64(len(winners)))
	share := pool.Div(n).RoundDown(2)
	rest := pool.Sub(share.Mul(n))

	out := make([]Payout, len(winners))
	for i, p := range winners {
		out[i] = Payout{UserID: p.UserID, Amount: share}
	}
	out[0].Amount = out[0].Amount.Add(rest)
	return out
}

func sumOf(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b)
}

// bestOf keeps the higher value, or the lower when crazy.
func bestOf(crazy bool) func(a, b decimal.Decimal) decimal.Decimal {
	return func(a, b decimal.Decimal) decimal.Decimal {
		if crazy {
			return decimal.Min(a, b)
		}
		return decimal.Max(a, b)
	}
}

func lastPull(p Player) decimal.Decimal {
	if len(p.Pulls) == 0 {
		return decimal.Zero
	}
	return p.Pulls[len(p.Pulls)-1].Price
}

func ids(players []Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.UserID
	}
	return out
}

func joinSeeds(players []Player) string {
	seeds := make([]string, len(players))
	for i, p := range players {
		seeds[i] = p.ClientSeed
	}
	return strings.Join(seeds, "")
}

// DrawRound draws one item per player from the round's case. Each draw is
// seeded by the player's client seed, the server seed and the round index.
func DrawRound(s *Session, round int) ([]Pull, error) {
	c := s.Cases[round]
	weights := make([]int64, len(c.Items))
	for i, it := range c.Items {
		weights[i] = it.Tickets
	}

	pulls := make([]Pull, len(s.Players))
	for i, p := range s.Players {
		d := fair.Roll(s.ServerSeed, p.ClientSeed, int64(round))
		idx, err := fair.Pick(weights, d.Ticket)
		if err != nil {
			return nil, err
		}
		it := c.Items[idx]
		pulls[i] = Pull{Round: round, CaseID: c.ID, Item: it.Name, Price: it.Price, Ticket: d.Ticket, Digest: d.Digest}
	}
	return pulls, nil
}

// ValidateCase checks that a case's item table covers the ticket space.
func ValidateCase(c *model.Case) error {
	weights := make([]int64, len(c.Items))
	for i, it := range c.Items {
		weights[i] = it.Tickets
	}
	_, err := fair.Pick(weights, 0)
	return err
}
