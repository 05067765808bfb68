package jackpot

import (
	"errors"
	"math/big"
	"sort"

	"wager-engine/internal/fair"
)

// ErrEmptyPool is returned when no stake carries any value.
var ErrEmptyPool = errors.New("jackpot pool has no value")

// Stake is one member's contribution in cents.
type Stake struct {
	UserID string
	Cents  int64
}

// Range is a contiguous, inclusive slice of the ticket space.
type Range struct {
	UserID string `json:"user_id"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
}

// Count returns the number of tickets in the range.
func (r Range) Count() int64 {
	return r.To - r.From + 1
}

// Allocate partitions the ticket space among stakes in proportion to their
// value. Each stake first gets the floor of its exact share; leftover
// tickets go one each to the largest remainders, ties broken by user id.
// Ranges are laid out in user id order. Stakes rounding to zero tickets get
// no range.
func Allocate(stakes []Stake) ([]Range, error) {
	sorted := make([]Stake, 0, len(stakes))
	total := new(big.Int)
	for _, s := range stakes {
		if s.Cents <= 0 {
			continue
		}
		sorted = append(sorted, s)
		total.Add(total, big.NewInt(s.Cents))
	}
	if total.Sign() == 0 {
		return nil, ErrEmptyPool
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	space := big.NewInt(fair.TicketSpace)
	counts := make([]int64, len(sorted))
	rems := make([]*big.Int, len(sorted))
	var assigned int64
	for i, s := range sorted {
		q, r := new(big.Int).QuoRem(new(big.Int).Mul(big.NewInt(s.Cents), space), total, new(big.Int))
		counts[i] = q.Int64()
		rems[i] = r
		assigned += counts[i]
	}

	order := make([]int, len(sorted))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if c := rems[order[a]].Cmp(rems[order[b]]); c != 0 {
			return c > 0
		}
		return sorted[order[a]].UserID < sorted[order[b]].UserID
	})
	for i := int64(0); i < fair.TicketSpace-assigned; i++ {
		counts[order[i]]++
	}

	ranges := make([]Range, 0, len(sorted))
	var next int64
	for i, s := range sorted {
		if counts[i] == 0 {
			continue
		}
		ranges = append(ranges, Range{UserID: s.UserID, From: next, To: next + counts[i] - 1})
		next += counts[i]
	}
	return ranges, nil
}

// Owner returns the user whose range contains ticket, or "".
func Owner(ranges []Range, ticket int64) string {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].To >= ticket })
	if i < len(ranges) && ranges[i].From <= ticket {
		return ranges[i].UserID
	}
	return ""
}
