package jackpot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"wager-engine/internal/fair"
)

func TestAllocate_Proportional(t *testing.T) {
	ranges, err := Allocate([]Stake{
		{UserID: "c", Cents: 300},
		{UserID: "a", Cents: 100},
		{UserID: "b", Cents: 200},
	})
	require.NoError(t, err)

	assert.Equal(t, []Range{
		{UserID: "a", From: 0, To: 16666},
		{UserID: "b", From: 16667, To: 49999},
		{UserID: "c", From: 50000, To: 99999},
	}, ranges)
	assert.Equal(t, int64(16667), ranges[0].Count())
	assert.Equal(t, int64(33333), ranges[1].Count())
	assert.Equal(t, int64(50000), ranges[2].Count())
}

func TestAllocate_TieBrokenByID(t *testing.T) {
	ranges, err := Allocate([]Stake{{UserID: "z", Cents: 1}, {UserID: "y", Cents: 1}, {UserID: "x", Cents: 1}})
	require.NoError(t, err)
	require.Len(t, ranges, 3)
	assert.Equal(t, int64(33334), ranges[0].Count())
	assert.Equal(t, "x", ranges[0].UserID)
	assert.Equal(t, int64(33333), ranges[1].Count())
	assert.Equal(t, int64(33333), ranges[2].Count())
}

func TestAllocate_Edges(t *testing.T) {
	_, err := Allocate(nil)
	assert.ErrorIs(t, err, ErrEmptyPool)
	_, err = Allocate([]Stake{{UserID: "a", Cents: 0}})
	assert.ErrorIs(t, err, ErrEmptyPool)

	ranges, err := Allocate([]Stake{{UserID: "solo", Cents: 42}, {UserID: "zero", Cents: 0}})
	require.NoError(t, err)
	assert.Equal(t, []Range{{UserID: "solo", From: 0, To: fair.TicketSpace - 1}}, ranges)
}

func TestOwner(t *testing.T) {
	ranges := []Range{{UserID: "a", From: 0, To: 9}, {UserID: "b", From: 10, To: 99999}}
	assert.Equal(t, "a", Owner(ranges, 0))
	assert.Equal(t, "a", Owner(ranges, 9))
	assert.Equal(t, "b", Owner(ranges, 10))
	assert.Equal(t, "b", Owner(ranges, 99999))
	assert.Equal(t, "", Owner(ranges, 100000))
}

// TestAllocatePartitionProperty checks ranges always tile the ticket space
// and each count is within one ticket of the exact share.
func TestAllocatePartitionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(t, "n")
		stakes := make([]Stake, n)
		var total int64
		for i := range stakes {
			c := rapid.Int64Range(1, 10_000_000).Draw(t, "cents")
			stakes[i] = Stake{UserID: string(rune('A'+i%26)) + string(rune('a'+i/26)), Cents: c}
			total += c
		}

		ranges, err := Allocate(stakes)
		if err != nil {
			t.Fatal(err)
		}
		var next int64
		byUser := make(map[string]int64)
		for _, r := range ranges {
			if r.From != next || r.To < r.From {
				t.Fatalf("gap or overlap at %+v, expected start %d", r, next)
			}
			next = r.To + 1
			byUser[r.UserID] = r.Count()
		}
		if next != fair.TicketSpace {
			t.Fatalf("ranges end at %d", next)
		}
		for _, s := range stakes {
			exact := float64(s.Cents) * float64(fair.TicketSpace) / float64(total)
			if d := float64(byUser[s.UserID]) - exact; d > 1 || d < -1 {
				t.Fatalf("stake %+v got %d tickets, exact share %.3f", s, byUser[s.UserID], exact)
			}
		}
	})
}
