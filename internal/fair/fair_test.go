package fair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Literal vectors let independent verifiers in other languages check the derivation.
func TestCoin_FixedVector(t *testing.T) {
	for i := 0; i < 3; i++ {
		res, err := Coin("s1", []string{"c1"}, 0, 100, 200)
		require.NoError(t, err)
		assert.Equal(t, "cc3a534d5b6b7386de171344717e7f204f96b565536dff0ca7998495b3027889", res.Digest)
		assert.Equal(t, int64(293), res.Roll)
		assert.Equal(t, int64(300), res.Total)
		assert.False(t, res.FirstWins)
	}
}

func TestTicket_FixedVector(t *testing.T) {
	draw, err := Ticket("s1", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, "4acd0d5b1e364cddae4c15f26e47e845dee42d1caa00baffdf5cbfdbcdb6f65d", draw.Digest)
	assert.Equal(t, int64(99389), draw.Ticket)

	draw, err = Ticket("s1", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, int64(31068), draw.Ticket)

	_, err = Ticket("s1", nil)
	assert.ErrorIs(t, err, ErrNoSeeds)
}

func TestRoll_FixedVector(t *testing.T) {
	draw := Roll("s1", "c1", 0)
	assert.Equal(t, "b9d6da0d5a891b37b37e5a39c5aa1c3da7026df59f7a8b60efa4a43ef52cbbbb", draw.Digest)
	assert.Equal(t, int64(29403), draw.Ticket)
}

func TestHashSeed(t *testing.T) {
	assert.Equal(t, "e8bc163c82eee18733288c7d4ac636db3a6deb013ef2d37b68322be20edc45cc", HashSeed("s1"))
}

func TestCoin_InvalidWeights(t *testing.T) {
	_, err := Coin("s1", []string{"c1"}, 0, 0, 0)
	assert.ErrorIs(t, err, ErrNoWeight)
	_, err = Coin("s1", []string{"c1"}, 0, -1, 5)
	assert.ErrorIs(t, err, ErrNoWeight)
}

func TestPick(t *testing.T) {
	weights := []int64{50_000, 30_000, 19_999, 1}

	tests := []struct {
		ticket int64
		want   int
	}{
		{0, 0},
		{49_999, 0},
		{50_000, 1},
		{79_999, 1},
		{80_000, 2},
		{99_998, 2},
		{99_999, 3},
	}
	for _, tt := range tests {
		got, err := Pick(weights, tt.ticket)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "ticket %d", tt.ticket)
	}

	_, err := Pick([]int64{10, 20}, 5)
	assert.ErrorIs(t, err, ErrInvalidTable)
	_, err = Pick(weights, TicketSpace)
	assert.Error(t, err)
}

func TestNewServerSeed(t *testing.T) {
	a, err := NewServerSeed()
	require.NoError(t, err)
	b, err := NewServerSeed()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

// TestDeterminismProperty checks that identical inputs always yield identical outcomes.
func TestDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		server := rapid.StringMatching(`[a-f0-9]{1,64}`).Draw(t, "server")
		clients := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{1,16}`), 1, 5).Draw(t, "clients")
		nonce := rapid.Int64Range(0, 1000).Draw(t, "nonce")
		first := rapid.Int64Range(1, 1_000_000).Draw(t, "first")
		second := rapid.Int64Range(1, 1_000_000).Draw(t, "second")

		c1, err := Coin(server, clients, nonce, first, second)
		if err != nil {
			t.Fatal(err)
		}
		c2, _ := Coin(server, clients, nonce, first, second)
		if c1 != c2 {
			t.Fatalf("coin not deterministic: %+v vs %+v", c1, c2)
		}
		if c1.Roll < 0 || c1.Roll >= first+second {
			t.Fatalf("roll %d outside [0,%d)", c1.Roll, first+second)
		}
		if !VerifyCoin(server, clients, nonce, first, second, c1) {
			t.Fatal("coin did not verify")
		}

		d1, _ := Ticket(server, clients)
		if !VerifyTicket(server, clients, d1) {
			t.Fatal("ticket did not verify")
		}
		if d1.Ticket < 0 || d1.Ticket >= TicketSpace {
			t.Fatalf("ticket %d outside space", d1.Ticket)
		}

		r1 := Roll(server, clients[0], nonce)
		r2 := Roll(server, clients[0], nonce)
		if r1 != r2 {
			t.Fatal("roll not deterministic")
		}
	})
}
