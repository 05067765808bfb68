// Package fair derives provably-fair outcomes from a committed server seed,
// client-supplied seeds and a nonce. Every derivation is a SHA-256 digest of
// the concatenated inputs reduced modulo the outcome space, so anyone holding
// the revealed seeds can recompute the result.
package fair

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"wager-engine/internal/pkg/errs"
)

// TicketSpace is the size of the ticket space used by jackpot draws and case rolls.
const TicketSpace int64 = 100_000

// Errors for outcome derivation.
var (
	ErrNoWeight     = fmt.Errorf("%w: total weight must be positive", errs.ErrValidation)
	ErrInvalidTable = fmt.Errorf("%w: item table tickets must sum to the ticket space", errs.ErrValidation)
	ErrNoSeeds      = errors.New("at least one client seed is required")
)

// NewServerSeed returns a fresh 32-byte hex seed from crypto/rand.
func NewServerSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate server seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewClientSeed returns a short random seed used when a participant supplies none.
func NewClientSeed() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// HashSeed returns the public commitment of a server seed.
func HashSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// Digest returns the hex SHA-256 of the concatenated parts.
func Digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Reduce interprets a hex digest as a big-endian unsigned integer and returns
// it modulo m.
func Reduce(digest string, m int64) int64 {
	n, ok := new(big.Int).SetString(digest, 16)
	if !ok || m <= 0 {
		return 0
	}
	return n.Mod(n, big.NewInt(m)).Int64()
}

// CoinResult is a weighted binary outcome.
type CoinResult struct {
	Digest    string `json:"digest"`
	Roll      int64  `json:"roll"`
	Total     int64  `json:"total"`
	FirstWins bool   `json:"first_wins"`
}

// Coin draws a binary outcome where the first side wins with probability
// first/(first+second). Seeds are concatenated as server, clients..., nonce.
func Coin(serverSeed string, clientSeeds []string, nonce int64, first, second int64) (CoinResult, error) {
	total := first + second
	if first < 0 || second < 0 || total <= 0 {
		return CoinResult{}, ErrNoWeight
	}
	parts := make([]string, 0, len(clientSeeds)+2)
	parts = append(parts, serverSeed)
	parts = append(parts, clientSeeds...)
	parts = append(parts, strconv.FormatInt(nonce, 10))

	d := Digest(parts...)
	roll := Reduce(d, total)
	return CoinResult{Digest: d, Roll: roll, Total: total, FirstWins: roll < first}, nil
}

// Draw is a ticket drawn from the ticket space.
type Draw struct {
	Digest string `json:"digest"`
	Ticket int64  `json:"ticket"`
}

// Ticket draws a jackpot ticket from the joined client seeds and the server seed.
// Callers must pass client seeds in a deterministic order.
func Ticket(serverSeed string, clientSeeds []string) (Draw, error) {
	if len(clientSeeds) == 0 {
		return Draw{}, ErrNoSeeds
	}
	d := Digest(strings.Join(clientSeeds, ""), serverSeed)
	return Draw{Digest: d, Ticket: Reduce(d, TicketSpace)}, nil
}

// Roll draws a case-opening ticket for one participant in one round.
func Roll(serverSeed, clientSeed string, nonce int64) Draw {
	d := Digest(clientSeed, ":", serverSeed, ":", strconv.FormatInt(nonce, 10))
	return Draw{Digest: d, Ticket: Reduce(d, TicketSpace)}
}

// Pick locates the entry whose cumulative ticket range contains ticket.
// The weights must sum exactly to TicketSpace.
func Pick(weights []int64, ticket int64) (int, error) {
	var sum int64
	for _, w := range weights {
		if w < 0 {
			return -1, ErrInvalidTable
		}
		sum += w
	}
	if sum != TicketSpace {
		return -1, ErrInvalidTable
	}
	if ticket < 0 || ticket >= TicketSpace {
		return -1, fmt.Errorf("%w: ticket %d outside ticket space", errs.ErrValidation, ticket)
	}

	var upper int64
	for i, w := range weights {
		upper += w
		if ticket < upper {
			return i, nil
		}
	}
	return -1, ErrInvalidTable
}

// VerifyCoin recomputes a coin outcome from revealed seeds and compares it.
func VerifyCoin(serverSeed string, clientSeeds []string, nonce, first, second int64, want CoinResult) bool {
	got, err := Coin(serverSeed, clientSeeds, nonce, first, second)
	return err == nil && got == want
}

// VerifyTicket recomputes a jackpot draw from revealed seeds and compares it.
func VerifyTicket(serverSeed string, clientSeeds []string, want Draw) bool {
	got, err := Ticket(serverSeed, clientSeeds)
	return err == nil && got == want
}
