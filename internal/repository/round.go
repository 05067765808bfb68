package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wager-engine/internal/model"
)

// RoundRepository persists the audit log of resolved rounds.
type RoundRepository struct {
	db DBTX
}

// NewRoundRepository creates a new RoundRepository instance.
func NewRoundRepository(db DBTX) *RoundRepository {
	return &RoundRepository{db: db}
}

// Create appends a resolved round to the audit log. A session has one round;
// recording it again leaves the first row in place and loads its id.
func (r *RoundRepository) Create(ctx context.Context, round *model.Round) error {
	outcome, err := json.Marshal(round.Outcome)
	if err != nil {
		return fmt.Errorf("failed to encode round outcome: %w", err)
	}

	const query = `
		INSERT INTO game_rounds (mode, session_id, server_seed, digest, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (mode, session_id) DO NOTHING
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query, string(round.Mode), round.SessionID, round.ServerSeed, round.Digest, outcome).
		Scan(&round.ID, &round.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		const existing = `SELECT id, created_at FROM game_rounds WHERE mode = $1 AND session_id = $2`
		err = r.db.QueryRow(ctx, existing, string(round.Mode), round.SessionID).Scan(&round.ID, &round.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	return nil
}

// GetBySession returns the rounds recorded for a session, oldest first.
func (r *RoundRepository) GetBySession(ctx context.Context, mode model.Mode, sessionID string) ([]*model.Round, error) {
	const query = `
		SELECT id, mode, session_id, server_seed, digest, outcome, created_at
		FROM game_rounds
		WHERE mode = $1 AND session_id = $2
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, string(mode), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*model.Round
	for rows.Next() {
		var (
			round   model.Round
			mode    string
			outcome []byte
		)
		if err := rows.Scan(&round.ID, &mode, &round.SessionID, &round.ServerSeed, &round.Digest, &outcome, &round.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		round.Mode = model.Mode(mode)
		if err := json.Unmarshal(outcome, &round.Outcome); err != nil {
			return nil, fmt.Errorf("failed to decode round outcome: %w", err)
		}
		rounds = append(rounds, &round)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}
