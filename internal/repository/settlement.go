package repository

import (
	"context"
	"fmt"

	"wager-engine/internal/model"
)

// SettlementRepository handles the pending external settlement queue.
type SettlementRepository struct {
	db DBTX
}

// NewSettlementRepository creates a new SettlementRepository instance.
func NewSettlementRepository(db DBTX) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// CreatePending queues a payout. A payout for the same (source, session, user)
// is recorded once; repeated calls report created=false.
func (r *SettlementRepository) CreatePending(ctx context.Context, s *model.Settlement) (bool, error) {
	const query = `
		INSERT INTO pending_settlements (source, session_id, user_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		ON CONFLICT (source, session_id, user_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query, string(s.Source), s.SessionID, s.UserID, s.Amount.String())
	if err != nil {
		return false, fmt.Errorf("failed to create settlement: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetBySession returns the settlements queued for a session.
func (r *SettlementRepository) GetBySession(ctx context.Context, source model.Mode, sessionID string) ([]*model.Settlement, error) {
	const query = `
		SELECT id, source, session_id, user_id, amount::text, status, created_at
		FROM pending_settlements
		WHERE source = $1 AND session_id = $2
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, string(source), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlements: %w", err)
	}
	defer rows.Close()

	var out []*model.Settlement
	for rows.Next() {
		var (
			s              model.Settlement
			source, amount string
		)
		if err := rows.Scan(&s.ID, &source, &s.SessionID, &s.UserID, &amount, &s.Status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		s.Source = model.Mode(source)
		if s.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}
	return out, nil
}
