package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
)

// Common errors for user lookups.
var (
	ErrUserNotFound = fmt.Errorf("%w: user", errs.ErrNotFound)
)

// UserRepository handles the user directory table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert creates a user or refreshes its display fields.
func (r *UserRepository) Upsert(ctx context.Context, u model.User) error {
	const query = `
		INSERT INTO users (id, display_name, avatar_url, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id)
		DO UPDATE SET display_name = $2, avatar_url = $3
	`
	if _, err := r.db.Exec(ctx, query, u.ID, u.DisplayName, u.AvatarURL); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by id.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	const query = `
		SELECT id, display_name, avatar_url, created_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetByIDs retrieves a batch of users. Unknown ids are absent from the result.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	const query = `
		SELECT id, display_name, avatar_url, created_at
		FROM users
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var user model.User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.AvatarURL, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}
