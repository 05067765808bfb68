package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migrations are applied in order; each statement is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{"users table", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"items table", `
		CREATE TABLE IF NOT EXISTS items (
			asset_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			price NUMERIC(14,2) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id);
	`},
	{"transfers tables", `
		CREATE TABLE IF NOT EXISTS transfers (
			id TEXT PRIMARY KEY,
			status VARCHAR(20) NOT NULL,
			target_id TEXT,
			swap BOOLEAN NOT NULL DEFAULT FALSE,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS transfer_items (
			transfer_id TEXT NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
			position INT NOT NULL,
			owner_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			PRIMARY KEY (transfer_id, asset_id)
		);
	`},
	{"game rounds table", `
		CREATE TABLE IF NOT EXISTS game_rounds (
			id BIGSERIAL PRIMARY KEY,
			mode VARCHAR(20) NOT NULL,
			session_id TEXT NOT NULL,
			server_seed TEXT NOT NULL,
			digest TEXT NOT NULL,
			outcome JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"unique game rounds", `
		DROP INDEX IF EXISTS idx_game_rounds_session;
		CREATE UNIQUE INDEX IF NOT EXISTS uq_game_rounds_session ON game_rounds(mode, session_id);
	`},
	{"game events table", `
		CREATE TABLE IF NOT EXISTS game_events (
			id BIGSERIAL PRIMARY KEY,
			mode VARCHAR(20) NOT NULL,
			session_id TEXT NOT NULL,
			kind VARCHAR(20) NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_game_events_session ON game_events(mode, session_id, created_at);
	`},
	{"pending settlements table", `
		CREATE TABLE IF NOT EXISTS pending_settlements (
			id BIGSERIAL PRIMARY KEY,
			source VARCHAR(20) NOT NULL,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			amount NUMERIC(14,2) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source, session_id, user_id)
		);
	`},
	{"case catalog tables", `
		CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price NUMERIC(14,2) NOT NULL
		);
		CREATE TABLE IF NOT EXISTS case_items (
			case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
			position INT NOT NULL,
			name TEXT NOT NULL,
			price NUMERIC(14,2) NOT NULL,
			tickets INT NOT NULL,
			PRIMARY KEY (case_id, position)
		);
	`},
}

// Migrate applies the schema to the database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
