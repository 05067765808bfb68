// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"wager-engine/internal/pkg/errs"
)

// Common errors for repository operations.
var (
	// ErrLockNotAvailable is returned when a NOWAIT row lock is held by another transaction.
	ErrLockNotAvailable = fmt.Errorf("%w: row locked by another transaction", errs.ErrConflict)
)

// pgLockNotAvailable is the SQLSTATE for lock_not_available.
const pgLockNotAvailable = "55P03"

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx so repositories
// work both standalone and inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isLockNotAvailable reports whether err is a NOWAIT lock conflict.
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}

// parseMoney parses a NUMERIC column selected as text.
func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	return d, nil
}
