package repository

import (
	"context"
	"fmt"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
)

// ErrCaseNotFound is returned when a requested case is not in the catalog.
var ErrCaseNotFound = fmt.Errorf("%w: case", errs.ErrNotFound)

// CaseRepository reads the case catalog. The catalog is written by the
// separate regeneration job; the engine only reads it.
type CaseRepository struct {
	db DBTX
}

// NewCaseRepository creates a new CaseRepository instance.
func NewCaseRepository(db DBTX) *CaseRepository {
	return &CaseRepository{db: db}
}

// GetByIDs loads the requested cases with their item tables.
// Returns ErrCaseNotFound if any id is missing.
func (r *CaseRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Case, error) {
	const caseQuery = `
		SELECT id, name, price::text
		FROM cases
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, caseQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get cases: %w", err)
	}

	cases := make(map[string]*model.Case, len(ids))
	for rows.Next() {
		var (
			c     model.Case
			price string
		)
		if err := rows.Scan(&c.ID, &c.Name, &price); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		if c.Price, err = parseMoney(price); err != nil {
			rows.Close()
			return nil, err
		}
		cases[c.ID] = &c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cases: %w", err)
	}

	for _, id := range ids {
		if _, ok := cases[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
		}
	}

	const itemQuery = `
		SELECT case_id, name, price::text, tickets
		FROM case_items
		WHERE case_id = ANY($1)
		ORDER BY case_id, position
	`
	rows, err = r.db.Query(ctx, itemQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get case items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			caseID, price string
			item          model.CaseItem
		)
		if err := rows.Scan(&caseID, &item.Name, &price, &item.Tickets); err != nil {
			return nil, fmt.Errorf("failed to scan case item: %w", err)
		}
		if item.Price, err = parseMoney(price); err != nil {
			return nil, err
		}
		cases[caseID].Items = append(cases[caseID].Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating case items: %w", err)
	}
	return cases, nil
}

// Upsert writes a case and replaces its item table.
func (r *CaseRepository) Upsert(ctx context.Context, c *model.Case) error {
	const caseQuery = `
		INSERT INTO cases (id, name, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = $2, price = $3
	`
	if _, err := r.db.Exec(ctx, caseQuery, c.ID, c.Name, c.Price.String()); err != nil {
		return fmt.Errorf("failed to upsert case: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM case_items WHERE case_id = $1`, c.ID); err != nil {
		return fmt.Errorf("failed to clear case items: %w", err)
	}

	const itemQuery = `
		INSERT INTO case_items (case_id, position, name, price, tickets)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, it := range c.Items {
		if _, err := r.db.Exec(ctx, itemQuery, c.ID, i, it.Name, it.Price.String(), it.Tickets); err != nil {
			return fmt.Errorf("failed to insert case item: %w", err)
		}
	}
	return nil
}
