package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wager-engine/internal/model"
)

// EventRepository stores round lifecycle events.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository instance.
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Create appends an event.
func (r *EventRepository) Create(ctx context.Context, ev *model.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO game_events (mode, session_id, kind, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.Exec(ctx, query, string(ev.Mode), ev.SessionID, string(ev.Kind), ev.ActorID, payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// GetBySession returns the events of a session in the order they occurred.
func (r *EventRepository) GetBySession(ctx context.Context, mode model.Mode, sessionID string) ([]*model.Event, error) {
	const query = `
		SELECT mode, session_id, kind, actor_id, payload, created_at
		FROM game_events
		WHERE mode = $1 AND session_id = $2
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, string(mode), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var (
			ev         model.Event
			mode, kind string
			payload    []byte
		)
		if err := rows.Scan(&mode, &ev.SessionID, &kind, &ev.ActorID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Mode = model.Mode(mode)
		ev.Kind = model.EventKind(kind)
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
