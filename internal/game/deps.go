package game

import (
	"time"

	"wager-engine/internal/audit"
	"wager-engine/internal/escrow"
	"wager-engine/internal/model"
	"wager-engine/internal/pkg/lock"
	"wager-engine/internal/session"
)

// Deps are the collaborators shared by the managers. Each manager uses the
// subset it needs.
type Deps struct {
	Sessions  session.Backend
	Locker    lock.Locker
	Transfers escrow.Transferer
	Inventory Inventory
	Rounds    RoundLog
	Profiles  Profiles
	Audit     audit.Recorder

	// Server identifies this worker in the per-server active index.
	Server      string
	LockTTL     time.Duration
	CASAttempts int
	CASBackoff  time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Clock returns the current time.
func (d Deps) Clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Store builds a typed session store for mode.
func Store[T any](d Deps, mode model.Mode, ttl time.Duration) *session.Store[T] {
	return session.New[T](d.Sessions, mode, session.Options{
		Server:   d.Server,
		TTL:      ttl,
		Attempts: d.CASAttempts,
		Backoff:  d.CASBackoff,
	})
}

// Event records a lifecycle event if an audit recorder is configured.
func (d Deps) Event(mode model.Mode, sessionID string, kind model.EventKind, actorID string, payload map[string]any) {
	if d.Audit == nil {
		return
	}
	d.Audit.Record(model.Event{
		Mode:      mode,
		SessionID: sessionID,
		Kind:      kind,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: d.Clock(),
	})
}

// LockTimeout returns the advisory lock expiry, defaulting to five seconds.
func (d Deps) LockTimeout() time.Duration {
	if d.LockTTL > 0 {
		return d.LockTTL
	}
	return 5 * time.Second
}
