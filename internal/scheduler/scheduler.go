// Package scheduler drives the time-based transitions of every game mode.
// Each mode gets its own loop on a fixed interval. A tick scans the mode's
// active index and advances each session; errors are logged and the session
// is retried on the next tick. Every worker runs every loop, so ticks rely
// on the managers' locks and conditional writes rather than on being the
// only driver.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"wager-engine/internal/game"
)

// Scheduler owns one loop per registered manager.
type Scheduler struct {
	server       string
	beats        Heartbeats
	heartbeatTTL time.Duration
	loops        []loop

	mu      sync.Mutex
	started time.Time

	// Now defaults to time.Now.
	Now func() time.Time
}

type loop struct {
	manager  game.Manager
	interval time.Duration
}

// New creates a scheduler for this worker. beats may be nil.
func New(server string, beats Heartbeats, heartbeatTTL time.Duration) *Scheduler {
	return &Scheduler{
		server:       server,
		beats:        beats,
		heartbeatTTL: heartbeatTTL,
		Now:          time.Now,
	}
}

// Add registers a loop for m ticking every interval.
func (s *Scheduler) Add(m game.Manager, interval time.Duration) {
	s.loops = append(s.loops, loop{manager: m, interval: interval})
}

// Run ticks every loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = s.Now()
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error {
			s.run(ctx, l)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) run(ctx context.Context, l loop) {
	name := string(l.manager.Mode())
	log.Info().Str("loop", name).Dur("interval", l.interval).Msg("Scheduler loop started")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("loop", name).Msg("Scheduler loop stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx, l.manager); err != nil {
				log.Error().Err(err).Str("loop", name).Msg("Scheduler tick failed")
			}
		}
	}
}

// Tick runs one pass over m's active sessions. Per-session errors are
// collected; one failing session does not stop the others.
func (s *Scheduler) Tick(ctx context.Context, m game.Manager) error {
	name := string(m.Mode())
	start := time.Now()
	now := s.Now()
	defer func() {
		tickDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	var result *multierror.Error
	if mt, ok := m.(game.Maintainer); ok {
		if err := mt.Maintain(ctx, now); err != nil {
			result = multierror.Append(result, fmt.Errorf("maintain: %w", err))
		}
	}

	ids, err := m.ActiveIDs(ctx)
	if err != nil {
		ticksTotal.WithLabelValues(name, "failed").Inc()
		return multierror.Append(result, fmt.Errorf("failed to list active sessions: %w", err)).ErrorOrNil()
	}
	activeSessions.WithLabelValues(name).Set(float64(len(ids)))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := m.Advance(ctx, id, now); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", id, err))
		}
	}

	if s.beats != nil {
		if err := s.beats.Beat(ctx, name, s.server, now, s.heartbeatTTL); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		ticksTotal.WithLabelValues(name, "partial").Inc()
		return err
	}
	ticksTotal.WithLabelValues(name, "ok").Inc()
	log.Debug().Str("loop", name).Int("sessions", len(ids)).Msg("Scheduler tick")
	return nil
}

// Health reports every loop whose heartbeat for this worker is missing or
// older than the heartbeat TTL. A loop that has not beaten yet is only
// reported once one interval plus the TTL has passed since Run started.
func (s *Scheduler) Health(ctx context.Context) error {
	if s.beats == nil {
		return nil
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started.IsZero() {
		return errors.New("scheduler is not running")
	}

	now := s.Now()
	var result *multierror.Error
	for _, l := range s.loops {
		name := string(l.manager.Mode())
		last, err := s.beats.Last(ctx, name, s.server)
		switch {
		case errors.Is(err, ErrNoHeartbeat):
			if now.Sub(started) > l.interval+s.heartbeatTTL {
				result = multierror.Append(result, fmt.Errorf("loop %s: %w", name, err))
			}
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("loop %s: %w", name, err))
		case now.Sub(last) > s.heartbeatTTL:
			result = multierror.Append(result, fmt.Errorf("loop %s: last heartbeat %s ago", name, now.Sub(last).Round(time.Second)))
		}
	}
	return result.ErrorOrNil()
}
