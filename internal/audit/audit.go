// Package audit appends round lifecycle events off the request path.
// Recording never blocks and never fails the caller; write errors are logged
// and dropped.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"wager-engine/internal/model"
)

// Recorder accepts lifecycle events.
type Recorder interface {
	Record(ev model.Event)
}

// Writer persists one event.
type Writer interface {
	Create(ctx context.Context, ev *model.Event) error
}

// Sink buffers events and writes them from a single background worker.
type Sink struct {
	writer  Writer
	events  chan model.Event
	timeout time.Duration
}

// NewSink creates a Sink with room for buffer pending events.
func NewSink(writer Writer, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	return &Sink{
		writer:  writer,
		events:  make(chan model.Event, buffer),
		timeout: 5 * time.Second,
	}
}

// Record enqueues ev. When the buffer is full the event is dropped.
func (s *Sink) Record(ev model.Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	select {
	case s.events <- ev:
		eventsTotal.WithLabelValues(string(ev.Mode), "queued").Inc()
	default:
		eventsTotal.WithLabelValues(string(ev.Mode), "dropped").Inc()
		log.Warn().
			Str("mode", string(ev.Mode)).
			Str("session_id", ev.SessionID).
			Str("kind", string(ev.Kind)).
			Msg("Audit buffer full, event dropped")
	}
}

// Run writes events until ctx is canceled, then drains what is already
// buffered. It always returns nil so it can run inside an errgroup.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.events:
			s.write(ctx, ev)
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case ev := <-s.events:
					s.write(drainCtx, ev)
				default:
					return nil
				}
			}
		}
	}
}

// Start runs the sink in the background on its own context. The returned
// stop func cancels it and blocks until the buffer has been drained, so
// callers can keep recording until every producer has finished.
func (s *Sink) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Sink) write(ctx context.Context, ev model.Event) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.writer.Create(ctx, &ev); err != nil {
		eventsTotal.WithLabelValues(string(ev.Mode), "failed").Inc()
		log.Error().
			Err(err).
			Str("mode", string(ev.Mode)).
			Str("session_id", ev.SessionID).
			Str("kind", string(ev.Kind)).
			Msg("Failed to write audit event")
		return
	}
	eventsTotal.WithLabelValues(string(ev.Mode), "written").Inc()
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(model.Event) {}
