package feed

import (
	"context"
	"log/slog"
)

// DefaultBuffer is the number of events a Local feed holds before dropping.
const DefaultBuffer = 256

// Local is an in-process feed. Events are delivered in publish order by the
// goroutine running Run. When the buffer is full new events are dropped and
// logged; there is no retry.
type Local struct {
	dispatcher
	events chan Event
}

// NewLocal creates an in-process feed with the given buffer size.
func NewLocal(buffer int, logger *slog.Logger) *Local {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	logger = logger.With("component", "feed.local")
	return &Local{
		dispatcher: dispatcher{logger: logger},
		events:     make(chan Event, buffer),
	}
}

// Publish enqueues an event without blocking.
func (l *Local) Publish(_ context.Context, ev Event) {
	select {
	case l.events <- ev:
	default:
		l.logger.Warn("change feed full, dropping event", "kind", ev.Kind)
	}
}

// Run dispatches events until ctx is cancelled.
func (l *Local) Run(ctx context.Context) error {
	l.logger.Info("change feed started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("change feed stopped")
			return nil
		case ev := <-l.events:
			l.dispatch(ctx, ev)
		}
	}
}
