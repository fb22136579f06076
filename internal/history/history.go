package history

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunched EventType = "launched"  // a new server was spawned and announced its endpoint
	EventReused   EventType = "reused"    // a live server was found and reopened
	EventTimedOut EventType = "timed_out" // a spawned server never announced an endpoint
	EventStopped  EventType = "stopped"   // the server exited after the graceful signal
	EventForced   EventType = "forced"    // the server had to be killed
	EventCleared  EventType = "cleared"   // a stale or corrupt record was removed
)

// Event is a supervisor lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Endpoint   string    `json:"endpoint,omitempty"`
	State      string    `json:"state"`
	RuntimeDir string    `json:"runtime_dir"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to sinks. Delivery is best-effort: failures are
// logged and never reach the caller.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration
}

// NewRecorder returns a Recorder over sinks; nil sinks are skipped.
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{log: log, timeout: 3 * time.Second}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record stamps e (when OccurredAt is zero) and sends it to every sink.
// Cancellation of ctx does not stop delivery; the recorder timeout does.
// A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history sink failed", "event", e.Type, "error", err)
		}
	}
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
