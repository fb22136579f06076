package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestRecorder_FanOutAndStamp(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	r := NewRecorder(nil, a, nil, b)
	r.Record(context.Background(), Event{Type: EventLaunched, PID: 4242, Endpoint: "http://127.0.0.1:8765"})
	for _, s := range []*memSink{a, b} {
		if len(s.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(s.events))
		}
		if s.events[0].OccurredAt.IsZero() {
			t.Fatalf("event was not stamped")
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("sinks were not closed")
	}
}

func TestRecorder_FailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	bad := &memSink{err: errors.New("db down")}
	good := &memSink{}
	NewRecorder(log, bad, good).Record(context.Background(), Event{Type: EventForced})
	if len(good.events) != 1 {
		t.Fatalf("a failing sink must not block the others")
	}
	if !strings.Contains(buf.String(), "db down") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Type: EventStopped})
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}

type ctxSink struct{ err error }

func (c *ctxSink) Send(ctx context.Context, _ Event) error {
	c.err = ctx.Err()
	return nil
}

func TestRecorder_DeliversAfterCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &ctxSink{}
	NewRecorder(nil, s).Record(ctx, Event{Type: EventForced})
	if s.err != nil {
		t.Fatalf("sink saw a cancelled context: %v", s.err)
	}
}
