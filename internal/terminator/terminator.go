// Package terminator stops the supervised server recorded in the runtime
// state store, escalating from SIGTERM to SIGKILL.
package terminator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/apprun/internal/history"
	"github.com/loykin/apprun/internal/metrics"
	"github.com/loykin/apprun/internal/runstate"
)

const (
	DefaultStopInterval = 100 * time.Millisecond
	DefaultStopAttempts = 20
)

// State is a Terminator lifecycle state.
//
// State Machine:
// NoRecord | EmptyRecord | NotRunning | Unreadable (terminal, nothing signalled)
// Signaling -> Waiting -> ConfirmedDead | Forcing
type State int32

const (
	StateNoRecord State = iota
	StateEmptyRecord
	StateNotRunning
	StateSignaling
	StateWaiting
	StateConfirmedDead
	StateForcing
	StateUnreadable
)

func (s State) String() string {
	switch s {
	case StateNoRecord:
		return "no_record"
	case StateEmptyRecord:
		return "empty_record"
	case StateNotRunning:
		return "not_running"
	case StateSignaling:
		return "signaling"
	case StateWaiting:
		return "waiting"
	case StateConfirmedDead:
		return "confirmed_dead"
	case StateForcing:
		return "forcing"
	case StateUnreadable:
		return "unreadable_record"
	default:
		return "unknown"
	}
}

// Signaler delivers the graceful and forced termination signals.
type Signaler interface {
	Terminate(pid int) error
	Kill(pid int) error
}

// Prober reports whether the process behind a handle is alive.
type Prober interface {
	Alive(h runstate.Handle) bool
}

// Config controls a Terminator.
type Config struct {
	StopInterval time.Duration
	StopAttempts int
	RuntimeDir   string
}

// Result describes how a Stop ended. Polls counts liveness checks made after
// the graceful signal.
type Result struct {
	State  State
	PID    int
	Polls  int
	Forced bool
}

// Terminator stops the recorded server. It never fails: every problem is
// logged and the record is cleared anyway.
type Terminator struct {
	store    runstate.Store
	signaler Signaler
	prober   Prober
	cfg      Config
	log      *slog.Logger
	out      io.Writer
	recorder *history.Recorder
}

// New returns a Terminator over store. Non-positive stop settings fall back
// to the defaults.
func New(store runstate.Store, signaler Signaler, prober Prober, cfg Config) *Terminator {
	if cfg.StopInterval <= 0 {
		cfg.StopInterval = DefaultStopInterval
	}
	if cfg.StopAttempts <= 0 {
		cfg.StopAttempts = DefaultStopAttempts
	}
	return &Terminator{
		store:    store,
		signaler: signaler,
		prober:   prober,
		cfg:      cfg,
		log:      slog.Default(),
		out:      io.Discard,
	}
}

// SetLogger sets the diagnostics logger.
func (t *Terminator) SetLogger(log *slog.Logger) {
	if log != nil {
		t.log = log
	}
}

// SetOutput sets where operator status lines are written.
func (t *Terminator) SetOutput(w io.Writer) {
	if w != nil {
		t.out = w
	}
}

// SetRecorder sets the lifecycle history recorder.
func (t *Terminator) SetRecorder(r *history.Recorder) { t.recorder = r }

// Stop runs the state machine once. Cancelling ctx cuts the wait short and
// escalates straight to SIGKILL.
func (t *Terminator) Stop(ctx context.Context) Result {
	h, st, err := t.store.InspectHandle()
	if err != nil {
		// the record may exist; leave it for the operator
		t.log.Warn("failed to read pid file", "error", err)
		t.report("cannot read pid file: %v", err)
		return t.finish(ctx, Result{State: StateUnreadable}, "")
	}
	switch st {
	case runstate.HandleMissing:
		t.report("nothing to stop")
		return t.finish(ctx, Result{State: StateNoRecord}, "")
	case runstate.HandleMalformed:
		t.clear()
		t.report("empty pid file; cleared")
		return t.finish(ctx, Result{State: StateEmptyRecord}, history.EventCleared)
	}

	res := Result{State: StateSignaling, PID: h.PID}
	defer t.clear()

	if !t.prober.Alive(h) {
		res.State = StateNotRunning
		t.report("not running (pid %d); cleared stale pid file", h.PID)
		return t.finish(ctx, res, history.EventCleared)
	}

	t.report("stopping pid %d", h.PID)
	if err := t.signaler.Terminate(h.PID); err != nil {
		t.log.Debug("graceful signal failed", "pid", h.PID, "error", err)
	}

	res.State = StateWaiting
	started := time.Now()
	dead := t.waitDead(ctx, h, &res)
	metrics.ObserveStopWait(time.Since(started).Seconds())
	if dead {
		res.State = StateConfirmedDead
		t.report("stopped pid %d", h.PID)
		return t.finish(ctx, res, history.EventStopped)
	}

	res.State = StateForcing
	res.Forced = true
	t.report("force killing pid %d", h.PID)
	if err := t.signaler.Kill(h.PID); err != nil {
		t.log.Debug("forced kill failed", "pid", h.PID, "error", err)
	}
	return t.finish(ctx, res, history.EventForced)
}

// waitDead sleeps one interval before each liveness check and reports
// whether the process was observed dead within StopAttempts checks.
func (t *Terminator) waitDead(ctx context.Context, h runstate.Handle, res *Result) bool {
	for attempt := 1; attempt <= t.cfg.StopAttempts; attempt++ {
		select {
		case <-ctx.Done():
			t.log.Debug("stop wait cancelled", "pid", h.PID, "error", ctx.Err())
			return false
		case <-time.After(t.cfg.StopInterval):
		}
		res.Polls = attempt
		if !t.prober.Alive(h) {
			return true
		}
	}
	return false
}

// clear removes both markers; failures are logged only.
func (t *Terminator) clear() {
	if err := t.store.ClearHandle(); err != nil {
		t.log.Warn("failed to clear pid file", "error", err)
	}
	if err := t.store.ClearEndpoint(); err != nil {
		t.log.Warn("failed to clear endpoint file", "error", err)
	}
}

func (t *Terminator) report(format string, args ...any) {
	_, _ = fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *Terminator) finish(ctx context.Context, res Result, et history.EventType) Result {
	metrics.IncStop(res.State.String())
	if et != "" {
		t.recorder.Record(ctx, history.Event{
			Type:       et,
			PID:        res.PID,
			State:      res.State.String(),
			RuntimeDir: t.cfg.RuntimeDir,
		})
	}
	return res
}
