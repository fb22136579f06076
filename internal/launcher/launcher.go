// Package launcher starts the supervised server at most once per runtime
// directory and waits for it to announce its endpoint.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/apprun/internal/history"
	"github.com/loykin/apprun/internal/metrics"
	"github.com/loykin/apprun/internal/process"
	"github.com/loykin/apprun/internal/runstate"
	"github.com/loykin/apprun/internal/viewer"
)

const (
	DefaultReadyInterval = 100 * time.Millisecond
	DefaultReadyAttempts = 50
)

var (
	// ErrReadyTimeout is returned when the spawned server never wrote its
	// endpoint within the readiness budget. The server is left running.
	ErrReadyTimeout = errors.New("server did not become ready")
	ErrSpawn        = process.ErrSpawn
	ErrLocked       = runstate.ErrLocked
)

// Spawner starts the supervised command detached and returns its handle.
type Spawner interface {
	Spawn(spec process.Spec) (runstate.Handle, error)
}

// Killer is implemented by spawners that can take back a process they
// started.
type Killer interface {
	Kill(pid int) error
}

// Prober reports whether the process behind a handle is alive.
type Prober interface {
	Alive(h runstate.Handle) bool
}

// Config controls a Launcher.
type Config struct {
	Spec          process.Spec
	ReadyInterval time.Duration
	ReadyAttempts int
	// LockPath, when set, is flock'ed for the duration of Launch.
	LockPath string
	// RuntimeDir is attached to history events.
	RuntimeDir string
}

// ReadyBudget is the longest Launch waits for the endpoint.
func (c Config) ReadyBudget() time.Duration {
	return c.ReadyInterval * time.Duration(c.ReadyAttempts)
}

// Result describes how a Launch ended.
type Result struct {
	State    State
	PID      int
	Endpoint string
	LogPath  string
	Spawned  bool
}

// Launcher reuses a live server or spawns a new one.
type Launcher struct {
	store    runstate.Store
	spawner  Spawner
	prober   Prober
	viewer   viewer.Viewer
	cfg      Config
	log      *slog.Logger
	out      io.Writer
	recorder *history.Recorder
}

// New returns a Launcher over store. Non-positive readiness settings fall
// back to the defaults.
func New(store runstate.Store, spawner Spawner, prober Prober, v viewer.Viewer, cfg Config) *Launcher {
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = DefaultReadyInterval
	}
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = DefaultReadyAttempts
	}
	return &Launcher{
		store:   store,
		spawner: spawner,
		prober:  prober,
		viewer:  v,
		cfg:     cfg,
		log:     slog.Default(),
		out:     io.Discard,
	}
}

// SetLogger sets the diagnostics logger.
func (l *Launcher) SetLogger(log *slog.Logger) {
	if log != nil {
		l.log = log
	}
}

// SetOutput sets where operator status lines are written.
func (l *Launcher) SetOutput(w io.Writer) {
	if w != nil {
		l.out = w
	}
}

// SetRecorder sets the lifecycle history recorder.
func (l *Launcher) SetRecorder(r *history.Recorder) { l.recorder = r }

// Launch runs the state machine once. It returns ErrReadyTimeout (wrapped)
// when the spawned server never became ready, and ErrSpawn (wrapped) when the
// command could not be started. Cancelling ctx aborts the readiness wait.
func (l *Launcher) Launch(ctx context.Context) (Result, error) {
	res := Result{State: StateCheckingExisting, LogPath: l.cfg.Spec.LogPath}

	if l.cfg.LockPath != "" {
		unlock, err := runstate.Lock(l.cfg.LockPath)
		if err != nil {
			return res, err
		}
		defer unlock()
	}

	h, ok, err := l.store.ReadHandle()
	if err != nil {
		return res, fmt.Errorf("read pid file: %w", err)
	}
	if ok {
		if l.prober.Alive(h) {
			ep, found, err := l.store.ReadEndpoint()
			if err != nil {
				return res, fmt.Errorf("read endpoint file: %w", err)
			}
			if found {
				res.State = StateReusing
				res.PID = h.PID
				res.Endpoint = ep.Address
				l.report("already running (pid %d): %s", h.PID, ep.Address)
				l.open(ep.Address)
				l.finish(ctx, res, history.EventReused, "")
				return res, nil
			}
			l.log.Info("live process has no endpoint; starting a new one", "pid", h.PID)
		} else {
			l.log.Debug("pid file is stale", "pid", h.PID)
		}
	}

	if err := l.store.ClearEndpoint(); err != nil {
		return res, fmt.Errorf("clear endpoint file: %w", err)
	}

	res.State = StateSpawning
	h, err = l.spawner.Spawn(l.cfg.Spec)
	if err != nil {
		metrics.IncLaunch("spawn_failed")
		if !errors.Is(err, ErrSpawn) {
			err = fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		return res, err
	}
	res.PID = h.PID
	res.Spawned = true
	if err := l.store.WriteHandle(h); err != nil {
		// an unrecorded server could never be stopped
		l.discard(h.PID)
		return res, fmt.Errorf("write pid file for pid %d: %w", h.PID, err)
	}
	l.log.Info("server spawned", "pid", h.PID, "log", l.cfg.Spec.LogPath)

	res.State = StateAwaitingReady
	started := time.Now()
	ep, err := l.awaitReady(ctx)
	if err != nil {
		if !errors.Is(err, ErrReadyTimeout) {
			return res, err
		}
		res.State = StateTimedOut
		budget := l.cfg.ReadyBudget()
		l.report("server did not become ready within %s; see %s", budget, l.cfg.Spec.LogPath)
		l.finish(ctx, res, history.EventTimedOut, "see "+l.cfg.Spec.LogPath)
		return res, fmt.Errorf("%w within %s; see %s", ErrReadyTimeout, budget, l.cfg.Spec.LogPath)
	}
	metrics.ObserveReadyWait(time.Since(started).Seconds())

	res.State = StateLaunched
	res.Endpoint = ep.Address
	l.report("started (pid %d): %s", h.PID, ep.Address)
	l.open(ep.Address)
	l.finish(ctx, res, history.EventLaunched, "")
	return res, nil
}

// awaitReady polls the endpoint record, sleeping one interval before each
// read, for at most ReadyAttempts reads.
func (l *Launcher) awaitReady(ctx context.Context) (runstate.Endpoint, error) {
	for attempt := 1; attempt <= l.cfg.ReadyAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return runstate.Endpoint{}, ctx.Err()
		case <-time.After(l.cfg.ReadyInterval):
		}
		ep, ok, err := l.store.ReadEndpoint()
		if err != nil {
			return runstate.Endpoint{}, fmt.Errorf("read endpoint file: %w", err)
		}
		if ok {
			l.log.Debug("endpoint ready", "attempt", attempt, "endpoint", ep.Address)
			return ep, nil
		}
	}
	return runstate.Endpoint{}, ErrReadyTimeout
}

// discard kills a freshly spawned server when the spawner can do so.
func (l *Launcher) discard(pid int) {
	k, ok := l.spawner.(Killer)
	if !ok {
		l.log.Warn("unrecorded server left running", "pid", pid)
		return
	}
	if err := k.Kill(pid); err != nil {
		l.log.Warn("failed to kill unrecorded server", "pid", pid, "error", err)
	}
}

func (l *Launcher) open(url string) {
	if l.viewer == nil {
		return
	}
	if err := l.viewer.Open(url); err != nil {
		l.log.Warn("failed to open viewer", "url", url, "error", err)
	}
}

func (l *Launcher) report(format string, args ...any) {
	_, _ = fmt.Fprintf(l.out, format+"\n", args...)
}

func (l *Launcher) finish(ctx context.Context, res Result, t history.EventType, detail string) {
	metrics.IncLaunch(res.State.String())
	l.recorder.Record(ctx, history.Event{
		Type:       t,
		PID:        res.PID,
		Endpoint:   res.Endpoint,
		State:      res.State.String(),
		RuntimeDir: l.cfg.RuntimeDir,
		Detail:     detail,
	})
}
