package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/apprun/internal/detector"
	"github.com/loykin/apprun/internal/launcher"
	"github.com/loykin/apprun/internal/logger"
	"github.com/loykin/apprun/internal/metrics"
	"github.com/loykin/apprun/internal/process"
	"github.com/loykin/apprun/internal/runstate"
	"github.com/loykin/apprun/internal/server"
	"github.com/loykin/apprun/internal/terminator"
	"github.com/loykin/apprun/internal/viewer"
)

type command struct {
	out    io.Writer
	errOut io.Writer
	// newViewer is replaced in tests to avoid opening a browser.
	newViewer func(noBrowser bool, out io.Writer) viewer.Viewer
}

func newCommand(out, errOut io.Writer) *command {
	return &command{out: out, errOut: errOut, newViewer: viewer.New}
}

// changedFunc reports whether a flag was set on the command line.
type changedFunc func(name string) bool

// Start reuses the running server or spawns a new one and waits for it to
// become ready.
func (c *command) Start(ctx context.Context, g GlobalFlags, f StartFlags, changed changedFunc) error {
	s, err := openSession(g, c.errOut)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg := s.cfg

	if changed("no-browser") {
		cfg.Launch.NoBrowser = f.NoBrowser
	}
	if changed("lock") {
		cfg.Launch.Lock = f.Lock
	}
	if changed("ready-interval") {
		cfg.Launch.ReadyInterval = f.ReadyInterval
	}
	if changed("ready-attempts") {
		cfg.Launch.ReadyAttempts = f.ReadyAttempts
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	spec, err := cfg.ServerSpec()
	if err != nil {
		return err
	}
	store := cfg.Store()
	lcfg := launcher.Config{
		Spec:          spec,
		ReadyInterval: cfg.Launch.ReadyInterval,
		ReadyAttempts: cfg.Launch.ReadyAttempts,
		RuntimeDir:    cfg.RuntimeDir,
	}
	if cfg.Launch.Lock {
		lcfg.LockPath = store.LockPath()
	}
	spawner := &process.Spawner{
		Log:        s.log,
		BeforeOpen: func(path string) error { return logger.RotateFile(path, cfg.Log) },
	}

	l := launcher.New(store, spawner, detector.Probe{}, c.newViewer(cfg.Launch.NoBrowser, c.out), lcfg)
	l.SetLogger(s.log)
	l.SetOutput(c.out)
	l.SetRecorder(s.recorder)
	_, err = l.Launch(ctx)
	return err
}

// Stop terminates the recorded server. Termination problems never fail the
// command; only an unusable configuration does.
func (c *command) Stop(ctx context.Context, g GlobalFlags, f StopFlags, changed changedFunc) error {
	s, err := openSession(g, c.errOut)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg := s.cfg

	// terminator.New replaces non-positive values with its defaults
	if changed("interval") {
		if f.Interval <= 0 {
			s.log.Warn("ignoring non-positive --interval", "value", f.Interval)
		}
		cfg.Stop.Interval = f.Interval
	}
	if changed("attempts") {
		if f.Attempts <= 0 {
			s.log.Warn("ignoring non-positive --attempts", "value", f.Attempts)
		}
		cfg.Stop.Attempts = f.Attempts
	}

	t := terminator.New(cfg.Store(), process.Signaler{}, detector.Probe{}, terminator.Config{
		StopInterval: cfg.Stop.Interval,
		StopAttempts: cfg.Stop.Attempts,
		RuntimeDir:   cfg.RuntimeDir,
	})
	t.SetLogger(s.log)
	t.SetOutput(c.out)
	t.SetRecorder(s.recorder)
	res := t.Stop(ctx)
	s.log.Debug("stop finished", "state", res.State.String(), "pid", res.PID, "polls", res.Polls)
	return nil
}

// Status reports whether the recorded server is running without changing
// any state.
func (c *command) Status(ctx context.Context, g GlobalFlags, f StatusFlags) error {
	s, err := openSession(g, c.errOut)
	if err != nil {
		return err
	}
	defer s.Close()

	store := s.cfg.Store()
	h, st, err := store.InspectHandle()
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	switch st {
	case runstate.HandleMissing:
		_, _ = fmt.Fprintln(c.out, "not running")
		return nil
	case runstate.HandleMalformed:
		_, _ = fmt.Fprintf(c.out, "invalid pid file %s\n", store.PIDPath())
		return nil
	}

	var d detector.Detector = detector.PIDFileDetector{Store: store, Path: store.PIDPath()}
	alive, err := d.Alive()
	if err != nil {
		return err
	}
	s.log.Debug("probed server", "detector", d.Describe(), "pid", h.PID, "alive", alive)
	if !alive {
		_, _ = fmt.Fprintf(c.out, "stale pid file (pid %d)\n", h.PID)
		return nil
	}

	ep, ok, err := store.ReadEndpoint()
	if err != nil {
		return fmt.Errorf("read endpoint file: %w", err)
	}
	if ok {
		_, _ = fmt.Fprintf(c.out, "running (pid %d): %s\n", h.PID, ep.Address)
	} else {
		_, _ = fmt.Fprintf(c.out, "running (pid %d); endpoint not ready\n", h.PID)
	}
	if f.Usage {
		u, err := metrics.SampleUsage(ctx, h.PID)
		if err != nil {
			s.log.Warn("resource sampling failed", "pid", h.PID, "error", err)
			return nil
		}
		_, _ = fmt.Fprintf(c.out, "   memory:  %.1f MB\n   cpu:     %.1f%%\n   threads: %d\n", u.MemoryMB(), u.CPUPercent, u.NumThreads)
		if up, ok := detector.ProcUptime(h.PID); ok {
			_, _ = fmt.Fprintf(c.out, "   uptime:  %s\n", up.Truncate(time.Second))
		}
	}
	return nil
}

// Serve runs the bundled server until ctx is cancelled.
func (c *command) Serve(ctx context.Context, g GlobalFlags, f ServeFlags, changed changedFunc) error {
	s, err := openSession(g, c.errOut)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		s.log.Warn("metrics registration failed", "error", err)
	}
	root, addr := s.cfg.Serve.Root, s.cfg.Serve.Addr
	if changed("root") {
		root = f.Root
	}
	if changed("addr") {
		addr = f.Addr
	}
	return server.Run(ctx, server.Config{
		Root:  root,
		Addr:  addr,
		Store: s.cfg.Store(),
		Out:   c.out,
		Log:   s.log,
	})
}
