package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/apprun/internal/detector"
	"github.com/loykin/apprun/internal/runstate"
)

// ErrSpawn is returned when the supervised command could not be started.
var ErrSpawn = errors.New("failed to start server process")

// Spawner starts the supervised command detached from the caller.
type Spawner struct {
	// BeforeOpen, when set, runs against the log path before it is opened
	// (log rotation).
	BeforeOpen func(path string) error
	Log        *slog.Logger
}

// Spawn starts spec in a new session with stdout and stderr appended to
// spec.LogPath and stdin bound to /dev/null. The returned handle carries the
// PID and, when available, the process start stamp. The child is not owned:
// it keeps running after the caller exits.
func (s *Spawner) Spawn(spec Spec) (runstate.Handle, error) {
	if err := spec.Validate(); err != nil {
		return runstate.Handle{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	logger := s.Log
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o750); err != nil {
		return runstate.Handle{}, fmt.Errorf("%w: create log dir: %v", ErrSpawn, err)
	}
	if s.BeforeOpen != nil {
		if err := s.BeforeOpen(spec.LogPath); err != nil {
			logger.Warn("log rotation failed", "path", spec.LogPath, "error", err)
		}
	}
	// #nosec G304
	logF, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return runstate.Handle{}, fmt.Errorf("%w: open log file: %v", ErrSpawn, err)
	}
	defer func() { _ = logF.Close() }()
	null, err := os.Open(os.DevNull)
	if err != nil {
		return runstate.Handle{}, fmt.Errorf("%w: open %s: %v", ErrSpawn, os.DevNull, err)
	}
	defer func() { _ = null.Close() }()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	cmd.Stdin = null
	cmd.Stdout = logF
	cmd.Stderr = logF
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return runstate.Handle{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	pid := cmd.Process.Pid
	h := runstate.Handle{PID: pid, Start: detector.ProcStart(pid)}
	logger.Debug("server process started", "pid", pid, "command", spec.Command, "log", spec.LogPath)

	// Reap the child if it exits while the supervisor is still running so it
	// does not linger as a zombie that liveness probes would have to filter.
	go func() { _ = cmd.Wait() }()
	return h, nil
}

// Kill force-kills a process started by Spawn and its process group.
func (s *Spawner) Kill(pid int) error { return Signaler{}.Kill(pid) }
