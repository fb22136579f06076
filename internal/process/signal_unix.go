//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// Signaler delivers termination signals to a supervised process. The
// process group is signalled first so helpers spawned by the server go down
// with it; a PID that does not lead a group is signalled directly.
type Signaler struct{}

// Terminate sends SIGTERM, which the target may handle to clean up.
func (Signaler) Terminate(pid int) error { return signalTree(pid, syscall.SIGTERM) }

// Kill sends SIGKILL, which the target cannot intercept.
func (Signaler) Kill(pid int) error { return signalTree(pid, syscall.SIGKILL) }

func signalTree(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}
