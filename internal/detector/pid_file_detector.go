//go:build !windows

package detector

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"github.com/loykin/apprun/internal/runstate"
)

// pidAlive returns true if a process with given pid exists (or EPERM).
// A Linux zombie has already exited and is reported as not alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// PIDFileDetector detects the supervised process through the PID marker of
// a runtime store.
type PIDFileDetector struct {
	Store runstate.Store
	Path  string // for Describe only
}

func (d PIDFileDetector) Alive() (bool, error) {
	h, st, err := d.Store.InspectHandle()
	if err != nil {
		return false, err
	}
	switch st {
	case runstate.HandleMissing:
		return false, nil
	case runstate.HandleMalformed:
		return false, fmt.Errorf("invalid pid in %s", d.Describe())
	}
	return Probe{}.Alive(h), nil
}

func (d PIDFileDetector) Describe() string {
	if d.Path == "" {
		return "pidfile"
	}
	return "pidfile:" + d.Path
}
