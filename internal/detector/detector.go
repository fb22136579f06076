//go:build !windows

package detector

import "github.com/loykin/apprun/internal/runstate"

// Detector is a strategy that determines if the supervised process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Probe is the liveness probe used by the launcher and the terminator.
// It never delivers a terminating signal to the target.
type Probe struct{}

// Alive reports whether the process recorded in h is running. A recorded
// start stamp that differs from the live process means the PID was recycled.
func (Probe) Alive(h runstate.Handle) bool {
	if !pidAlive(h.PID) {
		return false
	}
	if h.Start > 0 {
		if cur := ProcStart(h.PID); cur > 0 && !sameStart(h.Start, cur) {
			return false
		}
	}
	return true
}
