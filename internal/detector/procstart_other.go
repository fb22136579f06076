//go:build !linux && !windows

package detector

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// startTolerance bounds how far two readings of the same process's creation
// time may drift. CreateTime is derived from the wall clock here.
const startTolerance = 2 * time.Second

// ProcStart returns a start stamp for pid in Unix milliseconds, or 0 when it
// cannot be read.
func ProcStart(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms
}

func sameStart(recorded, current int64) bool {
	d := recorded - current
	if d < 0 {
		d = -d
	}
	return d <= startTolerance.Milliseconds()
}

// ProcUptime reports how long pid has been running.
func ProcUptime(pid int) (time.Duration, bool) {
	ms := ProcStart(pid)
	if ms == 0 {
		return 0, false
	}
	return time.Since(time.UnixMilli(ms)), true
}
