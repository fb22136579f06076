//go:build linux

package detector

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tklauser/go-sysconf"
)

// procRoot is where the proc filesystem is mounted.
var procRoot = "/proc"

// ProcStart returns a start stamp for pid, or 0 when it cannot be read. On
// Linux the stamp is the starttime field of /proc/<pid>/stat: clock ticks
// since boot. Stepping the wall clock does not change it.
func ProcStart(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	b, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0
	}
	ticks, ok := parseStartTicks(b)
	if !ok {
		return 0
	}
	return ticks
}

// sameStart compares tick stamps, which are exact for the life of a process.
func sameStart(recorded, current int64) bool { return recorded == current }

// parseStartTicks returns field 22 of a stat line. The command name in field
// 2 may itself contain ") ", so fields are counted from the last ')'.
func parseStartTicks(stat []byte) (int64, bool) {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 {
		return 0, false
	}
	fields := strings.Fields(string(stat[i+1:]))
	// fields[0] is field 3 (state)
	if len(fields) < 20 {
		return 0, false
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || ticks <= 0 {
		return 0, false
	}
	return ticks, true
}

// ProcUptime reports how long pid has been running, measured on the boot
// clock.
func ProcUptime(pid int) (time.Duration, bool) {
	ticks := ProcStart(pid)
	if ticks == 0 {
		return 0, false
	}
	b, err := os.ReadFile(filepath.Join(procRoot, "uptime"))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, false
	}
	up, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	started := float64(ticks) / float64(clk)
	if up < started {
		return 0, false
	}
	return time.Duration((up - started) * float64(time.Second)), true
}
