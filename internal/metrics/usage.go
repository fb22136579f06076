package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of one process.
type Usage struct {
	PID        int32
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
}

// MemoryMB returns RSS in mebibytes.
func (u Usage) MemoryMB() float64 { return float64(u.RSSBytes) / 1024 / 1024 }

// SampleUsage reads CPU, memory and thread count for pid.
func SampleUsage(ctx context.Context, pid int) (Usage, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("process %d: %w", pid, err)
	}
	u := Usage{PID: int32(pid)}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("memory info for %d: %w", pid, err)
	}
	u.RSSBytes = mem.RSS
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.NumThreads = n
	}
	SetServerUsage(u.RSSBytes, u.CPUPercent)
	return u, nil
}
