package memprobe

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// GopsutilProbe samples process RSS and system-available memory via
// gopsutil, and allocator pressure via runtime.MemStats, matching the
// reference corpus's own use of gopsutil (storj-storj) for host telemetry.
type GopsutilProbe struct {
	limits Limits
	proc   *process.Process
}

// NewGopsutilProbe builds a probe for the current process.
func NewGopsutilProbe(limits Limits) (*GopsutilProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &GopsutilProbe{limits: limits, proc: p}, nil
}

func (g *GopsutilProbe) Status(ctx context.Context) (Status, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status := Status{AllocatedBytes: ms.Alloc}

	if info, err := g.proc.MemoryInfo(); err == nil && info != nil {
		status.ProcessRSSBytes = info.RSS
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		status.SystemAvailableBytes = vm.Available
	}
	return status, nil
}

func (g *GopsutilProbe) Pressure(ctx context.Context) (Pressure, error) {
	s, err := g.Status(ctx)
	if err != nil {
		return Normal, err
	}
	return classify(s, g.limits), nil
}
