// Package sysinfo fingerprints the machine a sweep ran on.
package sysinfo

import (
	"context"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/codalotl/toolcallbench/internal/types"
)

// Collect returns what can be learned about the host. Probes that fail are
// left empty; OS, architecture and Go version are always set.
func Collect(ctx context.Context) *types.SystemInfo {
	info := &types.SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
	}

	if h, err := host.InfoWithContext(ctx); err == nil && h != nil {
		info.Hostname = h.Hostname
		info.Platform = strings.TrimSpace(strings.Join([]string{h.Platform, h.PlatformVersion}, " "))
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = strings.TrimSpace(cpus[0].ModelName)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.CPUCores = n
	} else {
		info.CPUCores = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.MemoryTotalMB = vm.Total / (1024 * 1024)
	}
	return info
}
