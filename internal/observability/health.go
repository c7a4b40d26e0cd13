package observability

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

// SystemInfo is the system snapshot reported by the health endpoint.
type SystemInfo struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	Goroutines    int     `json:"goroutines"`
	GoVersion     string  `json:"go_version"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// CollectSystemInfo gathers the current resource usage. Probe failures
// leave the corresponding field at zero rather than failing the health
// check.
func CollectSystemInfo(dataPath string) SystemInfo {
	info := SystemInfo{
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
	}
	if dataPath != "" {
		if usage, err := disk.Usage(dataPath); err == nil {
			info.DiskPercent = usage.UsedPercent
		}
	}
	return info
}
