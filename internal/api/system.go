package api

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

// SystemInfo reports the health of the host running the assistant.
type SystemInfo interface {
	Collect(ctx context.Context) (SystemStatus, error)
}

type SystemStatus struct {
	Hostname    string             `json:"hostname"`
	Platform    string             `json:"platform"`
	Uptime      uint64             `json:"uptime"` // seconds
	CPUPercent  float64            `json:"cpu_percent"`
	Load1       float64            `json:"load1"`
	Memory      Usage              `json:"memory"`
	Disk        Usage              `json:"disk"`
	Temperature map[string]float64 `json:"temperature,omitempty"` // celsius
}

type Usage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// HostInfo collects SystemStatus with gopsutil.
type HostInfo struct {
	// DiskPath is the mount reported as disk usage, "/" when empty.
	DiskPath string
}

func (h HostInfo) Collect(ctx context.Context) (SystemStatus, error) {
	var status SystemStatus

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return status, fmt.Errorf("host info: %w", err)
	}
	status.Hostname = info.Hostname
	status.Platform = info.Platform + " " + info.PlatformVersion
	status.Uptime = info.Uptime

	percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return status, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percents) > 0 {
		status.CPUPercent = percents[0]
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		status.Load1 = avg.Load1
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return status, fmt.Errorf("memory usage: %w", err)
	}
	status.Memory = Usage{Total: vm.Total, Used: vm.Used, UsedPercent: vm.UsedPercent}

	path := h.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return status, fmt.Errorf("disk usage: %w", err)
	}
	status.Disk = Usage{Total: du.Total, Used: du.Used, UsedPercent: du.UsedPercent}

	// sensors are optional; partial results come with a warning error
	temps, err := sensors.TemperaturesWithContext(ctx)
	var warn *sensors.Warnings
	if err == nil || errors.As(err, &warn) {
		for _, t := range temps {
			if status.Temperature == nil {
				status.Temperature = make(map[string]float64)
			}
			status.Temperature[t.SensorKey] = t.Temperature
		}
	}
	return status, nil
}

// lookTools reports the resolved path of every tool, or "missing".
func lookTools(tools map[string]string) map[string]string {
	out := make(map[string]string, len(tools))
	for name, path := range tools {
		resolved, err := exec.LookPath(path)
		if err != nil {
			out[name] = "missing"
			continue
		}
		out[name] = resolved
	}
	return out
}
