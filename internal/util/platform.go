package util

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024) // Convert to MB
	}

	return info
}

// GetCPUUsage returns the current CPU usage percentage.
func GetCPUUsage() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) > 0 {
		return percentages[0], nil
	}
	return 0, nil
}

// MemoryUsage holds current system memory usage.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetMemoryUsage returns current system memory usage.
func GetMemoryUsage() (*MemoryUsage, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryUsage{
		Total:       memInfo.Total / (1024 * 1024),
		Used:        memInfo.Used / (1024 * 1024),
		Available:   memInfo.Available / (1024 * 1024),
		UsedPercent: memInfo.UsedPercent,
	}, nil
}

// GetLocalIP returns the primary local IP address.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "127.0.0.1", nil
}
