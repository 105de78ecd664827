// Package diagnostics probes host capacity for the doctor command and for
// sizing swarm batches: CPU topology, memory, disk headroom under the state
// root, load averages, and best-effort GPU discovery.
package diagnostics

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

// GPUInfo describes one detected GPU.
type GPUInfo struct {
	Name     string `json:"name"`
	Vendor   string `json:"vendor,omitempty"`
	MemoryMB int    `json:"memory_mb,omitempty"`
}

// HostMetrics is a point-in-time snapshot of host capacity. Fields that
// could not be collected are left at their zero value.
type HostMetrics struct {
	CPUModel   string `json:"cpu_model,omitempty"`
	CPUCores   int    `json:"cpu_cores"`
	CPUThreads int    `json:"cpu_threads"`

	MemoryTotalMB     uint64  `json:"memory_total_mb"`
	MemoryAvailableMB uint64  `json:"memory_available_mb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`

	DiskPath        string  `json:"disk_path"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskFreeGB      float64 `json:"disk_free_gb"`
	DiskUsedPercent float64 `json:"disk_used_percent"`

	Load1  float64 `json:"load_1"`
	Load5  float64 `json:"load_5"`
	Load15 float64 `json:"load_15"`

	GPUs []GPUInfo `json:"gpus,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers host metrics. GPU discovery is cached after the first
// call because device enumeration is slow on some platforms.
type Collector struct {
	diskPath string
	log      *logging.Logger

	gpuOnce sync.Once
	gpus    []GPUInfo
}

// NewCollector creates a collector. diskPath is the directory whose
// filesystem should be measured, normally the workflow state root.
func NewCollector(diskPath string, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.NewNop()
	}
	return &Collector{diskPath: diskPath, log: log}
}

// Collect gathers a snapshot. Individual probes are best effort: a failed
// probe logs at debug and leaves its fields zero rather than failing the
// whole snapshot.
func (c *Collector) Collect(ctx context.Context) *HostMetrics {
	m := &HostMetrics{
		DiskPath:    c.diskPath,
		CollectedAt: time.Now().UTC(),
	}

	c.collectCPU(ctx, m)
	c.collectMemory(m)
	c.collectDisk(m)
	c.collectLoad(m)
	m.GPUs = c.GPUs(ctx)

	return m
}

func (c *Collector) collectCPU(ctx context.Context, m *HostMetrics) {
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		m.CPUModel = strings.TrimSpace(infos[0].ModelName)
	} else if err != nil {
		c.log.Debug("cpu info unavailable", "error", err)
	}
	if cores, err := cpu.Counts(false); err == nil {
		m.CPUCores = cores
	}
	if threads, err := cpu.Counts(true); err == nil {
		m.CPUThreads = threads
	}
}

func (c *Collector) collectMemory(m *HostMetrics) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		c.log.Debug("memory probe failed", "error", err)
		return
	}
	m.MemoryTotalMB = vm.Total / (1024 * 1024)
	m.MemoryAvailableMB = vm.Available / (1024 * 1024)
	m.MemoryUsedPercent = vm.UsedPercent
}

func (c *Collector) collectDisk(m *HostMetrics) {
	usage, err := disk.Usage(c.diskPath)
	if err != nil {
		c.log.Debug("disk probe failed", "path", c.diskPath, "error", err)
		return
	}
	const gb = 1024 * 1024 * 1024
	m.DiskTotalGB = float64(usage.Total) / gb
	m.DiskFreeGB = float64(usage.Free) / gb
	m.DiskUsedPercent = usage.UsedPercent
}

func (c *Collector) collectLoad(m *HostMetrics) {
	avg, err := load.Avg()
	if err != nil {
		c.log.Debug("load probe failed", "error", err)
		return
	}
	m.Load1 = avg.Load1
	m.Load5 = avg.Load5
	m.Load15 = avg.Load15
}

// GPUs returns detected GPUs, preferring nvidia-smi for memory detail and
// falling back to PCI enumeration via ghw. The result is cached.
func (c *Collector) GPUs(ctx context.Context) []GPUInfo {
	c.gpuOnce.Do(func() {
		if gpus := queryNvidiaSMI(ctx); len(gpus) > 0 {
			c.gpus = gpus
			return
		}
		c.gpus = queryGhwGPU()
	})
	return c.gpus
}

func queryNvidiaSMI(ctx context.Context) []GPUInfo {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil
	}

	var gpus []GPUInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		info := GPUInfo{
			Name:   strings.TrimSpace(parts[0]),
			Vendor: "NVIDIA",
		}
		if memMB, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			info.MemoryMB = memMB
		}
		gpus = append(gpus, info)
	}
	return gpus
}

func queryGhwGPU() []GPUInfo {
	gpu, err := ghw.GPU()
	if err != nil || gpu == nil {
		return nil
	}
	var gpus []GPUInfo
	for _, card := range gpu.GraphicsCards {
		if card == nil || card.DeviceInfo == nil {
			continue
		}
		info := GPUInfo{}
		if card.DeviceInfo.Product != nil {
			info.Name = card.DeviceInfo.Product.Name
		}
		if card.DeviceInfo.Vendor != nil {
			info.Vendor = card.DeviceInfo.Vendor.Name
		}
		if info.Name == "" && info.Vendor == "" {
			continue
		}
		gpus = append(gpus, info)
	}
	return gpus
}
