package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Status grades a doctor check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Result is one doctor check outcome.
type Result struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// OK reports whether the result is not a failure.
func (r Result) OK() bool { return r.Status != StatusFail }

// Worst returns the most severe status across results. An empty slice is ok.
func Worst(results []Result) Status {
	worst := StatusOK
	for _, r := range results {
		switch r.Status {
		case StatusFail:
			return StatusFail
		case StatusWarn:
			worst = StatusWarn
		}
	}
	return worst
}

// BinaryCheck verifies that an executable resolves on PATH.
func BinaryCheck(name, bin string) Result {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Result{
			Name:   name,
			Status: StatusFail,
			Detail: fmt.Sprintf("%s not found on PATH", bin),
		}
	}
	return Result{Name: name, Status: StatusOK, Detail: path}
}

// WritableCheck verifies that a directory exists (creating it if missing)
// and accepts writes.
func WritableCheck(name, dir string) Result {
	if dir == "" {
		return Result{Name: name, Status: StatusFail, Detail: "path not configured"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{
			Name:   name,
			Status: StatusFail,
			Detail: fmt.Sprintf("cannot create %s: %v", dir, err),
		}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Result{
			Name:   name,
			Status: StatusFail,
			Detail: fmt.Sprintf("%s is not writable: %v", dir, err),
		}
	}
	probe.Close()
	os.Remove(probe.Name())
	return Result{Name: name, Status: StatusOK, Detail: filepath.Clean(dir)}
}

// DiskCheck grades free space on the measured filesystem. Below minFreeGB
// is a failure; below twice that is a warning.
func DiskCheck(m *HostMetrics, minFreeGB float64) Result {
	name := "disk space"
	if m == nil || m.DiskTotalGB == 0 {
		return Result{Name: name, Status: StatusWarn, Detail: "disk usage unavailable"}
	}
	detail := fmt.Sprintf("%.1f GB free of %.1f GB on %s", m.DiskFreeGB, m.DiskTotalGB, m.DiskPath)
	switch {
	case m.DiskFreeGB < minFreeGB:
		return Result{Name: name, Status: StatusFail, Detail: detail}
	case m.DiskFreeGB < 2*minFreeGB:
		return Result{Name: name, Status: StatusWarn, Detail: detail}
	}
	return Result{Name: name, Status: StatusOK, Detail: detail}
}

// MemoryCheck grades available memory against what a full swarm batch of
// agent sessions is expected to need.
func MemoryCheck(m *HostMetrics, minAvailableMB uint64) Result {
	name := "memory"
	if m == nil || m.MemoryTotalMB == 0 {
		return Result{Name: name, Status: StatusWarn, Detail: "memory usage unavailable"}
	}
	detail := fmt.Sprintf("%d MB available of %d MB", m.MemoryAvailableMB, m.MemoryTotalMB)
	switch {
	case m.MemoryAvailableMB < minAvailableMB:
		return Result{Name: name, Status: StatusFail, Detail: detail}
	case m.MemoryAvailableMB < 2*minAvailableMB:
		return Result{Name: name, Status: StatusWarn, Detail: detail}
	}
	return Result{Name: name, Status: StatusOK, Detail: detail}
}

// LoadCheck warns when the one-minute load average exceeds the thread
// count, which means new sessions will start slowly.
func LoadCheck(m *HostMetrics) Result {
	name := "system load"
	if m == nil || m.CPUThreads == 0 {
		return Result{Name: name, Status: StatusOK, Detail: "load average unavailable"}
	}
	detail := fmt.Sprintf("load %.2f on %d threads", m.Load1, m.CPUThreads)
	if m.Load1 > float64(m.CPUThreads) {
		return Result{Name: name, Status: StatusWarn, Detail: detail}
	}
	return Result{Name: name, Status: StatusOK, Detail: detail}
}

// GPUCheck is informational: agents run fine without a GPU, so absence is
// still ok.
func GPUCheck(m *HostMetrics) Result {
	name := "gpu"
	if m == nil || len(m.GPUs) == 0 {
		return Result{Name: name, Status: StatusOK, Detail: "none detected"}
	}
	names := make([]string, 0, len(m.GPUs))
	for _, g := range m.GPUs {
		names = append(names, g.Name)
	}
	return Result{Name: name, Status: StatusOK, Detail: joinNonEmpty(names)}
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p
	}
	return out
}
