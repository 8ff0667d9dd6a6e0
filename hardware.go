package crashpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// HardwareSnapshot is a point in time capture of the machine a crash happened
// on. Each sub-record is collected independently; a sub-record whose probe
// failed is left at its zero value with Error describing why.
type HardwareSnapshot struct {
	CPU                 CPUInfo      `json:"cpu"`
	Memory              MemoryInfo   `json:"memory"`
	Disk                DiskInfo     `json:"disk"`
	Platform            PlatformInfo `json:"platform"`
	CollectionTimestamp string       `json:"collection_timestamp"`
}

// CPUInfo describes the processors of the host.
type CPUInfo struct {
	Count        int     `json:"count"`
	LogicalCount int     `json:"logical_count"`
	FrequencyMHz float64 `json:"frequency_mhz"`
	Model        string  `json:"model"`
	Error        string  `json:"error,omitempty"`
}

// MemoryInfo describes virtual memory usage in bytes.
type MemoryInfo struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
	Error       string  `json:"error,omitempty"`
}

// DiskInfo describes usage of the volume at Path in bytes.
type DiskInfo struct {
	Path    string  `json:"path"`
	Total   uint64  `json:"total"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
	Error   string  `json:"error,omitempty"`
}

// PlatformInfo describes the operating system and runtime.
type PlatformInfo struct {
	OS        string `json:"os"`
	Release   string `json:"release"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HardwareProbe is a set of independent probes. Any of them may be replaced,
// or set to nil to mark that capability as unavailable.
type HardwareProbe struct {
	CPU      func(ctx context.Context) (CPUInfo, error)
	Memory   func(ctx context.Context) (MemoryInfo, error)
	Disk     func(ctx context.Context) (DiskInfo, error)
	Platform func(ctx context.Context) (PlatformInfo, error)

	Logger logrus.FieldLogger

	now func() time.Time
}

var errProbeUnavailable = fmt.Errorf("probe unavailable")

// NewHardwareProbe returns a probe backed by gopsutil. Disk usage is reported
// for the volume containing diskPath.
func NewHardwareProbe(diskPath string, logger logrus.FieldLogger) *HardwareProbe {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rc := makeRuntimeConstants()
	return &HardwareProbe{
		CPU:      probeCPU,
		Memory:   probeMemory,
		Disk:     func(ctx context.Context) (DiskInfo, error) { return probeDisk(ctx, volumeRoot(diskPath)) },
		Platform: func(ctx context.Context) (PlatformInfo, error) { return probePlatform(ctx, rc) },
		Logger:   logger,
		now:      time.Now,
	}
}

// Collect gathers a snapshot. It never fails: probes that return an error
// or panic degrade their own sub-record only.
func (p *HardwareProbe) Collect(ctx context.Context) HardwareSnapshot {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	snap := HardwareSnapshot{}

	if err := runProbe(ctx, p.CPU, &snap.CPU); err != nil {
		snap.CPU = CPUInfo{Error: err.Error()}
		p.warn("cpu", err)
	}
	if err := runProbe(ctx, p.Memory, &snap.Memory); err != nil {
		snap.Memory = MemoryInfo{Error: err.Error()}
		p.warn("memory", err)
	}
	if err := runProbe(ctx, p.Disk, &snap.Disk); err != nil {
		snap.Disk = DiskInfo{Error: err.Error()}
		p.warn("disk", err)
	}
	if err := runProbe(ctx, p.Platform, &snap.Platform); err != nil {
		snap.Platform = PlatformInfo{Error: err.Error()}
		p.warn("platform", err)
	}

	snap.CollectionTimestamp = FormatTimestamp(now())
	return snap
}

func runProbe[T any](ctx context.Context, probe func(context.Context) (T, error), dst *T) (err error) {
	if probe == nil {
		return errProbeUnavailable
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("probe panicked: %v", p)
		}
	}()
	v, err := probe(ctx)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func (p *HardwareProbe) warn(probe string, err error) {
	if p.Logger == nil {
		return
	}
	p.Logger.WithField("probe", probe).WithError(err).Warn("hardware probe failed")
}

func probeCPU(ctx context.Context) (CPUInfo, error) {
	info := CPUInfo{}
	count, err := cpu.CountsWithContext(ctx, false)
	if err != nil {
		return info, fmt.Errorf("unable to count CPUs: %w", err)
	}
	info.Count = count
	if logical, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.LogicalCount = logical
	}
	// Not every platform reports model and frequency; the counts suffice.
	if stats, err := cpu.InfoWithContext(ctx); err == nil && len(stats) > 0 {
		info.Model = stats[0].ModelName
		info.FrequencyMHz = stats[0].Mhz
	}
	return info, nil
}

func probeMemory(ctx context.Context) (MemoryInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("unable to read virtual memory: %w", err)
	}
	return MemoryInfo{
		Total:       vm.Total,
		Available:   vm.Available,
		Used:        vm.Used,
		UsedPercent: vm.UsedPercent,
	}, nil
}

func probeDisk(ctx context.Context, path string) (DiskInfo, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskInfo{}, fmt.Errorf("unable to read disk usage of %s: %w", path, err)
	}
	return DiskInfo{
		Path:    usage.Path,
		Total:   usage.Total,
		Free:    usage.Free,
		Percent: usage.UsedPercent,
	}, nil
}

func probePlatform(ctx context.Context, rc runtimeConstants) (PlatformInfo, error) {
	info := PlatformInfo{
		OS:        rc.goos,
		Arch:      rc.goarch,
		Hostname:  rc.hostname,
		GoVersion: rc.goVersion,
	}
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return info, fmt.Errorf("unable to read host info: %w", err)
	}
	info.Release = hi.KernelVersion
	if info.Release == "" {
		info.Release = hi.PlatformVersion
	}
	return info, nil
}

// volumeRoot returns the root of the volume that holds path, falling back to
// the volume of the temp directory when path is empty.
func volumeRoot(path string) string {
	if path == "" {
		path = os.TempDir()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.VolumeName(path) + string(filepath.Separator)
}
