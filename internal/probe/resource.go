package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// ResourceSnapshot holds one sample of host utilization. Each metric is
// independently optional: an unavailable metric has its Known flag unset and
// is treated as non-breaching, since missing data cannot count against the
// environment.
type ResourceSnapshot struct {
	CPUPct    float64
	CPUKnown  bool
	MemPct    float64
	MemKnown  bool
	DiskPct   float64
	DiskKnown bool
	Timestamp time.Time
}

// ResourceThresholds are breach limits in percent. Zero disables a limit.
type ResourceThresholds struct {
	CPUPct  float64
	MemPct  float64
	DiskPct float64
}

// Breaches lists the metrics in s exceeding t, formatted for logging.
// Unknown metrics never breach.
func (s ResourceSnapshot) Breaches(t ResourceThresholds) []string {
	var out []string
	if t.CPUPct > 0 && s.CPUKnown && s.CPUPct > t.CPUPct {
		out = append(out, fmt.Sprintf("cpu %.1f%% > %.1f%%", s.CPUPct, t.CPUPct))
	}
	if t.MemPct > 0 && s.MemKnown && s.MemPct > t.MemPct {
		out = append(out, fmt.Sprintf("memory %.1f%% > %.1f%%", s.MemPct, t.MemPct))
	}
	if t.DiskPct > 0 && s.DiskKnown && s.DiskPct > t.DiskPct {
		out = append(out, fmt.Sprintf("disk %.1f%% > %.1f%%", s.DiskPct, t.DiskPct))
	}
	return out
}

// String renders the snapshot for logs, with "unknown" for missing metrics.
func (s ResourceSnapshot) String() string {
	fmtPct := func(v float64, known bool) string {
		if !known {
			return "unknown"
		}
		return fmt.Sprintf("%.1f%%", v)
	}
	return strings.Join([]string{
		"cpu=" + fmtPct(s.CPUPct, s.CPUKnown),
		"mem=" + fmtPct(s.MemPct, s.MemKnown),
		"disk=" + fmtPct(s.DiskPct, s.DiskKnown),
	}, " ")
}

// ResourceProbe samples CPU, memory and disk utilization. Sampling is
// best-effort: a metric the host cannot report is marked unknown rather than
// failing the whole sample.
type ResourceProbe struct {
	diskPath string
	logger   *zap.Logger

	// Injectable for tests.
	cpuFn  func(ctx context.Context) (float64, error)
	memFn  func(ctx context.Context) (float64, error)
	diskFn func(ctx context.Context, path string) (float64, error)
}

// NewResourceProbe creates a probe sampling the filesystem at diskPath
// (defaulting to "/").
func NewResourceProbe(diskPath string, logger *zap.Logger) *ResourceProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &ResourceProbe{
		diskPath: diskPath,
		logger:   logger.Named("resourceprobe"),
		cpuFn:    sampleCPU,
		memFn:    sampleMemory,
		diskFn:   sampleDisk,
	}
}

// Sample takes one snapshot. It never returns an error: failures to read a
// metric leave that metric unknown and are logged at debug level.
func (p *ResourceProbe) Sample(ctx context.Context) ResourceSnapshot {
	snap := ResourceSnapshot{Timestamp: time.Now()}

	if pct, err := p.cpuFn(ctx); err == nil {
		snap.CPUPct = pct
		snap.CPUKnown = true
	} else {
		p.logger.Debug("cpu sample unavailable", zap.Error(err))
	}

	if pct, err := p.memFn(ctx); err == nil {
		snap.MemPct = pct
		snap.MemKnown = true
	} else {
		p.logger.Debug("memory sample unavailable", zap.Error(err))
	}

	if pct, err := p.diskFn(ctx, p.diskPath); err == nil {
		snap.DiskPct = pct
		snap.DiskKnown = true
	} else {
		p.logger.Debug("disk sample unavailable", zap.Error(err))
	}

	return snap
}

func sampleCPU(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu data")
	}
	return pcts[0], nil
}

func sampleMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func sampleDisk(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}
