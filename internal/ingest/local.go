package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Metric names emitted by the local host sampler.
const (
	MetricCPUUsagePercent   = "cpu_usage_percent"
	MetricMemoryUsedPercent = "memory_used_percent"
	MetricSwapUsedPercent   = "swap_used_percent"
	MetricLoad1             = "load1"
	MetricDiskUsedPercent   = "disk_used_percent"
)

// LocalSource samples the host the engine runs on. Individual probes that
// fail are skipped so a missing swap device or unreadable mount does not
// stall the whole loop.
type LocalSource struct {
	mount  string
	logger *slog.Logger
}

// NewLocalSource creates a host sampler reading disk usage from the root mount.
func NewLocalSource(logger *slog.Logger) *LocalSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSource{mount: "/", logger: logger}
}

// Name identifies this source in logs and metrics.
func (s *LocalSource) Name() string { return "local" }

// Collect samples CPU, memory, swap, load and disk usage. It fails only
// when no probe produced a value at all.
func (s *LocalSource) Collect(ctx context.Context) (models.MetricSnapshot, error) {
	metrics := make(map[string]float64, 5)

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		metrics[MetricCPUUsagePercent] = percents[0]
	} else if err != nil {
		s.logger.Debug("cpu probe failed", slog.Any("error", err))
	}

	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics[MetricMemoryUsedPercent] = vmem.UsedPercent
	} else {
		s.logger.Debug("memory probe failed", slog.Any("error", err))
	}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		metrics[MetricSwapUsedPercent] = swap.UsedPercent
	} else {
		s.logger.Debug("swap probe failed", slog.Any("error", err))
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics[MetricLoad1] = avg.Load1
	} else {
		s.logger.Debug("load probe failed", slog.Any("error", err))
	}

	if usage, err := disk.UsageWithContext(ctx, s.mount); err == nil {
		metrics[MetricDiskUsedPercent] = usage.UsedPercent
	} else {
		s.logger.Debug("disk probe failed", slog.String("mount", s.mount), slog.Any("error", err))
	}

	if len(metrics) == 0 {
		return models.MetricSnapshot{}, fmt.Errorf("no host metrics available")
	}

	snapshot := models.MetricSnapshot{Timestamp: time.Now().UTC(), Metrics: metrics}
	if err := snapshot.Validate(); err != nil {
		return models.MetricSnapshot{}, fmt.Errorf("host snapshot: %w", err)
	}
	return snapshot, nil
}
