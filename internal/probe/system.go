// SPDX-License-Identifier: MIT

// Package probe implements the three auxiliary probe tasks: system,
// network, and stream-quality. Each probe runs on its own independent
// interval, is gated by its own enable flag, and never blocks the
// supervisor tick — it only ever writes gauges on the shared metrics
// collector. A probe failure is logged and leaves the corresponding gauge
// unchanged; it never propagates as an error that would bring down its
// task. The supervising tree only sees Run return when ctx is cancelled.
package probe

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
	"github.com/picommcapp/kiosk-supervisor/internal/metrics"
)

// System samples OS-level counters (CPU, memory, disk, load,
// temperature) via github.com/shirou/gopsutil/v3.
type System struct {
	cfg         config.SystemProbeConfig
	collector   *metrics.Collector
	logger      *slog.Logger
	mountpoints []string
}

// NewSystem builds a System probe. mountpoints defaults to {"/"} when empty.
func NewSystem(cfg config.SystemProbeConfig, mountpoints []string, collector *metrics.Collector, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	if len(mountpoints) == 0 {
		mountpoints = []string{"/"}
	}
	return &System{cfg: cfg, collector: collector, logger: logger, mountpoints: mountpoints}
}

// Name identifies this task to the supervision tree.
func (s *System) Name() string { return "system-probe" }

// Run samples on cfg.Interval until ctx is cancelled. It never returns a
// non-nil error for a sampling failure — only ctx cancellation ends Run.
func (s *System) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *System) sampleOnce(ctx context.Context) {
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.logger.Warn("system probe: cpu sample failed", "err", err)
	} else if len(percents) > 0 {
		s.collector.SetCPUPercent(percents[0])
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Warn("system probe: memory sample failed", "err", err)
	} else {
		s.collector.SetMemoryPercent(vm.UsedPercent)
	}

	for _, mp := range s.mountpoints {
		usage, err := disk.UsageWithContext(ctx, mp)
		if err != nil {
			s.logger.Warn("system probe: disk sample failed", "mountpoint", mp, "err", err)
			continue
		}
		s.collector.SetDiskPercent(mp, usage.UsedPercent)
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		s.logger.Warn("system probe: load sample failed", "err", err)
	} else {
		s.collector.SetLoadAverages(avg.Load1, avg.Load5, avg.Load15)
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err != nil || len(temps) == 0 {
		if err != nil {
			s.logger.Warn("system probe: temperature sample failed", "err", err)
		}
	} else {
		// Single-board computers typically expose one SoC sensor; average
		// across whatever the platform reports rather than guessing which
		// label is canonical.
		var sum float64
		for _, t := range temps {
			sum += t.Temperature
		}
		s.collector.SetTemperatureCelsius(sum / float64(len(temps)))
	}
}
