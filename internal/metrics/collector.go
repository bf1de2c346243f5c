// SPDX-License-Identifier: MIT

// Package metrics owns the four metric families (supervisor, display,
// system probes, network/stream probes), updated non-blockingly from the
// supervisor tick and the independent probe tasks, and exposed in
// Prometheus plain-text exposition format. Registration happens once in
// New; every Set*/Incr* call after that is safe to call concurrently from
// any task, since the underlying prometheus metric types are themselves
// safe for concurrent use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ModeValue is the enum encoding for the current_mode gauge.
type ModeValue float64

const (
	ModeHolding ModeValue = 0
	ModeFailure ModeValue = 1
	ModeStream  ModeValue = 2
)

// Collector owns the registry and every metric the supervisor exposes.
// It is backed by a client_golang registry so HELP/TYPE lines, label
// escaping, and the exposition format itself come from the library rather
// than fmt.Fprintf.
type Collector struct {
	registry *prometheus.Registry

	startedAt time.Time

	// Supervisor family.
	up                      prometheus.Gauge
	uptimeSeconds           prometheus.GaugeFunc
	apiRequestsTotal        prometheus.Counter
	apiErrorsTotal          *prometheus.CounterVec // label: kind
	consecutiveErrors       prometheus.Gauge
	secondsSinceLastSuccess prometheus.Gauge
	currentPollInterval     prometheus.Gauge
	inFailureMode           prometheus.Gauge

	// Display family.
	currentMode          prometheus.Gauge
	processRestartsTotal *prometheus.CounterVec // label: mode
	spawnFailuresTotal   prometheus.Counter
	streamUptimeSeconds  prometheus.Gauge

	// System probe family (optional).
	cpuPercent      prometheus.Gauge
	memoryPercent   prometheus.Gauge
	diskPercent     *prometheus.GaugeVec // label: mountpoint
	temperatureC    prometheus.Gauge
	load1           prometheus.Gauge
	load5           prometheus.Gauge
	load15          prometheus.Gauge

	// Network & stream probe family (optional).
	networkReachable   *prometheus.GaugeVec // label: host
	networkLatencyMs   *prometheus.GaugeVec // label: host
	streamBitrateKbps  prometheus.Gauge
	streamWidthPixels  prometheus.Gauge
	streamHeightPixels prometheus.Gauge
	streamFramerateFps prometheus.Gauge
}

// New builds a Collector with a private registry (not the global default,
// so tests and multiple supervisors in one process never collide) and
// registers every metric up front.
func New() *Collector {
	reg := prometheus.NewRegistry()
	startedAt := time.Now()

	c := &Collector{
		registry:  reg,
		startedAt: startedAt,

		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "up", Help: "1 if the supervisor is running.",
		}),
		apiRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_requests_total", Help: "Total provider API requests issued.",
		}),
		apiErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total", Help: "Total provider API errors, by outcome kind.",
		}, []string{"kind"}),
		consecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consecutive_errors", Help: "Current consecutive API error streak.",
		}),
		secondsSinceLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seconds_since_last_success", Help: "Seconds since the last successful API response.",
		}),
		currentPollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "current_poll_interval_seconds", Help: "Current interval before the next poll.",
		}),
		inFailureMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "in_failure_mode", Help: "1 if the health tracker is in failure mode.",
		}),

		currentMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "current_mode", Help: "Current display mode: 0=holding, 1=failure, 2=stream.",
		}),
		processRestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "process_restarts_total", Help: "Total display child (re)spawns, by mode.",
		}, []string{"mode"}),
		spawnFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spawn_failures_total", Help: "Total display child spawn failures.",
		}),
		streamUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stream_uptime_seconds", Help: "Seconds since the current display child was spawned.",
		}),

		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_percent", Help: "System CPU utilization percent.",
		}),
		memoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_percent", Help: "System memory utilization percent.",
		}),
		diskPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "disk_percent", Help: "Filesystem utilization percent, by mountpoint.",
		}, []string{"mountpoint"}),
		temperatureC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "temperature_celsius", Help: "System temperature in Celsius.",
		}),
		load1:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "load_1", Help: "1-minute load average."}),
		load5:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "load_5", Help: "5-minute load average."}),
		load15: prometheus.NewGauge(prometheus.GaugeOpts{Name: "load_15", Help: "15-minute load average."}),

		networkReachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "network_reachable", Help: "1 if the host responded, by host.",
		}, []string{"host"}),
		networkLatencyMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "network_latency_ms", Help: "Round-trip latency in milliseconds, by host.",
		}, []string{"host"}),
		streamBitrateKbps:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "stream_bitrate_kbps", Help: "Measured stream bitrate in kbps."}),
		streamWidthPixels:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "stream_width_pixels", Help: "Measured stream width in pixels."}),
		streamHeightPixels: prometheus.NewGauge(prometheus.GaugeOpts{Name: "stream_height_pixels", Help: "Measured stream height in pixels."}),
		streamFramerateFps: prometheus.NewGauge(prometheus.GaugeOpts{Name: "stream_framerate_fps", Help: "Measured stream frame rate in fps."}),
	}

	c.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "uptime_seconds", Help: "Seconds since the supervisor started.",
	}, func() float64 { return time.Since(startedAt).Seconds() })

	c.registry.MustRegister(
		c.up, c.uptimeSeconds, c.apiRequestsTotal, c.apiErrorsTotal, c.consecutiveErrors,
		c.secondsSinceLastSuccess, c.currentPollInterval, c.inFailureMode,
		c.currentMode, c.processRestartsTotal, c.spawnFailuresTotal, c.streamUptimeSeconds,
		c.cpuPercent, c.memoryPercent, c.diskPercent, c.temperatureC, c.load1, c.load5, c.load15,
		c.networkReachable, c.networkLatencyMs, c.streamBitrateKbps, c.streamWidthPixels,
		c.streamHeightPixels, c.streamFramerateFps,
	)

	c.up.Set(1)

	return c
}

// Registry exposes the underlying registry for the scrape server.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// --- Supervisor family ---

func (c *Collector) IncrAPIRequest()         { c.apiRequestsTotal.Inc() }
func (c *Collector) IncrAPIError(kind string) { c.apiErrorsTotal.WithLabelValues(kind).Inc() }
func (c *Collector) SetConsecutiveErrors(n uint32) { c.consecutiveErrors.Set(float64(n)) }
func (c *Collector) SetSecondsSinceLastSuccess(d time.Duration) {
	c.secondsSinceLastSuccess.Set(d.Seconds())
}
func (c *Collector) SetCurrentPollInterval(d time.Duration) { c.currentPollInterval.Set(d.Seconds()) }
func (c *Collector) SetInFailureMode(v bool)                { c.inFailureMode.Set(boolToFloat(v)) }

// --- Display family ---

func (c *Collector) SetCurrentMode(v ModeValue)      { c.currentMode.Set(float64(v)) }
func (c *Collector) IncrProcessRestart(mode string)  { c.processRestartsTotal.WithLabelValues(mode).Inc() }
func (c *Collector) IncrSpawnFailure()               { c.spawnFailuresTotal.Inc() }
func (c *Collector) SetStreamUptime(d time.Duration) { c.streamUptimeSeconds.Set(d.Seconds()) }

// --- System probe family ---

func (c *Collector) SetCPUPercent(v float64)    { c.cpuPercent.Set(v) }
func (c *Collector) SetMemoryPercent(v float64) { c.memoryPercent.Set(v) }
func (c *Collector) SetDiskPercent(mountpoint string, v float64) {
	c.diskPercent.WithLabelValues(mountpoint).Set(v)
}
func (c *Collector) SetTemperatureCelsius(v float64) { c.temperatureC.Set(v) }
func (c *Collector) SetLoadAverages(load1, load5, load15 float64) {
	c.load1.Set(load1)
	c.load5.Set(load5)
	c.load15.Set(load15)
}

// --- Network & stream probe family ---

func (c *Collector) SetNetworkReachable(host string, reachable bool) {
	c.networkReachable.WithLabelValues(host).Set(boolToFloat(reachable))
}
func (c *Collector) SetNetworkLatency(host string, d time.Duration) {
	c.networkLatencyMs.WithLabelValues(host).Set(float64(d.Milliseconds()))
}
func (c *Collector) SetStreamProbe(bitrateKbps, widthPixels, heightPixels, framerateFps float64) {
	c.streamBitrateKbps.Set(bitrateKbps)
	c.streamWidthPixels.Set(widthPixels)
	c.streamHeightPixels.Set(heightPixels)
	c.streamFramerateFps.Set(framerateFps)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
