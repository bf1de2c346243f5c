// SPDX-License-Identifier: MIT

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
	"github.com/picommcapp/kiosk-supervisor/internal/metrics"
)

// streamProbeOutput is the JSON object the opaque stream-quality probe
// subprocess emits on stdout. Only the fields exposed as gauges are used;
// the probe's audio fields and elapsed-analysis-seconds are accepted but
// not currently surfaced.
type streamProbeOutput struct {
	BitrateKbps    float64 `json:"bitrate_kbps"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	FramerateFPS   float64 `json:"framerate_fps"`
	AudioChannels  int     `json:"audio_channels"`
	AudioSampleHz  int     `json:"audio_sample_rate_hz"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// CurrentURLFunc reports the stream URL the API client most recently saw,
// and whether one is currently known at all.
type CurrentURLFunc func() (url string, ok bool)

// Stream runs the opaque stream-quality probe subprocess against the
// currently known playback URL. Two instances never run concurrently: a
// tick that finds the previous probe still running is skipped rather
// than queued or run in parallel.
type Stream struct {
	cfg        config.StreamProbeConfig
	collector  *metrics.Collector
	logger     *slog.Logger
	currentURL CurrentURLFunc

	running atomic.Bool
}

// NewStream builds a Stream probe.
func NewStream(cfg config.StreamProbeConfig, currentURL CurrentURLFunc, collector *metrics.Collector, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{cfg: cfg, collector: collector, logger: logger, currentURL: currentURL}
}

// Name identifies this task to the supervision tree.
func (s *Stream) Name() string { return "stream-probe" }

// Run fires on cfg.Interval until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Stream) tick(ctx context.Context) {
	url, ok := s.currentURL()
	if !ok || url == "" {
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("stream probe: previous run still in flight, skipping this tick")
		return
	}
	defer s.running.Store(false)

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.runOnce(runCtx, url)
	if err != nil {
		s.logger.Warn("stream probe: run failed", "err", err)
		return
	}

	s.collector.SetStreamProbe(out.BitrateKbps, out.Width, out.Height, out.FramerateFPS)
}

func (s *Stream) runOnce(ctx context.Context, url string) (*streamProbeOutput, error) {
	cmd := exec.CommandContext(ctx, s.cfg.Command, append(append([]string{}, s.cfg.Args...), url)...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, err
	}

	var out streamProbeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
