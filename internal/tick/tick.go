// SPDX-License-Identifier: MIT

// Package tick implements the supervisor loop: the one task that, in
// strict order, reaps a crashed child, fetches one API outcome, updates
// the health tracker, reconciles the display controller, and updates the
// metrics collector, before sleeping until the tracker's next interval.
// Exactly one tick is in flight at a time. Task.Run is a single loop,
// never invoked concurrently with itself.
package tick

import (
	"context"
	"log/slog"
	"time"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
	"github.com/picommcapp/kiosk-supervisor/internal/display"
	"github.com/picommcapp/kiosk-supervisor/internal/healthtracker"
	"github.com/picommcapp/kiosk-supervisor/internal/metrics"
	"github.com/picommcapp/kiosk-supervisor/internal/provider"
)

// Task drives the provider client, health tracker, and display
// controller once per tick, and reports the result to the metrics
// collector.
type Task struct {
	client     *provider.Client
	tracker    *healthtracker.Tracker
	controller *display.Controller
	collector  *metrics.Collector
	cfg        config.PollConfig
	logger     *slog.Logger

	now func() time.Time

	lastURL   string
	lastURLOK bool
}

// New builds a Task wiring the four components together.
func New(client *provider.Client, tracker *healthtracker.Tracker, controller *display.Controller, collector *metrics.Collector, cfg config.PollConfig, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		client:     client,
		tracker:    tracker,
		controller: controller,
		collector:  collector,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Name identifies this task to the supervision tree.
func (t *Task) Name() string { return "supervisor-tick" }

// CurrentURL reports the playback URL from the most recent Ok outcome,
// and whether one is currently known — the hook probe.Stream consumes to
// decide whether it has anything to measure.
func (t *Task) CurrentURL() (string, bool) {
	return t.lastURL, t.lastURLOK
}

// Run executes the tick loop until ctx is cancelled.
func (t *Task) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.tick(ctx)

		interval := t.tracker.NextInterval()
		if interval <= 0 {
			interval = t.cfg.Interval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// tick performs exactly one supervisor tick: reap, fetch, update health,
// reconcile, update metrics — strictly in that order, so the metrics for
// a tick always reflect that tick's health update and reconciliation.
func (t *Task) tick(ctx context.Context) {
	if crashed, crashedMode, exitErr := t.controller.ReapIfExited(); crashed {
		t.logger.Warn("display: child crashed", "mode", crashedMode.Kind, "err", exitErr)
		t.collector.IncrProcessRestart(crashedMode.Kind.String())
	}

	requestTimeout := t.cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	outcome := t.client.Fetch(fetchCtx)
	cancel()

	t.collector.IncrAPIRequest()
	if outcome.Kind != provider.KindOk {
		t.collector.IncrAPIError(outcomeLabel(outcome))
	}

	if url, ok := outcome.URL(); ok {
		t.lastURL, t.lastURLOK = url, true
	} else {
		t.lastURLOK = false
	}

	t.tracker.OnOutcome(outcome)
	view := t.tracker.Snapshot()

	desired := display.Decide(view, outcome)
	event := t.controller.Reconcile(ctx, desired)

	switch event.Action {
	case display.ActionSpawnFailed:
		t.collector.IncrSpawnFailure()
	}

	t.updateMetrics(view, desired)
}

func (t *Task) updateMetrics(view healthtracker.View, desired display.Mode) {
	t.collector.SetConsecutiveErrors(view.ConsecutiveFailures)
	if view.HasLastSuccess {
		t.collector.SetSecondsSinceLastSuccess(t.now().Sub(view.LastSuccessAt))
	}
	t.collector.SetCurrentPollInterval(view.CurrentInterval)
	t.collector.SetInFailureMode(view.InFailureMode)
	t.collector.SetCurrentMode(modeValue(desired))

	if desired.Kind == display.KindStream {
		if spawnedAt, ok := t.controller.SpawnedAt(); ok {
			t.collector.SetStreamUptime(t.now().Sub(spawnedAt))
		}
	} else {
		t.collector.SetStreamUptime(0)
	}
}

func modeValue(m display.Mode) metrics.ModeValue {
	switch m.Kind {
	case display.KindStream:
		return metrics.ModeStream
	case display.KindFailure:
		return metrics.ModeFailure
	default:
		return metrics.ModeHolding
	}
}

// outcomeLabel classifies a non-Ok outcome into its api_errors_total
// label, distinguishing 401/403 (authentication) and 429 (rate limit)
// from other HTTP statuses and transport/timeout/malformed.
func outcomeLabel(o provider.Outcome) string {
	switch o.Kind {
	case provider.KindTransport:
		return "transport_" + o.TransportKind.String()
	case provider.KindHTTP:
		switch o.StatusCode {
		case 401, 403:
			return "authentication"
		case 429:
			return "rate_limit"
		default:
			return "http"
		}
	case provider.KindTimeout:
		return "timeout"
	case provider.KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}
