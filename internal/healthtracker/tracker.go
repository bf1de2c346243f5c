// SPDX-License-Identifier: MIT

// Package healthtracker maintains the provider health model:
// consecutive-failure and consecutive-success counting, hysteresis around
// failure-mode entry/exit, and exponential backoff of the polling
// interval. The tracker itself never fails; its state is a pure function
// of the outcome stream.
package healthtracker

import (
	"sync"
	"time"

	"github.com/picommcapp/kiosk-supervisor/internal/provider"
)

// Transition reports a hysteresis edge emitted by OnOutcome, at most once
// per failure or success streak.
type Transition int

const (
	// NoTransition means neither edge fired this tick.
	NoTransition Transition = iota
	// EnteredFailure fires the tick consecutive_failures first reaches
	// the failure threshold.
	EnteredFailure
	// Recovered fires the tick consecutive_successes first reaches the
	// stability threshold while in failure mode.
	Recovered
)

// Config bounds the tracker's hysteresis and backoff behavior.
type Config struct {
	FailureThreshold   uint32
	StabilityThreshold uint32
	PollInterval       time.Duration
	MinRetry           time.Duration
	MaxRetry           time.Duration
	BackoffEnabled     bool
}

// View is a read-only snapshot of the tracker's state, safe to hand to
// the display controller and the metrics collector without exposing the
// guarded fields directly.
type View struct {
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	InFailureMode        bool
	LastErrorKind        provider.Kind
	HasLastError         bool
	LastSuccessAt        time.Time
	HasLastSuccess       bool
	TotalRequests        uint64
	TotalErrors          uint64
	CurrentInterval      time.Duration
}

// Tracker counts outcome streaks and owns the poll-interval backoff. All
// methods are nil-receiver-safe so a *Tracker can be embedded in larger
// structs and queried before initialization without special-casing.
type Tracker struct {
	mu sync.RWMutex

	cfg Config

	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	inFailureMode        bool
	lastErrorKind        provider.Kind
	hasLastError         bool
	lastSuccessAt        time.Time
	hasLastSuccess       bool
	totalRequests        uint64
	totalErrors          uint64
	currentInterval      time.Duration

	now func() time.Time
}

// New builds a Tracker at rest: healthy, not in failure mode, interval at
// the nominal poll interval.
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:             cfg,
		currentInterval: cfg.PollInterval,
		now:             time.Now,
	}
}

// OnOutcome folds one outcome into the counters and returns the
// hysteresis transition, if any, caused by it.
func (t *Tracker) OnOutcome(outcome provider.Outcome) Transition {
	if t == nil {
		return NoTransition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRequests++

	if outcome.Kind == provider.KindOk {
		t.consecutiveFailures = 0
		t.consecutiveSuccesses++
		t.lastSuccessAt = t.now()
		t.hasLastSuccess = true

		if t.inFailureMode && t.consecutiveSuccesses >= t.cfg.StabilityThreshold {
			t.inFailureMode = false
			t.currentInterval = t.cfg.MinRetry
			return Recovered
		}
		// A success that does not yet clear the stability threshold leaves
		// the interval as-is while still in failure mode; outside failure
		// mode the interval is always the nominal poll interval.
		if !t.inFailureMode {
			t.currentInterval = t.cfg.PollInterval
		}
		return NoTransition
	}

	t.consecutiveSuccesses = 0
	t.consecutiveFailures++
	t.totalErrors++
	t.lastErrorKind = outcome.Kind
	t.hasLastError = true

	var transition Transition
	if !t.inFailureMode && t.consecutiveFailures >= t.cfg.FailureThreshold {
		t.inFailureMode = true
		transition = EnteredFailure
	}

	// The interval only grows on failures inside failure mode. Failures
	// that precede entry (still below threshold) keep the nominal poll
	// interval; the entry tick itself starts backoff at MinRetry, and only
	// the failures that follow it double from there.
	switch {
	case transition == EnteredFailure && t.cfg.BackoffEnabled:
		t.currentInterval = t.cfg.MinRetry
	case t.inFailureMode && t.cfg.BackoffEnabled:
		next := t.currentInterval * 2
		if next > t.cfg.MaxRetry || next <= 0 {
			next = t.cfg.MaxRetry
		}
		t.currentInterval = next
	case !t.inFailureMode:
		t.currentInterval = t.cfg.PollInterval
	}

	return transition
}

// NextInterval returns the interval to wait before the next poll. Returns
// 0 if the receiver is nil.
func (t *Tracker) NextInterval() time.Duration {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentInterval
}

// Snapshot returns a read-only View of the tracker's current state.
func (t *Tracker) Snapshot() View {
	if t == nil {
		return View{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	return View{
		ConsecutiveFailures:  t.consecutiveFailures,
		ConsecutiveSuccesses: t.consecutiveSuccesses,
		InFailureMode:        t.inFailureMode,
		LastErrorKind:        t.lastErrorKind,
		HasLastError:         t.hasLastError,
		LastSuccessAt:        t.lastSuccessAt,
		HasLastSuccess:       t.hasLastSuccess,
		TotalRequests:        t.totalRequests,
		TotalErrors:          t.totalErrors,
		CurrentInterval:      t.currentInterval,
	}
}
