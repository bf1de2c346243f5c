// Package supervisor wires the long-lived tasks (supervisor tick, system
// probe, network probe, stream probe, scrape server) onto a
// github.com/thejerf/suture/v4 supervision tree.
//
// suture owns service lifecycle and graceful shutdown ordering; this
// package layers a per-service restart-backoff policy (RestartDelay,
// MaxRestartDelay, RestartMultiplier) on top, since suture's own
// failure-threshold/backoff knobs model a fleet-wide failure budget
// rather than a simple growing per-service delay. The delay is applied
// inside the adapter, before each restart's call to Run, so it holds
// regardless of how eagerly suture itself would otherwise retry.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// Service is the interface supervised tasks implement. Run should block
// until ctx is cancelled or the task encounters an unrecoverable error.
type Service interface {
	Run(ctx context.Context) error
	Name() string
}

// ServiceState is a simplified view of a service's lifecycle, independent
// of suture's own event stream.
type ServiceState int

const (
	ServiceStateIdle ServiceState = iota
	ServiceStateRunning
	ServiceStateStopping
	ServiceStateFailed
	ServiceStateStopped
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStateIdle:
		return "idle"
	case ServiceStateRunning:
		return "running"
	case ServiceStateStopping:
		return "stopping"
	case ServiceStateFailed:
		return "failed"
	case ServiceStateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ServiceStatus reports one service's state for diagnostics.
type ServiceStatus struct {
	Name      string
	State     ServiceState
	StartTime time.Time
	Uptime    time.Duration
	Restarts  int
	LastError error

	started    bool          // has Serve been called at least once
	nextDelay  time.Duration // backoff before the next restart
}

// Config contains supervisor configuration.
type Config struct {
	// Name identifies the supervision tree (used by suture for logging).
	Name string

	// ShutdownTimeout bounds how long Run waits for suture's tree to drain
	// after ctx is cancelled.
	ShutdownTimeout time.Duration

	// RestartDelay is the delay before the first restart of a failed
	// service; MaxRestartDelay caps geometric growth by RestartMultiplier
	// on each subsequent restart, reset to RestartDelay on a clean exit.
	RestartDelay      time.Duration
	MaxRestartDelay   time.Duration
	RestartMultiplier float64

	// Logger is optional; if set, supervisor and suture events are logged here.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout:   10 * time.Second,
		RestartDelay:      1 * time.Second,
		MaxRestartDelay:   5 * time.Minute,
		RestartMultiplier: 2.0,
	}
}

// Supervisor adapts Service/Config onto a *suture.Supervisor.
type Supervisor struct {
	cfg    Config
	suture *suture.Supervisor

	mu       sync.RWMutex
	statuses map[string]*ServiceStatus
	tokens   map[string]suture.ServiceToken
	running  bool
}

// New creates a Supervisor with the given configuration, filling in any
// zero-valued field from DefaultConfig.
func New(cfg Config) *Supervisor {
	defaults := DefaultConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaults.RestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = defaults.MaxRestartDelay
	}
	if cfg.RestartMultiplier <= 0 {
		cfg.RestartMultiplier = defaults.RestartMultiplier
	}
	if cfg.Name == "" {
		cfg.Name = "kiosk-supervisor"
	}

	s := &Supervisor{
		cfg:      cfg,
		statuses: make(map[string]*ServiceStatus),
		tokens:   make(map[string]suture.ServiceToken),
	}

	s.suture = suture.New(cfg.Name, suture.Spec{
		EventHook: s.onEvent,
	})

	return s
}

// onEvent logs suture's lifecycle events. Per-service state and restart
// counts are tracked directly by the adapter around each Serve call, so
// this hook only depends on the Event interface's String() method rather
// than the shape of any specific suture event type.
func (s *Supervisor) onEvent(ev suture.Event) {
	s.logf("%s", ev.String())
}

func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(fmt.Sprintf("[Supervisor] "+format, args...))
	}
}

// Add registers a service with the supervisor. If the supervisor is
// already running (Run has been called), the service starts immediately.
func (s *Supervisor) Add(svc Service) error {
	s.mu.Lock()
	name := svc.Name()
	if _, exists := s.statuses[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("service %q already registered", name)
	}
	s.statuses[name] = &ServiceStatus{Name: name, State: ServiceStateIdle, nextDelay: s.cfg.RestartDelay}
	s.mu.Unlock()

	token := s.suture.Add(adapter{svc: svc, sup: s})

	s.mu.Lock()
	s.tokens[name] = token
	s.mu.Unlock()

	s.logf("Added service: %s", name)
	return nil
}

// Remove unregisters and stops a service. The underlying suture service is
// signaled to stop; Run returning is not waited on here.
func (s *Supervisor) Remove(name string) error {
	s.mu.Lock()
	token, exists := s.tokens[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	}
	delete(s.tokens, name)
	delete(s.statuses, name)
	s.mu.Unlock()

	if err := s.suture.Remove(token); err != nil {
		return fmt.Errorf("remove service %q: %w", name, err)
	}

	s.logf("Removed service: %s", name)
	return nil
}

// Status returns the current status of all services.
func (s *Supervisor) Status() []ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ServiceStatus, 0, len(s.statuses))
	now := time.Now()
	for _, st := range s.statuses {
		cp := *st
		if !cp.StartTime.IsZero() && cp.State == ServiceStateRunning {
			cp.Uptime = now.Sub(cp.StartTime)
		}
		result = append(result, cp)
	}
	return result
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.statuses)
}

// Run starts the supervision tree and blocks until ctx is cancelled, then
// waits up to ShutdownTimeout for every service to drain, so shutdown
// completes within a bounded time.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logf("Supervisor started with %d services", s.ServiceCount())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.suture.Serve(runCtx) }()

	<-ctx.Done()
	s.logf("Shutdown signal received, stopping services...")
	cancel()

	select {
	case err := <-done:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logf("All services stopped")
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logf("Shutdown timeout exceeded, some services may not have stopped cleanly")
		return errors.New("shutdown timeout exceeded")
	}
}

// adapter bridges Service onto suture.Service (Serve(ctx) error), applying
// the configured restart backoff before every call after the first.
type adapter struct {
	svc Service
	sup *Supervisor
}

func (a adapter) Serve(ctx context.Context) error {
	name := a.svc.Name()

	a.sup.mu.Lock()
	st, ok := a.sup.statuses[name]
	if !ok {
		st = &ServiceStatus{Name: name, nextDelay: a.sup.cfg.RestartDelay}
		a.sup.statuses[name] = st
	}
	restarting := st.started
	delay := st.nextDelay
	a.sup.mu.Unlock()

	if restarting && delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	a.sup.mu.Lock()
	if restarting {
		st.Restarts++
	}
	st.started = true
	st.State = ServiceStateRunning
	st.StartTime = time.Now()
	a.sup.mu.Unlock()

	err := a.svc.Run(ctx)

	a.sup.mu.Lock()
	st.LastError = err
	switch {
	case ctx.Err() != nil:
		st.State = ServiceStateStopped
		st.nextDelay = a.sup.cfg.RestartDelay
	case err != nil:
		st.State = ServiceStateFailed
		next := time.Duration(float64(st.nextDelay) * a.sup.cfg.RestartMultiplier)
		if next > a.sup.cfg.MaxRestartDelay || next <= 0 {
			next = a.sup.cfg.MaxRestartDelay
		}
		st.nextDelay = next
	default:
		st.State = ServiceStateStopped
		st.nextDelay = a.sup.cfg.RestartDelay
	}
	a.sup.mu.Unlock()

	return err
}

func (a adapter) String() string { return a.svc.Name() }
