package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubService stands in for the supervised kiosk tasks (tick, probes,
// scrape server): it blocks until cancelled unless told to fail, and
// signals each start/stop so tests can synchronize without sleeping.
type stubService struct {
	name     string
	failWith error
	runCount atomic.Int32
	started  chan struct{}
	stopped  chan struct{}
}

func newStubService(name string) *stubService {
	return &stubService{
		name:    name,
		started: make(chan struct{}, 16),
		stopped: make(chan struct{}, 16),
	}
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Run(ctx context.Context) error {
	s.runCount.Add(1)
	s.started <- struct{}{}
	defer func() { s.stopped <- struct{}{} }()

	if s.failWith != nil {
		return s.failWith
	}

	<-ctx.Done()
	return ctx.Err()
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestNewFillsZeroConfigFromDefaults(t *testing.T) {
	sup := New(Config{})
	require.NotNil(t, sup)
	require.NotNil(t, sup.suture)

	require.Equal(t, 10*time.Second, sup.cfg.ShutdownTimeout)
	require.Equal(t, time.Second, sup.cfg.RestartDelay)
	require.Equal(t, 5*time.Minute, sup.cfg.MaxRestartDelay)
	require.Equal(t, 2.0, sup.cfg.RestartMultiplier)
	require.Equal(t, "kiosk-supervisor", sup.cfg.Name)
}

func TestNewKeepsExplicitConfig(t *testing.T) {
	sup := New(Config{
		Name:              "kiosk-supervisord",
		ShutdownTimeout:   3 * time.Second,
		RestartDelay:      250 * time.Millisecond,
		MaxRestartDelay:   time.Minute,
		RestartMultiplier: 1.5,
	})
	require.Equal(t, 3*time.Second, sup.cfg.ShutdownTimeout)
	require.Equal(t, 250*time.Millisecond, sup.cfg.RestartDelay)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	sup := New(DefaultConfig())

	require.NoError(t, sup.Add(newStubService("supervisor-tick")))
	require.NoError(t, sup.Add(newStubService("scrape-server")))
	require.Equal(t, 2, sup.ServiceCount())

	require.Error(t, sup.Add(newStubService("supervisor-tick")))
	require.Equal(t, 2, sup.ServiceCount())
}

func TestRemove(t *testing.T) {
	sup := New(DefaultConfig())
	require.NoError(t, sup.Add(newStubService("system-probe")))

	require.NoError(t, sup.Remove("system-probe"))
	require.Equal(t, 0, sup.ServiceCount())

	require.Error(t, sup.Remove("system-probe"))
}

func TestStatusBeforeRunIsIdle(t *testing.T) {
	sup := New(DefaultConfig())
	require.NoError(t, sup.Add(newStubService("network-probe")))

	status := sup.Status()
	require.Len(t, status, 1)
	require.Equal(t, "network-probe", status[0].Name)
	require.Equal(t, ServiceStateIdle, status[0].State)
}

func TestRunStartsAndStopsServices(t *testing.T) {
	sup := New(Config{ShutdownTimeout: 2 * time.Second})
	svc := newStubService("supervisor-tick")
	require.NoError(t, sup.Add(svc))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	waitSignal(t, svc.started, "service start")
	require.EqualValues(t, 1, svc.runCount.Load())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	waitSignal(t, svc.stopped, "service stop")
}

func TestRunTwiceErrors(t *testing.T) {
	sup := New(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sup.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	require.Error(t, sup.Run(ctx))

	cancel()
	wg.Wait()
}

func TestFailedServiceRestartsWithBackoff(t *testing.T) {
	var buf bytes.Buffer
	sup := New(Config{
		ShutdownTimeout:   2 * time.Second,
		Logger:            slog.New(slog.NewTextHandler(&buf, nil)),
		RestartDelay:      10 * time.Millisecond,
		MaxRestartDelay:   50 * time.Millisecond,
		RestartMultiplier: 1.5,
	})

	svc := newStubService("stream-probe")
	svc.failWith = errors.New("probe binary missing")
	require.NoError(t, sup.Add(svc))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	for i := 0; i < 4; i++ {
		waitSignal(t, svc.started, "service restart")
	}

	status := sup.Status()
	require.Len(t, status, 1)
	require.GreaterOrEqual(t, status[0].Restarts, 3)
	require.EqualError(t, status[0].LastError, "probe binary missing")

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	require.Contains(t, buf.String(), "stream-probe")
}

func TestBackoffDelayGrowsAndIsCapped(t *testing.T) {
	sup := New(Config{
		RestartDelay:      10 * time.Millisecond,
		MaxRestartDelay:   25 * time.Millisecond,
		RestartMultiplier: 2.0,
	})

	svc := newStubService("stream-probe")
	svc.failWith = errors.New("fail")
	require.NoError(t, sup.Add(svc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	for i := 0; i < 4; i++ {
		waitSignal(t, svc.started, "service restart")
	}

	sup.mu.RLock()
	delay := sup.statuses["stream-probe"].nextDelay
	sup.mu.RUnlock()
	require.Equal(t, 25*time.Millisecond, delay)
}

func TestAddWhileRunningStartsService(t *testing.T) {
	sup := New(Config{ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	svc := newStubService("scrape-server")
	require.NoError(t, sup.Add(svc))
	waitSignal(t, svc.started, "late service start")

	var state ServiceState
	require.Eventually(t, func() bool {
		for _, s := range sup.Status() {
			if s.Name == "scrape-server" {
				state = s.State
				return state == ServiceStateRunning
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "late service never reported running, last state %v", state)
}

func TestStatusTracksUptimeWhileRunning(t *testing.T) {
	sup := New(Config{ShutdownTimeout: 2 * time.Second})
	svc := newStubService("supervisor-tick")
	require.NoError(t, sup.Add(svc))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	waitSignal(t, svc.started, "service start")
	time.Sleep(50 * time.Millisecond)

	status := sup.Status()
	require.Len(t, status, 1)
	require.Equal(t, ServiceStateRunning, status[0].State)
	require.Greater(t, status[0].Uptime, time.Duration(0))

	cancel()
	<-errCh
}

func TestGracefulShutdownStopsAllServices(t *testing.T) {
	sup := New(Config{ShutdownTimeout: 5 * time.Second})

	services := []*stubService{
		newStubService("supervisor-tick"),
		newStubService("system-probe"),
		newStubService("scrape-server"),
	}
	for _, svc := range services {
		require.NoError(t, sup.Add(svc))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	for _, svc := range services {
		waitSignal(t, svc.started, svc.name+" start")
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	for _, svc := range services {
		waitSignal(t, svc.stopped, svc.name+" stop")
	}
}

func TestRemoveWhileRunningStopsService(t *testing.T) {
	sup := New(Config{ShutdownTimeout: 2 * time.Second})
	svc := newStubService("network-probe")
	require.NoError(t, sup.Add(svc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	waitSignal(t, svc.started, "service start")
	require.NoError(t, sup.Remove("network-probe"))
	waitSignal(t, svc.stopped, "service stop after removal")
	require.Equal(t, 0, sup.ServiceCount())
}

func TestConcurrentAddAndStatus(t *testing.T) {
	sup := New(Config{ShutdownTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := sup.Add(newStubService(name)); err != nil {
				t.Errorf("Add(%s): %v", name, err)
			}
		}(name)
	}
	for i := 0; i < len(names); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sup.Status()
		}()
	}
	wg.Wait()

	require.Equal(t, len(names), sup.ServiceCount())

	cancel()
	select {
	case <-errCh:
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestServiceStateString(t *testing.T) {
	cases := map[ServiceState]string{
		ServiceStateIdle:     "idle",
		ServiceStateRunning:  "running",
		ServiceStateStopping: "stopping",
		ServiceStateFailed:   "failed",
		ServiceStateStopped:  "stopped",
		ServiceState(42):     "unknown(42)",
	}
	for state, want := range cases {
		require.Equal(t, want, state.String())
	}
}
