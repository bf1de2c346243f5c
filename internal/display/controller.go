// SPDX-License-Identifier: MIT

package display

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
	"github.com/picommcapp/kiosk-supervisor/internal/util"
)

// resourceKey names the single tracked child process in the Controller's
// ResourceTracker. At most one child is ever alive, so one key is always
// enough.
const resourceKey = "display-child"

// Action describes what Reconcile did on a tick, for the display metrics.
type Action int

const (
	// ActionNone means the desired mode already matched the running child.
	ActionNone Action = iota
	// ActionSpawned means a child was started where none was running.
	ActionSpawned
	// ActionRespawned means a running child was torn down and a new one
	// started for a different mode.
	ActionRespawned
	// ActionSpawnFailed means exec.Cmd.Start failed; no child is running.
	ActionSpawnFailed
)

// Event reports the outcome of one Reconcile call.
type Event struct {
	Action           Action
	Mode             Mode
	Err              error
	ForcedKill       bool // the outgoing child needed SIGKILL to exit
	TerminationStuck bool // the outgoing child was still alive after both grace periods
}

// Controller owns at most one running child process and reconciles it
// against a Decide()-computed Mode once per supervisor tick. It holds no
// polling loop of its own; the supervisor tick drives it.
type Controller struct {
	mu        sync.Mutex
	current   *handle
	player    config.PlayerConfig
	display   config.DisplayConfig
	logger    *slog.Logger
	resources *util.ResourceTracker
}

// NewController builds a Controller at rest: no child running.
func NewController(player config.PlayerConfig, display config.DisplayConfig, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{player: player, display: display, logger: logger, resources: util.NewResourceTracker()}
}

// LeakedResources reports any process the Controller still believes is
// running. Empty after Shutdown means every spawned child was signaled
// and reaped before its handle was dropped.
func (c *Controller) LeakedResources() []string {
	return c.resources.LeakedResources()
}

// CurrentMode reports the mode of the currently running child, if any.
func (c *Controller) CurrentMode() (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Mode{}, false
	}
	return c.current.mode, true
}

// SpawnedAt reports when the currently running child was spawned, for the
// stream_uptime_seconds gauge.
func (c *Controller) SpawnedAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return time.Time{}, false
	}
	return c.current.spawnedAt, true
}

// ReapIfExited is the non-blocking exit-status poll run at the start of
// every tick, before the new mode decision is computed. A crash clears
// the current handle so the next Reconcile spawns fresh rather than
// treating the dead process as still running.
func (c *Controller) ReapIfExited() (crashed bool, crashedMode Mode, exitErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || !c.current.hasExited() {
		return false, Mode{}, nil
	}

	crashedMode = c.current.mode
	exitErr = c.current.exitErr
	c.current = nil
	c.resources.UntrackProcess(resourceKey)
	return true, crashedMode, exitErr
}

// Reconcile drives the running child to match desired:
//
//	None → X : spawn X
//	X → X    : no-op
//	X → Y    : terminate X (full graceful sequence), then spawn Y
func (c *Controller) Reconcile(ctx context.Context, desired Mode) Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.mode.Equal(desired) {
		return Event{Action: ActionNone, Mode: desired}
	}

	var forcedKill, stuck bool
	hadPrevious := c.current != nil
	if c.current != nil {
		forcedKill, stuck = c.terminateLocked(c.current)
		c.current = nil
		c.resources.UntrackProcess(resourceKey)
	}

	h, err := c.spawnLocked(desired)
	if err != nil {
		c.logger.Error("display: spawn failed", "mode", desired.Kind, "err", err)
		return Event{Action: ActionSpawnFailed, Mode: desired, Err: err, ForcedKill: forcedKill, TerminationStuck: stuck}
	}
	c.current = h

	action := ActionSpawned
	if hadPrevious {
		action = ActionRespawned
	}
	return Event{Action: action, Mode: desired, ForcedKill: forcedKill, TerminationStuck: stuck}
}

// Shutdown tears down the running child, if any, using the same
// termination sequence as a mode transition. Intended for supervisor
// shutdown.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.terminateLocked(c.current)
	c.current = nil
	c.resources.UntrackProcess(resourceKey)
}

// terminateLocked carries out the termination sequence: SIGINT, wait up
// to grace, SIGKILL if still alive, wait up to grace again, and
// log-and-continue if the process is still unreaped. Both signals and
// both waits are attempted on every transition, synchronously: Reconcile
// must not spawn the next child until the outgoing one has been dealt
// with.
func (c *Controller) terminateLocked(h *handle) (forcedKill, stuck bool) {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return false, false
	}
	proc := h.cmd.Process

	if h.hasExited() {
		return false, false
	}

	// ESRCH from signaling an already-exited process is an expected benign
	// race; the error is discarded.
	_ = proc.Signal(os.Interrupt)

	grace := c.player.GraceDuration
	if grace <= 0 {
		grace = 5 * time.Second
	}

	select {
	case <-h.exited:
		return false, false
	case <-time.After(grace):
	}

	forcedKill = true
	_ = proc.Kill()

	select {
	case <-h.exited:
		return forcedKill, false
	case <-time.After(grace):
		c.logger.Warn("display: child still alive after SIGKILL and grace period, continuing", "mode", h.mode.Kind)
		return forcedKill, true
	}
}

// spawnLocked starts the child for mode and begins the background wait
// goroutine. The caller holds c.mu. The command is deliberately not bound
// to a context: the child must outlive any single tick, and teardown goes
// through terminateLocked's graceful sequence, never an abrupt
// context-cancellation kill.
func (c *Controller) spawnLocked(mode Mode) (*handle, error) {
	cmd, err := c.buildCommand(mode)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s process: %w", mode.Kind, err)
	}

	h := newHandle(mode, cmd)
	go h.watch()
	c.resources.TrackProcess(resourceKey, cmd.Process)
	c.logger.Info("display: spawned child", "mode", mode.Kind, "pid", cmd.Process.Pid)
	return h, nil
}

// buildCommand constructs the command vector for mode: the stream player
// for KindStream with the playback URL appended, the viewer binary
// pointed at the holding or failure still image otherwise.
func (c *Controller) buildCommand(mode Mode) (*exec.Cmd, error) {
	switch mode.Kind {
	case KindStream:
		if mode.URL == "" {
			return nil, fmt.Errorf("display: stream mode requires a non-empty URL")
		}
		args := append(append([]string{}, c.player.StreamFlags...), mode.URL)
		return exec.Command(c.player.StreamBinary, args...), nil
	case KindHolding:
		args := append(append([]string{}, c.player.ViewerFlags...), c.display.HoldingImagePath)
		return exec.Command(c.player.ViewerBinary, args...), nil
	case KindFailure:
		args := append(append([]string{}, c.player.ViewerFlags...), c.display.FailureImagePath)
		return exec.Command(c.player.ViewerBinary, args...), nil
	default:
		return nil, fmt.Errorf("display: unknown mode kind %v", mode.Kind)
	}
}
