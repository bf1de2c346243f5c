// SPDX-License-Identifier: MIT

package display

import (
	"os/exec"
	"time"
)

// handle tracks one spawned child process and the mode it was spawned
// for; the Controller holds at most one at a time.
// A single background goroutine owns cmd.Wait() for the process's entire
// lifetime; both crash detection and the termination sequence observe its
// exit through the exited channel rather than calling Wait() themselves.
type handle struct {
	mode      Mode
	cmd       *exec.Cmd
	spawnedAt time.Time

	exited  chan struct{}
	exitErr error
}

func newHandle(mode Mode, cmd *exec.Cmd) *handle {
	return &handle{
		mode:      mode,
		cmd:       cmd,
		spawnedAt: time.Now(),
		exited:    make(chan struct{}),
	}
}

// watch waits for the process to exit and records its error, then closes
// exited exactly once. Must be started as its own goroutine right after a
// successful cmd.Start().
func (h *handle) watch() {
	h.exitErr = h.cmd.Wait()
	close(h.exited)
}

// hasExited is a non-blocking check, used both for crash detection at
// tick start and to avoid double-signaling an already-dead process during
// termination.
func (h *handle) hasExited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}
