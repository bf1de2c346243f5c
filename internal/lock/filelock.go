// SPDX-License-Identifier: MIT

//go:build linux

// Package lock guards the kiosk supervisor against running twice. Two
// supervisors on the same machine would fight over the single video output,
// each killing the other's player child, so the process takes an exclusive
// flock(2) on a well-known path before any component is built.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FileLock is the single-instance guard: an exclusive flock(2) on a lock
// file carrying the holder's PID. A lock left behind by a crashed
// supervisor is detected as stale (the recorded PID no longer exists) and
// removed, so an unattended restart never wedges on its own corpse.
type FileLock struct {
	mu   sync.Mutex
	path string
	file *os.File
	pid  int
}

// retryInterval is how often Acquire re-attempts the non-blocking flock
// while waiting out its timeout.
const retryInterval = 100 * time.Millisecond

// NewFileLock prepares a lock at path, creating the parent directory if
// needed. The lock is not held until Acquire succeeds.
func NewFileLock(path string) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}

	// #nosec G301 - the lock directory must be traversable by whichever user
	// the service manager restarts the supervisor as
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	return &FileLock{path: path, pid: os.Getpid()}, nil
}

// Acquire takes the exclusive lock, waiting up to timeout. A timeout of 0
// tries exactly once. A stale lock file (holder PID no longer running) is
// removed before the first attempt.
func (fl *FileLock) Acquire(timeout time.Duration) error {
	return fl.AcquireContext(context.Background(), timeout)
}

// AcquireContext is Acquire with cancellation: the wait loop aborts with
// ctx.Err() if ctx is done before the lock is obtained.
func (fl *FileLock) AcquireContext(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if isStale(fl.path) {
		_ = os.Remove(fl.path)
	}

	// #nosec G302 - 0644 so a second instance (and operators) can read the
	// holder's PID out of the lock file
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return fmt.Errorf("acquire lock after %v: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			_ = file.Close()
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	if err := writePID(file, fl.pid); err != nil {
		_ = file.Close()
		return err
	}

	fl.mu.Lock()
	fl.file = file
	fl.mu.Unlock()
	return nil
}

// Release drops the lock. It errors if the lock is not held.
func (fl *FileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return fmt.Errorf("lock not held")
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	fl.file = nil
	return nil
}

// Close releases the lock if held, and is a no-op otherwise. Suitable for
// a defer on every exit path out of main.
func (fl *FileLock) Close() error {
	fl.mu.Lock()
	held := fl.file != nil
	fl.mu.Unlock()

	if held {
		return fl.Release()
	}
	return nil
}

// writePID records the holder's PID in the lock file, replacing any
// previous holder's.
func writePID(file *os.File, pid int) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", pid); err != nil {
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// isStale reports whether the lock file at path was left behind by a dead
// process. An absent file is not stale; an unreadable, empty, or
// garbage-PID file is; a valid PID is checked for liveness with signal 0.
//
// Liveness is the only criterion. No mtime/age check is applied: a healthy
// supervisor holds its lock for days, and stealing the lock from a live
// process would put two supervisors on the same display.
func isStale(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	// #nosec G304 - the lock path comes from the supervisor's own flags
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}

	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return true
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// FindProcess always succeeds on Unix; signal 0 is the actual check.
	return proc.Signal(syscall.Signal(0)) != nil
}
