// SPDX-License-Identifier: MIT

// Package display decides which of the three display modes should be
// showing, reconciles a single child process against that decision, and
// handles graceful termination and crash recovery of the player.
package display

import (
	"github.com/picommcapp/kiosk-supervisor/internal/healthtracker"
	"github.com/picommcapp/kiosk-supervisor/internal/provider"
)

// Kind discriminates the three display modes.
type Kind int

const (
	// KindHolding shows the configured holding still image.
	KindHolding Kind = iota
	// KindFailure shows the configured failure still image.
	KindFailure
	// KindStream plays the live stream at URL.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindHolding:
		return "holding"
	case KindFailure:
		return "failure"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Mode is the display decision for one tick. URL is only meaningful when
// Kind == KindStream.
type Mode struct {
	Kind Kind
	URL  string
}

// Equal reports whether two modes would result in the same running child.
// Stream modes compare by URL: a changed URL means a respawn.
func (m Mode) Equal(other Mode) bool {
	if m.Kind != other.Kind {
		return false
	}
	if m.Kind == KindStream {
		return m.URL == other.URL
	}
	return true
}

// Decide picks the desired mode: failure mode always wins, a parsed
// playback URL selects Stream, and anything else (including a successful
// response without a playback URL) falls back to Holding. Errors below
// the failure threshold show the holding image, not the failure image,
// so a flaky provider reads the same as one reporting "offline".
func Decide(health healthtracker.View, outcome provider.Outcome) Mode {
	if health.InFailureMode {
		return Mode{Kind: KindFailure}
	}
	if url, ok := outcome.URL(); ok {
		return Mode{Kind: KindStream, URL: url}
	}
	return Mode{Kind: KindHolding}
}
