// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"time"
)

// Config represents the complete supervisor configuration. It is loaded
// once at startup and never mutated afterward; there is no hot-reload.
type Config struct {
	// Provider credentials and stream identity (required).
	Provider ProviderConfig `koanf:"provider"`

	// Display holds the still-image paths used by the Holding and Failure modes.
	Display DisplayConfig `koanf:"display"`

	// Poll tunes the supervisor tick cadence and health hysteresis.
	Poll PollConfig `koanf:"poll"`

	// Scrape configures the metrics HTTP endpoint.
	Scrape ScrapeConfig `koanf:"scrape"`

	// Probes configures the three auxiliary probe tasks.
	Probes ProbesConfig `koanf:"probes"`

	// Player configures the external player/viewer subprocess command vectors.
	Player PlayerConfig `koanf:"player"`

	// Log configures the structured-logging sink.
	Log LogConfig `koanf:"log"`
}

// ProviderConfig holds the livestream provider credentials and stream identity.
type ProviderConfig struct {
	BaseURL  string `koanf:"base_url"`
	Token    string `koanf:"token"`
	Key      string `koanf:"key"`
	Secret   string `koanf:"secret"`
	StreamID string `koanf:"stream_id"`
}

// DisplayConfig holds the still-image paths for the non-stream modes.
type DisplayConfig struct {
	HoldingImagePath string `koanf:"holding_image_path"`
	FailureImagePath string `koanf:"failure_image_path"`
}

// PollConfig tunes the supervisor tick and the health tracker's
// hysteresis and backoff.
type PollConfig struct {
	Interval           time.Duration `koanf:"interval_seconds"`
	RequestTimeout     time.Duration `koanf:"request_timeout_seconds"`
	FailureThreshold   uint32        `koanf:"failure_threshold"`
	StabilityThreshold uint32        `koanf:"stability_threshold"`
	MinRetry           time.Duration `koanf:"min_retry_seconds"`
	MaxRetry           time.Duration `koanf:"max_retry_seconds"`
	BackoffEnabled     bool          `koanf:"backoff_enabled"`
}

// ScrapeConfig configures the /metrics HTTP endpoint.
type ScrapeConfig struct {
	BindHost string `koanf:"bind_host"`
	BindPort int    `koanf:"bind_port"`
	Path     string `koanf:"path"`
}

// ProbesConfig configures the three auxiliary probes.
type ProbesConfig struct {
	System  SystemProbeConfig  `koanf:"system"`
	Network NetworkProbeConfig `koanf:"network"`
	Stream  StreamProbeConfig  `koanf:"stream"`
}

type SystemProbeConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval_seconds"`
}

type NetworkProbeConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval_seconds"`
	Hosts       []string      `koanf:"hosts"`
	HostTimeout time.Duration `koanf:"host_timeout_seconds"`
}

type StreamProbeConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval_seconds"`
	Timeout  time.Duration `koanf:"timeout_seconds"`
	Command  string        `koanf:"command"`
	Args     []string      `koanf:"args"`
}

// PlayerConfig parameterizes the subprocess command vectors the display
// controller spawns. Flags are inserted before the final positional
// URL/path argument, so any player or viewer binary with that argument
// shape can be substituted.
type PlayerConfig struct {
	StreamBinary  string   `koanf:"stream_binary"`
	StreamFlags   []string `koanf:"stream_flags"`
	ViewerBinary  string   `koanf:"viewer_binary"`
	ViewerFlags   []string `koanf:"viewer_flags"`
	GraceDuration time.Duration `koanf:"grace_seconds"`
}

// LogConfig configures the structured-logging sink. The supervisor only
// configures the writer; rotation itself is the rotation backend's job.
type LogConfig struct {
	Level         string `koanf:"level"`
	FilePath      string `koanf:"file_path"`
	RotateMaxMB   int    `koanf:"rotate_max_mb"`
	RotateBackups int    `koanf:"rotate_backups"`
}

// DefaultConfig returns the built-in defaults; required fields (provider
// credentials, image paths) are left empty and must come from the
// environment or a config file.
func DefaultConfig() *Config {
	return &Config{
		Poll: PollConfig{
			Interval:           30 * time.Second,
			RequestTimeout:     10 * time.Second,
			FailureThreshold:   3,
			StabilityThreshold: 5,
			MinRetry:           10 * time.Second,
			MaxRetry:           300 * time.Second,
			BackoffEnabled:     true,
		},
		Scrape: ScrapeConfig{
			BindHost: "0.0.0.0",
			BindPort: 9766,
			Path:     "/metrics",
		},
		Probes: ProbesConfig{
			System: SystemProbeConfig{
				Enabled:  true,
				Interval: 10 * time.Second,
			},
			Network: NetworkProbeConfig{
				Enabled:     true,
				Interval:    30 * time.Second,
				HostTimeout: 3 * time.Second,
			},
			Stream: StreamProbeConfig{
				Enabled:  true,
				Interval: 60 * time.Second,
				Timeout:  15 * time.Second,
				Command:  "kiosk-stream-probe",
			},
		},
		Player: PlayerConfig{
			StreamBinary:  "mpv",
			StreamFlags:   []string{"--fullscreen", "--loop-playlist=inf"},
			ViewerBinary:  "mpv",
			ViewerFlags:   []string{"--fullscreen", "--image-display-duration=inf", "--loop-file=inf"},
			GraceDuration: 5 * time.Second,
		},
		Log: LogConfig{
			Level:         "info",
			RotateMaxMB:   100,
			RotateBackups: 5,
		},
	}
}

// Validate checks that required fields are non-empty, image paths exist
// and are readable, intervals are positive, and min <= max. It returns a
// *ValidationError naming the first offending field so the caller can
// pick a distinct exit code per field family.
func (c *Config) Validate() error {
	switch {
	case c.Provider.StreamID == "":
		return &ValidationError{Field: "provider.stream_id", Reason: "must not be empty"}
	case c.Provider.Token == "":
		return &ValidationError{Field: "provider.token", Reason: "must not be empty"}
	case c.Provider.Key == "":
		return &ValidationError{Field: "provider.key", Reason: "must not be empty"}
	case c.Provider.Secret == "":
		return &ValidationError{Field: "provider.secret", Reason: "must not be empty"}
	case c.Provider.BaseURL == "":
		return &ValidationError{Field: "provider.base_url", Reason: "must not be empty"}
	}

	if err := requireReadableImage("display.holding_image_path", c.Display.HoldingImagePath); err != nil {
		return err
	}
	if err := requireReadableImage("display.failure_image_path", c.Display.FailureImagePath); err != nil {
		return err
	}

	if c.Poll.Interval <= 0 {
		return &ValidationError{Field: "poll.interval_seconds", Reason: "must be positive"}
	}
	if c.Poll.RequestTimeout <= 0 {
		return &ValidationError{Field: "poll.request_timeout_seconds", Reason: "must be positive"}
	}
	if c.Poll.FailureThreshold == 0 {
		return &ValidationError{Field: "poll.failure_threshold", Reason: "must be positive"}
	}
	if c.Poll.StabilityThreshold == 0 {
		return &ValidationError{Field: "poll.stability_threshold", Reason: "must be positive"}
	}
	if c.Poll.MinRetry <= 0 {
		return &ValidationError{Field: "poll.min_retry_seconds", Reason: "must be positive"}
	}
	if c.Poll.MaxRetry <= 0 {
		return &ValidationError{Field: "poll.max_retry_seconds", Reason: "must be positive"}
	}
	if c.Poll.MinRetry > c.Poll.MaxRetry {
		return &ValidationError{Field: "poll.min_retry_seconds", Reason: "must not exceed poll.max_retry_seconds"}
	}

	if c.Scrape.BindPort <= 0 || c.Scrape.BindPort > 65535 {
		return &ValidationError{Field: "scrape.bind_port", Reason: "must be a valid TCP port"}
	}

	if c.Probes.System.Enabled && c.Probes.System.Interval <= 0 {
		return &ValidationError{Field: "probes.system.interval_seconds", Reason: "must be positive when enabled"}
	}
	if c.Probes.Network.Enabled && c.Probes.Network.Interval <= 0 {
		return &ValidationError{Field: "probes.network.interval_seconds", Reason: "must be positive when enabled"}
	}
	if c.Probes.Stream.Enabled && c.Probes.Stream.Interval <= 0 {
		return &ValidationError{Field: "probes.stream.interval_seconds", Reason: "must be positive when enabled"}
	}

	if c.Player.StreamBinary == "" {
		return &ValidationError{Field: "player.stream_binary", Reason: "must not be empty"}
	}
	if c.Player.ViewerBinary == "" {
		return &ValidationError{Field: "player.viewer_binary", Reason: "must not be empty"}
	}

	return nil
}

func requireReadableImage(field, path string) error {
	if path == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	f, err := os.Open(path) // #nosec G304 - path is administrator-controlled configuration
	if err != nil {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("not readable: %v", err)}
	}
	_ = f.Close()
	return nil
}

// ValidationError names the offending configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}
