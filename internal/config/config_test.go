package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempImage(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "still.png")
	require.NoError(t, os.WriteFile(path, []byte("not-really-a-png"), 0o644))
	return path
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Provider = ProviderConfig{
		BaseURL:  "https://api.example.com",
		Token:    "tok",
		Key:      "key",
		Secret:   "secret",
		StreamID: "stream-1",
	}
	cfg.Display.HoldingImagePath = writeTempImage(t)
	cfg.Display.FailureImagePath = writeTempImage(t)
	return cfg
}

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, uint32(3), cfg.Poll.FailureThreshold)
	require.Equal(t, uint32(5), cfg.Poll.StabilityThreshold)
	require.Equal(t, int64(30), int64(cfg.Poll.Interval.Seconds()))
	require.Equal(t, int64(10), int64(cfg.Poll.RequestTimeout.Seconds()))
	require.Equal(t, int64(10), int64(cfg.Poll.MinRetry.Seconds()))
	require.Equal(t, int64(300), int64(cfg.Poll.MaxRetry.Seconds()))
	require.True(t, cfg.Poll.BackoffEnabled)
	require.Equal(t, "/metrics", cfg.Scrape.Path)
}

func TestValidateRequiresCredentials(t *testing.T) {
	tests := []struct {
		name  string
		break_ func(*Config)
		field string
	}{
		{"missing stream id", func(c *Config) { c.Provider.StreamID = "" }, "provider.stream_id"},
		{"missing token", func(c *Config) { c.Provider.Token = "" }, "provider.token"},
		{"missing key", func(c *Config) { c.Provider.Key = "" }, "provider.key"},
		{"missing secret", func(c *Config) { c.Provider.Secret = "" }, "provider.secret"},
		{"missing base url", func(c *Config) { c.Provider.BaseURL = "" }, "provider.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.break_(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateImagePaths(t *testing.T) {
	cfg := validConfig(t)
	cfg.Display.HoldingImagePath = filepath.Join(t.TempDir(), "missing.png")

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "display.holding_image_path", verr.Field)
}

func TestValidateIntervalsMustBePositive(t *testing.T) {
	cfg := validConfig(t)
	cfg.Poll.Interval = 0

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "poll.interval_seconds", verr.Field)
}

func TestValidateMinRetryMustNotExceedMaxRetry(t *testing.T) {
	cfg := validConfig(t)
	cfg.Poll.MinRetry = 400 * cfg.Poll.MaxRetry

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "poll.min_retry_seconds", verr.Field)
}

func TestValidateScrapePort(t *testing.T) {
	cfg := validConfig(t)
	cfg.Scrape.BindPort = 0

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "scrape.bind_port", verr.Field)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())
}
