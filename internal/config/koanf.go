// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// defaultEnvPrefix is the environment variable prefix for every option
// (e.g. KIOSK_POLL_INTERVAL_SECONDS).
const defaultEnvPrefix = "KIOSK"

// KoanfConfig loads the supervisor configuration from an optional YAML
// file and environment variables, with environment variables taking
// precedence. It is loaded exactly once; no Watch/Reload method is
// exposed, since the running supervisor never picks up config changes.
type KoanfConfig struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig) error

// WithYAMLFile sets an optional lower-precedence YAML configuration file.
func WithYAMLFile(path string) Option {
	return func(kc *KoanfConfig) error {
		kc.filePath = path
		return nil
	}
}

// WithEnvPrefix overrides the environment variable prefix (default "KIOSK").
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) error {
		kc.envPrefix = prefix
		return nil
	}
}

// NewKoanfConfig builds a loader and performs the single load pass.
//
// Precedence (highest to lowest):
//  1. Environment variables (KIOSK_*)
//  2. YAML configuration file, if WithYAMLFile was given
//  3. Built-in defaults (Load starts from DefaultConfig and decodes the
//     loaded layers on top of it)
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: defaultEnvPrefix,
	}

	for _, opt := range opts {
		if err := opt(kc); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := kc.load(); err != nil {
		return nil, err
	}

	return kc, nil
}

// load performs the one-time layered load: YAML file (if configured), then
// environment variables on top.
func (kc *KoanfConfig) load() error {
	newK := koanf.New(".")

	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load YAML file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: kc.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			// k arrives with the KIOSK_ prefix still attached; env.Provider
			// only filters on it, so strip it here.
			k = strings.TrimPrefix(k, kc.envPrefix+"_")
			k = strings.ToLower(k)

			// Known top-level keys, separated from their nested field name:
			// PROVIDER_XXX -> provider.xxx, DISPLAY_XXX -> display.xxx, etc.
			topLevelKeys := []string{"provider_", "display_", "poll_", "scrape_", "player_", "log_"}
			for _, prefix := range topLevelKeys {
				if strings.HasPrefix(k, prefix) {
					rest := strings.TrimPrefix(k, prefix)
					topLevel := strings.TrimSuffix(prefix, "_")
					return topLevel + "." + rest, v
				}
			}

			// PROBES_SYSTEM_XXX / PROBES_NETWORK_XXX / PROBES_STREAM_XXX need
			// one extra level of nesting for the probe family name.
			if strings.HasPrefix(k, "probes_") {
				rest := strings.TrimPrefix(k, "probes_")
				for _, family := range []string{"system_", "network_", "stream_"} {
					if strings.HasPrefix(rest, family) {
						field := strings.TrimPrefix(rest, family)
						return "probes." + strings.TrimSuffix(family, "_") + "." + field, v
					}
				}
				return "probes." + rest, v
			}

			return strings.ReplaceAll(k, "_", "."), v
		},
	})

	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()

	return nil
}

// Load merges the loaded layers onto defaults and validates the result.
// A validation failure carries the offending field name so startup can
// abort with a usable diagnostic.
func (kc *KoanfConfig) Load() (*Config, error) {
	cfg := DefaultConfig()

	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				secondsToDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// secondsToDurationHookFunc decodes the seconds-valued options
// (poll.interval_seconds, player.grace_seconds, ...) into time.Duration.
// Bare numbers are seconds — KIOSK_POLL_INTERVAL_SECONDS=60 means one
// minute — while explicit duration strings like "90s" or "2m" are also
// accepted from YAML.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: want seconds or a duration string", v)
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// GetString retrieves a raw string value, mainly useful in tests and
// diagnostics tooling that want to inspect the merged layer without a full
// struct unmarshal.
func (kc *KoanfConfig) GetString(key string) string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.String(key)
}

// Exists reports whether a configuration key was set by any layer.
func (kc *KoanfConfig) Exists(key string) bool {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.Exists(key)
}
