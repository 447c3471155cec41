// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in order. The
// first existing file wins.
var DefaultConfigPaths = []string{
	"playerd.yaml",
	"playerd.yml",
	"/etc/playerd/config.yaml",
	"/etc/playerd/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "PLAYERD_CONFIG"

// envPrefix namespaces playerd's environment variables, e.g.
// PLAYERD_DEVICE_ID, PLAYERD_SERVER_URL.
const envPrefix = "PLAYERD_"

// defaultConfig is the baseline every deployment starts from; the file and
// environment layers override it.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			PlayerVersion: "dev",
		},
		Server: ServerConfig{
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
		},
		Push: PushConfig{
			Enabled:       true,
			URL:           "nats://127.0.0.1:4222",
			MaxReconnects: 10,
		},
		Cache: CacheConfig{
			Dir: "/var/lib/playerd/cache",
		},
		Intervals: IntervalsConfig{
			Heartbeat:   30 * time.Second,
			CommandPoll: 15 * time.Second,
		},
		Local: LocalConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:8899",
			DebugStream: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from layered sources:
//  1. built-in defaults
//  2. optional YAML config file
//  3. PLAYERD_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// PLAYERD_INTERVALS_COMMAND_POLL maps onto intervals.command_poll;
	// section names are single words so the first underscore is the
	// section separator and the rest stay as the key.
	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		// A bare PLAYERD_FOO has no section; skip it rather than let
		// stray variables pollute the config.
		return ""
	}
	return section + "." + rest
}
