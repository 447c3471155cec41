// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package config loads and validates the playerd configuration from layered
// sources: built-in defaults, an optional YAML file, then environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete playerd configuration.
type Config struct {
	Device    DeviceConfig    `koanf:"device"`
	Server    ServerConfig    `koanf:"server"`
	Push      PushConfig      `koanf:"push"`
	Cache     CacheConfig     `koanf:"cache"`
	Intervals IntervalsConfig `koanf:"intervals"`
	Local     LocalConfig     `koanf:"local"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DeviceConfig identifies this display.
type DeviceConfig struct {
	ID            string `koanf:"id"`
	PlayerVersion string `koanf:"player_version"`
}

// ServerConfig points at the signage server.
type ServerConfig struct {
	URL               string        `koanf:"url"`
	Token             string        `koanf:"token"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond int           `koanf:"requests_per_second"`
}

// PushConfig controls the push notification channels. Disabled devices fall
// back to polling only.
type PushConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	MaxReconnects int    `koanf:"max_reconnects"`
}

// CacheConfig controls the on-disk offline cache.
type CacheConfig struct {
	Dir string `koanf:"dir"`
}

// IntervalsConfig holds the background loop timings.
type IntervalsConfig struct {
	Heartbeat   time.Duration `koanf:"heartbeat"`
	CommandPoll time.Duration `koanf:"command_poll"`
}

// LocalConfig configures the device-local diagnostics API.
type LocalConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Addr        string `koanf:"addr"`
	DebugStream bool   `koanf:"debug_stream"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate rejects configurations the runtime cannot operate with.
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		return fmt.Errorf("server.url must be an http(s) URL, got %q", c.Server.URL)
	}
	if c.Push.Enabled && c.Push.URL == "" {
		return fmt.Errorf("push.url is required when push.enabled is true")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Intervals.Heartbeat <= 0 {
		return fmt.Errorf("intervals.heartbeat must be positive, got %s", c.Intervals.Heartbeat)
	}
	if c.Intervals.CommandPoll <= 0 {
		return fmt.Errorf("intervals.command_poll must be positive, got %s", c.Intervals.CommandPoll)
	}
	if c.Local.Enabled && c.Local.Addr == "" {
		return fmt.Errorf("local.addr is required when local.enabled is true")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	return nil
}
