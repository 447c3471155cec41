// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package main is the entry point for the playerd daemon.
//
// Playerd keeps an unattended digital-signage display synchronized with its
// server: it heartbeats, fetches resolved content, executes administrative
// commands, and keeps showing the last-known-good content when the network
// disappears.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered Koanf sources (defaults, YAML file, PLAYERD_* env)
//  2. Logging: zerolog, JSON or console format
//  3. Offline cache: BadgerDB under cache.dir
//  4. Server API client: rate-limited, circuit-broken HTTP client
//  5. Push channels (optional): NATS subscriptions for commands and refreshes
//  6. Sync runtime: heartbeat, command polling, content fetching
//  7. Local API (optional): health, status, metrics, debug stream
//
// Everything runs under a suture supervisor tree; a crash in the local
// diagnostics layer never interrupts synchronization.
//
// # Configuration
//
// Minimal environment for a paired device:
//
//	export PLAYERD_DEVICE_ID=dev-6f3a
//	export PLAYERD_SERVER_URL=https://signage.example.com
//	export PLAYERD_SERVER_TOKEN=...device bearer token...
//	./playerd
//
// Push is enabled by default against nats://127.0.0.1:4222; set
// PLAYERD_PUSH_ENABLED=false to run on polling alone.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: push subscriptions drain,
// loops stop, the cache closes, the local API finishes in-flight requests.
//
// # Restart Semantics
//
// The reboot and reset commands end with the process exiting cleanly after
// its success report has flushed. The host init system (systemd, runit) is
// expected to start playerd again.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/signhaus/playerd/internal/api"
	"github.com/signhaus/playerd/internal/backoff"
	"github.com/signhaus/playerd/internal/config"
	"github.com/signhaus/playerd/internal/connectivity"
	"github.com/signhaus/playerd/internal/localapi"
	"github.com/signhaus/playerd/internal/logging"
	"github.com/signhaus/playerd/internal/player"
	"github.com/signhaus/playerd/internal/push"
	"github.com/signhaus/playerd/internal/store"
	"github.com/signhaus/playerd/internal/supervisor"
	"github.com/signhaus/playerd/internal/wshub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config (and its logging section) never loaded.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("device", cfg.Device.ID).
		Str("server", cfg.Server.URL).
		Bool("push", cfg.Push.Enabled).
		Msg("Starting playerd")

	client := api.NewClient(api.ClientConfig{
		BaseURL:           cfg.Server.URL,
		Token:             cfg.Server.Token,
		Timeout:           cfg.Server.Timeout,
		RequestsPerSecond: float64(cfg.Server.RequestsPerSecond),
	})

	cache := store.New(cfg.Cache.Dir)
	monitor := connectivity.NewMonitor()

	// broadcaster stays the untyped nil when the debug stream is off; a
	// typed-nil *Hub in the interface would defeat the runtime's nil check.
	var hub *wshub.Hub
	var broadcaster player.Broadcaster
	if cfg.Local.Enabled && cfg.Local.DebugStream {
		hub = wshub.NewHub()
		broadcaster = hub
	}

	// Push is best-effort at startup: an unreachable broker leaves the
	// device on polling, it does not prevent the daemon from running.
	var pushMgr *push.Manager
	if cfg.Push.Enabled {
		transport, err := push.DialNATS(cfg.Push.URL)
		if err != nil {
			logging.Warn().Err(err).Str("url", cfg.Push.URL).Msg("Push broker unreachable, polling only")
		} else {
			defer transport.Close()
			pushMgr = push.NewManager(transport, backoff.Default(), cfg.Push.MaxReconnects)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime := player.New(player.Config{
		DeviceID:            cfg.Device.ID,
		PlayerVersion:       cfg.Device.PlayerVersion,
		HeartbeatInterval:   cfg.Intervals.Heartbeat,
		CommandPollInterval: cfg.Intervals.CommandPoll,
		Restart: func() {
			logging.Info().Msg("Restart requested, exiting for init system to relaunch")
			cancel()
		},
	}, client, cache, pushMgr, monitor, broadcaster)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(runtime)
	if hub != nil {
		tree.AddLocalService(hub)
	}
	if cfg.Local.Enabled {
		tree.AddLocalService(localapi.New(cfg.Local.Addr, runtime, hub))
		logging.Info().Str("addr", cfg.Local.Addr).Msg("Local API service added")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Playerd stopped gracefully")
}
