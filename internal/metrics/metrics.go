// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package metrics instruments the player runtime with Prometheus counters
// and gauges, exposed on the local status endpoint at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ContentFetches counts content fetch outcomes.
	// outcome: live (server answered), cache (served from offline cache),
	// failed (no content available at all).
	ContentFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_content_fetches_total",
		Help: "Content fetch attempts by outcome",
	}, []string{"outcome"})

	// Commands counts executed commands by type and result.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_commands_total",
		Help: "Administrative commands executed by type and status",
	}, []string{"type", "status"})

	// PushReconnects counts reconnect attempts per push concern.
	PushReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_push_reconnects_total",
		Help: "Push channel reconnect attempts by concern",
	}, []string{"concern"})

	// HeartbeatFailures counts failed liveness reports.
	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playerd_heartbeat_failures_total",
		Help: "Heartbeat reports that did not reach the server",
	})

	// CommandPollFailures counts failed command poll requests.
	CommandPollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playerd_command_poll_failures_total",
		Help: "Command poll requests that did not reach the server",
	})

	// Connectivity reports the current connection status:
	// 0=offline, 1=reconnecting, 2=online.
	Connectivity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playerd_connectivity_status",
		Help: "Connection status (0=offline, 1=reconnecting, 2=online)",
	})
)

// SetConnectivity maps a status string onto the connectivity gauge.
func SetConnectivity(status string) {
	switch status {
	case "online":
		Connectivity.Set(2)
	case "reconnecting":
		Connectivity.Set(1)
	default:
		Connectivity.Set(0)
	}
}
