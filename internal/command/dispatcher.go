// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package command executes server-issued administrative commands and
// guarantees each observed command gets exactly one result report.
//
// Commands arrive on two redundant paths, a fixed-interval poll and the
// push channel, and both funnel into Dispatch. The redundancy is deliberate
// (liveness under flaky push); the in-flight marker per command id is what
// makes a poll/push race harmless.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signhaus/playerd/internal/backoff"
	"github.com/signhaus/playerd/internal/logging"
	"github.com/signhaus/playerd/internal/metrics"
	"github.com/signhaus/playerd/internal/models"
)

// Reporter delivers command results to the server.
type Reporter interface {
	ReportCommandResult(ctx context.Context, commandID string, success bool, errMsg string) error
}

// Cache is the slice of the offline store the dispatcher needs.
type Cache interface {
	Clear(ctx context.Context) error
}

// Hooks are the side effects the host player wires in. Any nil hook is a
// logged no-op, so the dispatcher stays testable without a real display
// process.
type Hooks struct {
	// Restart reloads the player process. Called after the result report
	// has been given a grace delay to flush.
	Restart func()

	// ResetState wipes local state beyond the content cache (pairing kept).
	ResetState func() error

	// RefreshContent re-runs the content fetch and notifies the content
	// observer. Used by the reload command.
	RefreshContent func(ctx context.Context) error
}

// Dispatcher executes commands idempotently per command id.
type Dispatcher struct {
	reporter   Reporter
	cache      Cache
	hooks      Hooks
	policy     backoff.Policy
	graceDelay time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// reportAttempts bounds the retries for delivering one result report.
const reportAttempts = 3

// defaultGraceDelay lets a reboot's success report flush before the process
// goes away.
const defaultGraceDelay = 2 * time.Second

// NewDispatcher creates a dispatcher. graceDelay <= 0 selects the default.
func NewDispatcher(reporter Reporter, cache Cache, hooks Hooks, policy backoff.Policy, graceDelay time.Duration) *Dispatcher {
	if graceDelay <= 0 {
		graceDelay = defaultGraceDelay
	}
	return &Dispatcher{
		reporter:   reporter,
		cache:      cache,
		hooks:      hooks,
		policy:     policy,
		graceDelay: graceDelay,
		inflight:   make(map[string]struct{}),
	}
}

// Dispatch executes one command. A second dispatch of the same command id,
// from either delivery path, is suppressed; the first observation is the
// only one that executes and reports. Execution failures, including panics
// in hooks, always end in a failure report - a command is never left
// unreported.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd models.Command) {
	d.mu.Lock()
	if _, seen := d.inflight[cmd.ID]; seen {
		d.mu.Unlock()
		logging.Debug().Str("command", cmd.ID).Msg("duplicate command dispatch suppressed")
		return
	}
	d.inflight[cmd.ID] = struct{}{}
	d.mu.Unlock()

	logging.Info().Str("command", cmd.ID).Str("type", string(cmd.Type)).Msg("executing command")

	// One report per dispatch, no matter which path gets there first:
	// handlers that must report before their side effect (reboot, reset)
	// call this early, the fallthrough at the bottom covers the rest, and
	// the panic recovery can never double-report.
	reported := false
	reportOnce := func(success bool, errMsg string) {
		if reported {
			return
		}
		reported = true
		status := "success"
		if !success {
			status = "failure"
		}
		metrics.Commands.WithLabelValues(string(cmd.Type), status).Inc()
		d.report(ctx, cmd.ID, success, errMsg)
	}

	d.execute(ctx, cmd, reportOnce)
}

// execute runs the command body. Reboot and reset report before their
// restart effect so the report has a chance to flush; everything else
// reports its outcome at the end.
func (d *Dispatcher) execute(ctx context.Context, cmd models.Command, reportOnce func(bool, string)) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("command", cmd.ID).Str("panic", fmt.Sprint(r)).Msg("command handler panicked")
			reportOnce(false, fmt.Sprintf("command handler panic: %v", r))
		}
	}()

	switch cmd.Type {
	case models.CommandReboot:
		reportOnce(true, "")
		d.restartAfterGrace(ctx)

	case models.CommandReload:
		reportOnce(true, "")
		if d.hooks.RefreshContent != nil {
			if err := d.hooks.RefreshContent(ctx); err != nil {
				// The reload was accepted; the refresh itself retries on
				// the next trigger.
				logging.Warn().Err(err).Str("command", cmd.ID).Msg("reload refresh failed")
			}
		}

	case models.CommandClearCache:
		if err := d.cache.Clear(ctx); err != nil {
			reportOnce(false, fmt.Sprintf("clear cache: %v", err))
			return
		}
		reportOnce(true, "")

	case models.CommandReset:
		if err := d.cache.Clear(ctx); err != nil {
			reportOnce(false, fmt.Sprintf("reset: clear cache: %v", err))
			return
		}
		if d.hooks.ResetState != nil {
			if err := d.hooks.ResetState(); err != nil {
				reportOnce(false, fmt.Sprintf("reset: clear state: %v", err))
				return
			}
		}
		reportOnce(true, "")
		d.restartAfterGrace(ctx)

	default:
		reportOnce(false, fmt.Sprintf("Unknown command type: %s", cmd.Type))
	}
}

// restartAfterGrace waits out the grace delay so the report flushes, then
// invokes the restart hook.
func (d *Dispatcher) restartAfterGrace(ctx context.Context) {
	t := time.NewTimer(d.graceDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}

	if d.hooks.Restart != nil {
		d.hooks.Restart()
	} else {
		logging.Warn().Msg("restart requested but no restart hook configured")
	}
}

// report delivers the result with bounded retry. Exactly one report call
// per dispatch reaches here; delivery failure after retries is logged as
// terminal and left to the server's own timeout handling.
func (d *Dispatcher) report(ctx context.Context, commandID string, success bool, errMsg string) {
	err := d.policy.Retry(ctx, reportAttempts, func() error {
		return d.reporter.ReportCommandResult(ctx, commandID, success, errMsg)
	})
	if err != nil {
		logging.Error().Err(err).Str("command", commandID).Msg("could not deliver command result")
	}
}

// Reset clears the in-flight markers. Called when the runtime stops so a
// restarted runtime starts from a clean dedup set.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.inflight = make(map[string]struct{})
	d.mu.Unlock()
}
