// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

/*
runtime.go - Player Sync Runtime Lifecycle and Orchestration

The Runtime is the top-level coordinator running on each unattended display.
It owns lifecycle (Start/Stop), drives the heartbeat and command-poll
timers, attaches the push manager for instant updates when configured, and
dispatches administrative commands.

Background loops started:
  - Heartbeat (extended: liveness + player version + content fingerprint)
  - Command poll (backup delivery path for commands; push is the fast path)
  - Initial content fetch (push triggers and reload commands refresh later)

Liveness design: every network interaction is bounded (retry counts, delay
ceilings) per operation, but the runtime as a whole recovers indefinitely -
nothing in here terminates the host process.
*/
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signhaus/playerd/internal/backoff"
	"github.com/signhaus/playerd/internal/command"
	"github.com/signhaus/playerd/internal/connectivity"
	"github.com/signhaus/playerd/internal/content"
	"github.com/signhaus/playerd/internal/logging"
	"github.com/signhaus/playerd/internal/metrics"
	"github.com/signhaus/playerd/internal/models"
	"github.com/signhaus/playerd/internal/push"
	"github.com/signhaus/playerd/internal/store"
)

// API is the server surface the runtime itself consumes. The content
// fetcher and command dispatcher hold their own narrower views.
type API interface {
	content.API
	command.Reporter
	Heartbeat(ctx context.Context, deviceID string) error
	PollCommand(ctx context.Context, deviceID string) (*models.Command, error)
	UpdateDeviceStatus(ctx context.Context, deviceID, playerVersion, fingerprint string) (*models.StatusAck, error)
}

// Broadcaster pushes live status events to local debug clients. Implemented
// by wshub.Hub; nil disables broadcasting.
type Broadcaster interface {
	BroadcastJSON(messageType string, data any)
}

// fetchRetryAttempts bounds the live-fetch retry loop before the offline
// cache takes over. The upstream behavior varied per call site; one bounded
// constant is used everywhere here.
const fetchRetryAttempts = 3

// requestTimeout bounds the individual heartbeat and poll requests inside
// their loops.
const requestTimeout = 10 * time.Second

// Config carries the device identity, the interval constants, and the
// callbacks into the host player application.
type Config struct {
	DeviceID      string
	PlayerVersion string

	HeartbeatInterval   time.Duration // default 30s
	CommandPollInterval time.Duration // default 15s

	// OnContent is invoked whenever the effective content changes
	// (fingerprint differs from the last applied snapshot). offline
	// reports whether the snapshot came from the cache.
	OnContent func(snap *models.ContentSnapshot, offline bool)

	// OnError receives terminal fetch failures (retries exhausted, cache
	// empty). The runtime keeps running and tries again on later triggers.
	OnError func(err error)

	// OnScreenshotRequest fires when the server asks for a fresh
	// screenshot in a heartbeat ack.
	OnScreenshotRequest func()

	// Restart and ResetState are handed to the command dispatcher.
	Restart    func()
	ResetState func() error
}

// Status is a point-in-time view of the runtime for the local status
// endpoint.
type Status struct {
	Running            bool                `json:"running"`
	Connectivity       connectivity.Status `json:"connectivity"`
	ContentFingerprint string              `json:"content_fingerprint,omitempty"`
	LastSyncAt         time.Time           `json:"last_sync_at,omitempty"`
	PushChannels       int                 `json:"push_channels"`
}

// Runtime is the player-side sync orchestrator: a state machine over
// {stopped, running}.
type Runtime struct {
	cfg        Config
	api        API
	cache      *store.Store
	fetcher    *content.Fetcher
	dispatcher *command.Dispatcher
	pushMgr    *push.Manager // nil when push is not configured
	monitor    *connectivity.Monitor
	hub        Broadcaster
	policy     backoff.Policy

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	lastFingerprint string
	lastSyncAt      time.Time
	contentUnsub    func() // active-sequence content subscription
	activeSequence  string
}

// fingerprintKey is the metadata cache key persisting the last applied
// fingerprint across restarts, so the first heartbeat after a reboot
// reports what is actually on screen.
func fingerprintKey(deviceID string) string {
	return "fingerprint-" + deviceID
}

// New wires a runtime from its collaborators. pushMgr and hub may be nil.
func New(cfg Config, serverAPI API, cache *store.Store, pushMgr *push.Manager, monitor *connectivity.Monitor, hub Broadcaster) *Runtime {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.CommandPollInterval <= 0 {
		cfg.CommandPollInterval = 15 * time.Second
	}

	r := &Runtime{
		cfg:     cfg,
		api:     serverAPI,
		cache:   cache,
		pushMgr: pushMgr,
		monitor: monitor,
		hub:     hub,
		policy:  backoff.Default(),
	}
	r.fetcher = content.NewFetcher(serverAPI, cache, cfg.DeviceID)
	r.dispatcher = command.NewDispatcher(serverAPI, cache, command.Hooks{
		Restart:    cfg.Restart,
		ResetState: cfg.ResetState,
		RefreshContent: func(ctx context.Context) error {
			_, err := r.FetchContent(ctx)
			return err
		},
	}, r.policy, 0)

	// Connectivity changes feed the gauge and the local debug stream.
	monitor.Subscribe(func(s connectivity.Status) {
		metrics.SetConnectivity(string(s))
		r.broadcast("connectivity", map[string]string{"status": string(s)})
	})

	return r
}

// Start transitions to running: opens the offline cache, starts the
// heartbeat and command-poll loops (both run immediately once, then on
// their intervals), attaches push channels when configured, and kicks off
// the initial content fetch. Idempotent: calling Start while running is a
// no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	logging.Info().Str("device", r.cfg.DeviceID).Msg("player runtime starting")

	// A broken cache degrades to cache-miss behavior; it never blocks the
	// runtime from starting.
	if err := r.cache.Open(); err != nil {
		logging.Warn().Err(err).Msg("offline cache unavailable, continuing without it")
	} else {
		var fp string
		if found, err := r.cache.GetInto(runCtx, fingerprintKey(r.cfg.DeviceID), &fp); err == nil && found {
			r.mu.Lock()
			r.lastFingerprint = fp
			r.mu.Unlock()
		}
	}

	r.wg.Add(2)
	go r.heartbeatLoop(runCtx)
	go r.commandPollLoop(runCtx)

	if r.pushMgr != nil {
		r.attachPush(runCtx)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.FetchContent(runCtx); err != nil && runCtx.Err() == nil {
			logging.Warn().Err(err).Msg("initial content fetch failed")
		}
	}()

	return nil
}

// Stop cancels all loops, tears down push subscriptions, clears the
// command dedup set, and transitions to stopped. Safe to call when never
// started, and safe to call twice.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.cancel = nil
	contentUnsub := r.contentUnsub
	r.contentUnsub = nil
	r.activeSequence = ""
	r.mu.Unlock()

	logging.Info().Str("device", r.cfg.DeviceID).Msg("player runtime stopping")

	if cancel != nil {
		cancel()
	}
	if contentUnsub != nil {
		contentUnsub()
	}
	if r.pushMgr != nil {
		r.pushMgr.UnsubscribeAll()
	}
	r.dispatcher.Reset()
	r.wg.Wait()

	if err := r.cache.Close(); err != nil {
		logging.Warn().Err(err).Msg("offline cache close failed")
	}
	logging.Info().Msg("player runtime stopped")
}

// Serve runs the runtime under a suture supervisor: start, block until the
// supervisor cancels, stop.
func (r *Runtime) Serve(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return ctx.Err()
}

// Running reports the lifecycle state.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Fingerprint returns the fingerprint of the last applied snapshot.
func (r *Runtime) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFingerprint
}

// StatusSnapshot returns the current runtime status for the local API.
func (r *Runtime) StatusSnapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Running:            r.running,
		Connectivity:       r.monitor.Status(),
		ContentFingerprint: r.lastFingerprint,
		LastSyncAt:         r.lastSyncAt,
	}
	if r.pushMgr != nil {
		s.PushChannels = r.pushMgr.OpenChannels()
	}
	return s
}

// FetchContent obtains the current snapshot: live fetch with a bounded
// retry loop, then the offline cache. The connectivity monitor shows
// reconnecting while attempts run and the fetch's resulting online/offline
// status afterward. Only a terminal failure (no cache either) reaches the
// error callback; the runtime stays running and later triggers retry.
func (r *Runtime) FetchContent(ctx context.Context) (*content.Result, error) {
	r.monitor.Set(connectivity.StatusReconnecting)

	var snap *models.ContentSnapshot
	err := r.policy.Retry(ctx, fetchRetryAttempts, func() error {
		s, ferr := r.fetcher.FetchLive(ctx)
		if ferr != nil {
			return ferr
		}
		snap = s
		return nil
	})
	if err == nil {
		r.monitor.Set(connectivity.StatusOnline)
		metrics.ContentFetches.WithLabelValues("live").Inc()
		r.applySnapshot(ctx, snap, false)
		return &content.Result{Snapshot: snap, Offline: false}, nil
	}

	// Discard results of flows that outlived Stop.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if cached, ok := r.fetcher.Cached(ctx); ok {
		r.monitor.Set(connectivity.StatusOffline)
		metrics.ContentFetches.WithLabelValues("cache").Inc()
		logging.Info().Str("device", r.cfg.DeviceID).Msg("network down, showing last-known-good content")
		r.applySnapshot(ctx, cached, true)
		return &content.Result{Snapshot: cached, Offline: true}, nil
	}

	r.monitor.Set(connectivity.StatusOffline)
	metrics.ContentFetches.WithLabelValues("failed").Inc()
	terminal := fmt.Errorf("content fetch failed after %d attempts: %w", fetchRetryAttempts, err)
	logging.Error().Err(terminal).Str("device", r.cfg.DeviceID).Msg("no content available")
	if r.cfg.OnError != nil {
		r.cfg.OnError(terminal)
	}
	return nil, terminal
}

// applySnapshot records a fetched snapshot: fingerprint change detection,
// observer notification, active-sequence push tracking. Duplicate content
// is a cheap no-op, which is what makes racing refresh triggers harmless.
func (r *Runtime) applySnapshot(ctx context.Context, snap *models.ContentSnapshot, offline bool) {
	if ctx.Err() != nil {
		return
	}

	fp := content.Fingerprint(snap)

	r.mu.Lock()
	changed := fp != r.lastFingerprint
	r.lastFingerprint = fp
	r.lastSyncAt = time.Now().UTC()
	r.mu.Unlock()

	if !changed {
		return
	}

	if err := r.cache.Put(ctx, fingerprintKey(r.cfg.DeviceID), fp, store.CategoryMetadata); err != nil {
		logging.Warn().Err(err).Msg("could not persist content fingerprint")
	}

	logging.Info().Str("device", r.cfg.DeviceID).Str("fingerprint", fp).Bool("offline", offline).Msg("content updated")
	if r.cfg.OnContent != nil {
		r.cfg.OnContent(snap, offline)
	}
	r.broadcast("content_update", map[string]any{
		"fingerprint": fp,
		"offline":     offline,
	})

	r.trackActiveSequence(ctx, snap.SequenceID())
}

// trackActiveSequence keeps exactly one content-edit subscription, bound to
// the currently active sequence.
func (r *Runtime) trackActiveSequence(ctx context.Context, sequenceID string) {
	if r.pushMgr == nil {
		return
	}

	r.mu.Lock()
	if sequenceID == r.activeSequence {
		r.mu.Unlock()
		return
	}
	prevUnsub := r.contentUnsub
	r.contentUnsub = nil
	r.activeSequence = sequenceID
	r.mu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}
	if sequenceID == "" {
		return
	}

	unsub, err := r.pushMgr.SubscribeContent(sequenceID, func(models.ContentUpdate) {
		r.triggerFetch(ctx, "content_edited")
	})
	if err != nil {
		logging.Warn().Err(err).Str("sequence", sequenceID).Msg("content push channel unavailable")
		return
	}

	r.mu.Lock()
	if r.running && r.activeSequence == sequenceID {
		r.contentUnsub = unsub
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	unsub() // lost a race with Stop or another sequence change
}

// attachPush opens the command and refresh channels. Push failures degrade
// to polling; they never block startup.
func (r *Runtime) attachPush(ctx context.Context) {
	_, err := r.pushMgr.SubscribeCommands(r.cfg.DeviceID, func(cmd models.Command) {
		if ctx.Err() != nil {
			return
		}
		r.dispatcher.Dispatch(ctx, cmd)
	})
	if err != nil {
		logging.Warn().Err(err).Msg("command push channel unavailable, relying on polling")
	}

	_, err = r.pushMgr.SubscribeRefresh(r.cfg.DeviceID, func(reason models.RefreshReason) {
		logging.Info().Str("reason", string(reason)).Msg("refresh push received")
		r.triggerFetch(ctx, string(reason))
	})
	if err != nil {
		logging.Warn().Err(err).Msg("refresh push channel unavailable, relying on polling")
	}
}

// triggerFetch runs FetchContent in the background for push-driven
// refreshes, keeping push callbacks non-blocking.
func (r *Runtime) triggerFetch(ctx context.Context, reason string) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if _, err := r.FetchContent(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Str("trigger", reason).Msg("triggered content fetch failed")
		}
	}()
}

// heartbeatLoop reports liveness plus the last-known fingerprint on every
// tick, whether or not content changed. Strictly best-effort: a failing
// heartbeat never stalls command execution or fetches.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		r.heartbeat(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runtime) heartbeat(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	ack, err := r.api.UpdateDeviceStatus(hctx, r.cfg.DeviceID, r.cfg.PlayerVersion, r.Fingerprint())
	if err != nil {
		metrics.HeartbeatFailures.Inc()
		logging.Debug().Err(err).Msg("extended heartbeat failed, falling back to liveness ping")
		// Keep the device from going stale server-side even when the
		// status endpoint is broken: a bare ping carries no payload the
		// server could reject.
		if err := r.api.Heartbeat(hctx, r.cfg.DeviceID); err != nil {
			logging.Debug().Err(err).Msg("liveness ping failed")
		}
		return
	}
	if ack != nil && ack.NeedsScreenshotUpdate && r.cfg.OnScreenshotRequest != nil {
		r.cfg.OnScreenshotRequest()
	}
}

// commandPollLoop is the poll half of the dual command delivery. It runs
// immediately once, then on the fixed interval; the dispatcher's dedup set
// reconciles it with push delivery.
func (r *Runtime) commandPollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CommandPollInterval)
	defer ticker.Stop()

	for {
		r.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runtime) pollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, requestTimeout)
	cmd, err := r.api.PollCommand(pctx, r.cfg.DeviceID)
	cancel()
	if err != nil {
		metrics.CommandPollFailures.Inc()
		logging.Debug().Err(err).Msg("command poll failed")
		return
	}
	if cmd == nil || ctx.Err() != nil {
		return
	}
	r.dispatcher.Dispatch(ctx, *cmd)
}

func (r *Runtime) broadcast(messageType string, data any) {
	if r.hub != nil {
		r.hub.BroadcastJSON(messageType, data)
	}
}
