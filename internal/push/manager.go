// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package push maintains the long-lived notification channels that give the
// player near-real-time updates: command inserts, device refresh triggers,
// and edits to content in the active sequence.
//
// Push is an optimization, never the only path. Every concern covered here
// has a poll-based fallback in the runtime, so a channel that exhausts its
// reconnect budget is logged as a terminal failure for that channel only and
// the device stays alive on polling.
package push

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/signhaus/playerd/internal/backoff"
	"github.com/signhaus/playerd/internal/logging"
	"github.com/signhaus/playerd/internal/metrics"
	"github.com/signhaus/playerd/internal/models"
)

// Concern names one class of push notification.
type Concern string

const (
	ConcernCommands Concern = "commands"
	ConcernRefresh  Concern = "refresh"
	ConcernContent  Concern = "content"
)

// Subscription is a live handle to one transport-level channel.
type Subscription interface {
	Unsubscribe() error
}

// Transport abstracts the pub/sub facility (NATS in production, a fake in
// tests). onError reports an asynchronous channel failure; the manager
// reacts by reconnecting with backoff.
type Transport interface {
	Subscribe(subject string, onMessage func([]byte), onError func(error)) (Subscription, error)
	Close()
}

// channelKey identifies one deduplicated channel: (concern, scoping id).
type channelKey struct {
	concern Concern
	scope   string
}

// subject maps a channel key to its transport subject.
func (k channelKey) subject() string {
	switch k.concern {
	case ConcernCommands:
		return "signage.commands." + k.scope
	case ConcernRefresh:
		return "signage.device." + k.scope
	case ConcernContent:
		return "signage.sequence." + k.scope
	}
	return "signage." + string(k.concern) + "." + k.scope
}

// channel is one open subscription plus its interested callbacks. The
// callback count is the reference count: the underlying subscription is torn
// down when the last callback unsubscribes.
type channel struct {
	key          channelKey
	sub          Subscription
	callbacks    map[int]func([]byte)
	nextID       int
	reconnecting bool
	dead         bool
}

// Manager owns the channel registry. At most one subscription exists per
// key; re-subscribing to an open key joins the existing channel. All
// registry mutations happen under one mutex and never straddle a blocking
// transport call's result handling.
type Manager struct {
	transport     Transport
	policy        backoff.Policy
	maxReconnects int

	mu       sync.Mutex
	channels map[channelKey]*channel
	wg       sync.WaitGroup
	stopCh   chan struct{} // re-armed by UnsubscribeAll; guarded by mu
}

// NewManager creates a push manager. maxReconnects bounds the reconnect
// attempts per channel; a non-positive value gets the default of 10.
func NewManager(transport Transport, policy backoff.Policy, maxReconnects int) *Manager {
	if maxReconnects <= 0 {
		maxReconnects = 10
	}
	return &Manager{
		transport:     transport,
		policy:        policy,
		maxReconnects: maxReconnects,
		channels:      make(map[channelKey]*channel),
		stopCh:        make(chan struct{}),
	}
}

// SubscribeCommands delivers inserted commands for the device.
func (m *Manager) SubscribeCommands(deviceID string, fn func(models.Command)) (func(), error) {
	return m.subscribe(channelKey{ConcernCommands, deviceID}, func(data []byte) {
		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			logging.Warn().Err(err).Msg("undecodable command notification")
			return
		}
		fn(cmd)
	})
}

// SubscribeRefresh delivers refresh triggers for the device. The reason tag
// is derived from the previous/new device record carried in the payload.
func (m *Manager) SubscribeRefresh(deviceID string, fn func(models.RefreshReason)) (func(), error) {
	return m.subscribe(channelKey{ConcernRefresh, deviceID}, func(data []byte) {
		var change models.DeviceChange
		if err := json.Unmarshal(data, &change); err != nil {
			logging.Warn().Err(err).Msg("undecodable device change notification")
			return
		}
		fn(change.Reason())
	})
}

// SubscribeContent delivers edit notifications for a sequence's content.
func (m *Manager) SubscribeContent(sequenceID string, fn func(models.ContentUpdate)) (func(), error) {
	return m.subscribe(channelKey{ConcernContent, sequenceID}, func(data []byte) {
		var update models.ContentUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			logging.Warn().Err(err).Msg("undecodable content update notification")
			return
		}
		fn(update)
	})
}

// subscribe joins or opens the channel for key and registers cb. The
// returned unsubscribe function is idempotent; the underlying channel closes
// when the last interested callback leaves.
func (m *Manager) subscribe(key channelKey, cb func([]byte)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[key]
	if !ok {
		ch = &channel{key: key, callbacks: make(map[int]func([]byte))}

		sub, err := m.transport.Subscribe(
			key.subject(),
			func(data []byte) { m.dispatch(key, data) },
			func(err error) { m.channelError(key, err) },
		)
		if err != nil {
			return nil, fmt.Errorf("open push channel %s: %w", key.subject(), err)
		}
		ch.sub = sub
		m.channels[key] = ch
		logging.Info().Str("subject", key.subject()).Msg("push channel opened")
	}

	id := ch.nextID
	ch.nextID++
	ch.callbacks[id] = cb

	released := false
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if released {
			return
		}
		released = true
		m.releaseLocked(key, id)
	}, nil
}

// releaseLocked drops one callback and tears the channel down at refcount
// zero. Caller holds m.mu.
func (m *Manager) releaseLocked(key channelKey, id int) {
	ch, ok := m.channels[key]
	if !ok {
		return
	}
	delete(ch.callbacks, id)
	if len(ch.callbacks) > 0 {
		return
	}

	if ch.sub != nil {
		if err := ch.sub.Unsubscribe(); err != nil {
			logging.Warn().Err(err).Str("subject", key.subject()).Msg("push channel unsubscribe failed")
		}
	}
	delete(m.channels, key)
	logging.Info().Str("subject", key.subject()).Msg("push channel closed")
}

// dispatch fans one message out to every interested callback.
func (m *Manager) dispatch(key channelKey, data []byte) {
	m.mu.Lock()
	ch, ok := m.channels[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	fns := make([]func([]byte), 0, len(ch.callbacks))
	for _, fn := range ch.callbacks {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

// channelError starts the bounded reconnect loop for a failed channel.
func (m *Manager) channelError(key channelKey, err error) {
	logging.Warn().Err(err).Str("subject", key.subject()).Msg("push channel error")

	m.mu.Lock()
	ch, ok := m.channels[key]
	if !ok || ch.reconnecting || ch.dead {
		m.mu.Unlock()
		return
	}
	ch.reconnecting = true
	stop := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reconnect(key, stop)
}

// reconnect retries the channel with backoff up to maxReconnects attempts.
// Past the cap the channel is marked dead and left to the poll fallback;
// other channels are unaffected.
func (m *Manager) reconnect(key channelKey, stop <-chan struct{}) {
	defer m.wg.Done()

	for attempt := 0; attempt < m.maxReconnects; attempt++ {
		t := time.NewTimer(m.policy.Delay(attempt))
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
		}

		m.mu.Lock()
		ch, ok := m.channels[key]
		if !ok {
			// Everyone unsubscribed while we were waiting.
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		metrics.PushReconnects.WithLabelValues(string(key.concern)).Inc()

		sub, err := m.transport.Subscribe(
			key.subject(),
			func(data []byte) { m.dispatch(key, data) },
			func(err error) { m.channelError(key, err) },
		)
		if err != nil {
			logging.Warn().Err(err).Str("subject", key.subject()).Int("attempt", attempt+1).Msg("push channel reconnect failed")
			continue
		}

		m.mu.Lock()
		ch, ok = m.channels[key]
		if !ok {
			m.mu.Unlock()
			_ = sub.Unsubscribe()
			return
		}
		if ch.sub != nil {
			_ = ch.sub.Unsubscribe()
		}
		ch.sub = sub
		ch.reconnecting = false
		m.mu.Unlock()

		logging.Info().Str("subject", key.subject()).Msg("push channel reconnected")
		return
	}

	m.mu.Lock()
	if ch, ok := m.channels[key]; ok {
		ch.dead = true
		ch.reconnecting = false
	}
	m.mu.Unlock()
	logging.Error().Str("subject", key.subject()).Int("attempts", m.maxReconnects).
		Msg("push channel failed permanently; poll fallback keeps the device current")
}

// UnsubscribeAll tears down every open channel and clears the registry,
// then re-arms the manager so a restarted runtime can subscribe again.
// Safe to call when nothing was ever opened, and safe to call twice.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	close(m.stopCh)
	for key, ch := range m.channels {
		if ch.sub != nil {
			if err := ch.sub.Unsubscribe(); err != nil {
				logging.Warn().Err(err).Str("subject", key.subject()).Msg("push channel unsubscribe failed")
			}
		}
	}
	m.channels = make(map[channelKey]*channel)
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Wait()
}

// OpenChannels reports how many channels are currently open. Used by the
// local status endpoint and tests.
func (m *Manager) OpenChannels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
