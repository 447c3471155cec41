// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package connectivity tracks the player's tri-state connection status and
// fans change notifications out to observers. This is the single source of
// truth other components consult to decide whether to show an offline
// indicator; it is driven entirely by the content fetcher and the push
// manager, never by its own timers.
package connectivity

import "sync"

// Status is the player's view of its connection to the server.
type Status string

const (
	StatusOnline       Status = "online"
	StatusOffline      Status = "offline"
	StatusReconnecting Status = "reconnecting"
)

// Monitor holds the current status and a registry of observers. Status lives
// in process memory only and starts as online; it is not persisted.
type Monitor struct {
	mu        sync.Mutex
	status    Status
	observers map[int]func(Status)
	nextID    int
}

// NewMonitor returns a monitor with the initial status online.
func NewMonitor() *Monitor {
	return &Monitor{
		status:    StatusOnline,
		observers: make(map[int]func(Status)),
	}
}

// Status returns the current connection status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers an observer and returns its unsubscribe function.
// Observers are notified synchronously on every status change and never for
// redundant repeats. The unsubscribe function is idempotent.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Set transitions to the given status. Setting the current status again is a
// no-op: observers only ever see changes. Notification runs synchronously,
// outside the lock, in registration order is not guaranteed.
func (m *Monitor) Set(status Status) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status

	fns := make([]func(Status), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
