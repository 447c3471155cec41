// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package connectivity

import "testing"

func TestInitialStatusIsOnline(t *testing.T) {
	m := NewMonitor()
	if got := m.Status(); got != StatusOnline {
		t.Errorf("initial status = %q, want %q", got, StatusOnline)
	}
}

func TestSetNotifiesObserversOnChange(t *testing.T) {
	m := NewMonitor()

	var seen []Status
	m.Subscribe(func(s Status) {
		seen = append(seen, s)
	})

	m.Set(StatusOffline)
	m.Set(StatusReconnecting)
	m.Set(StatusOnline)

	want := []Status{StatusOffline, StatusReconnecting, StatusOnline}
	if len(seen) != len(want) {
		t.Fatalf("observed %d changes, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("change %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestSetSameStatusNotifiesExactlyOnce(t *testing.T) {
	m := NewMonitor()

	notified := 0
	m.Subscribe(func(Status) { notified++ })

	m.Set(StatusOffline)
	m.Set(StatusOffline)
	m.Set(StatusOffline)

	if notified != 1 {
		t.Errorf("observer notified %d times for repeated status, want 1", notified)
	}
	if m.Status() != StatusOffline {
		t.Errorf("status = %q, want %q", m.Status(), StatusOffline)
	}
}

func TestSetInitialStatusIsNoOp(t *testing.T) {
	m := NewMonitor()

	notified := 0
	m.Subscribe(func(Status) { notified++ })

	m.Set(StatusOnline) // already online at start
	if notified != 0 {
		t.Errorf("observer notified %d times for redundant initial set, want 0", notified)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m := NewMonitor()

	first, second := 0, 0
	unsub := m.Subscribe(func(Status) { first++ })
	m.Subscribe(func(Status) { second++ })

	m.Set(StatusOffline)
	unsub()
	unsub() // idempotent
	m.Set(StatusOnline)

	if first != 1 {
		t.Errorf("unsubscribed observer saw %d changes, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining observer saw %d changes, want 2", second)
	}
}
