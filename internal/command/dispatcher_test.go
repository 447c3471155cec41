// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signhaus/playerd/internal/backoff"
	"github.com/signhaus/playerd/internal/models"
	"github.com/signhaus/playerd/internal/store"
)

type reportCall struct {
	commandID string
	success   bool
	errMsg    string
}

type fakeReporter struct {
	mu    sync.Mutex
	calls []reportCall
	fail  int // number of calls to reject before succeeding
}

func (r *fakeReporter) ReportCommandResult(ctx context.Context, commandID string, success bool, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("report rejected")
	}
	r.calls = append(r.calls, reportCall{commandID, success, errMsg})
	return nil
}

func (r *fakeReporter) reports() []reportCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reportCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// orderedCache records when Clear runs relative to reports, for the reset
// ordering test.
type orderedCache struct {
	inner   Cache
	cleared func()
	err     error
}

func (c *orderedCache) Clear(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	if err := c.inner.Clear(ctx); err != nil {
		return err
	}
	if c.cleared != nil {
		c.cleared()
	}
	return nil
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{Base: time.Millisecond, Max: time.Millisecond, Jitter: 0}
}

func newDispatcher(t *testing.T, reporter Reporter, cache Cache, hooks Hooks) *Dispatcher {
	t.Helper()
	if cache == nil {
		s := store.New(t.TempDir())
		t.Cleanup(func() { s.Close() })
		cache = s
	}
	return NewDispatcher(reporter, cache, hooks, fastPolicy(), time.Millisecond)
}

func TestUnknownCommandReportsFailure(t *testing.T) {
	reporter := &fakeReporter{}
	d := newDispatcher(t, reporter, nil, Hooks{})

	d.Dispatch(context.Background(), models.Command{ID: "c1", Type: "frobnicate"})

	calls := reporter.reports()
	if len(calls) != 1 {
		t.Fatalf("got %d reports, want 1: %+v", len(calls), calls)
	}
	if calls[0].commandID != "c1" || calls[0].success {
		t.Errorf("report = %+v, want failure for c1", calls[0])
	}
	if !strings.Contains(calls[0].errMsg, "Unknown command type") {
		t.Errorf("error message %q does not mention unknown command type", calls[0].errMsg)
	}
}

func TestDuplicateDispatchReportsExactlyOnce(t *testing.T) {
	reporter := &fakeReporter{}
	d := newDispatcher(t, reporter, nil, Hooks{})
	ctx := context.Background()

	cmd := models.Command{ID: "c2", Type: models.CommandClearCache}

	// Same command observed via poll and push within one tick.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(ctx, cmd)
		}()
	}
	wg.Wait()

	if calls := reporter.reports(); len(calls) != 1 {
		t.Errorf("got %d reports for one command id, want 1: %+v", len(calls), calls)
	}
}

func TestRebootReportsSuccessThenRestarts(t *testing.T) {
	reporter := &fakeReporter{}
	var order []string
	var mu sync.Mutex
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	d := newDispatcher(t, reporter, nil, Hooks{Restart: func() { note("restart") }})
	d.Dispatch(context.Background(), models.Command{ID: "c3", Type: models.CommandReboot})

	calls := reporter.reports()
	if len(calls) != 1 || !calls[0].success {
		t.Fatalf("reports = %+v, want one success", calls)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 || order[0] != "restart" {
		t.Errorf("restart hook not invoked after report: %v", order)
	}
}

func TestReloadInvokesRefresh(t *testing.T) {
	reporter := &fakeReporter{}
	refreshed := 0
	d := newDispatcher(t, reporter, nil, Hooks{
		RefreshContent: func(ctx context.Context) error { refreshed++; return nil },
	})

	d.Dispatch(context.Background(), models.Command{ID: "c4", Type: models.CommandReload})

	if refreshed != 1 {
		t.Errorf("refresh invoked %d times, want 1", refreshed)
	}
	calls := reporter.reports()
	if len(calls) != 1 || !calls[0].success {
		t.Errorf("reports = %+v, want one success", calls)
	}
}

func TestClearCacheReportsClearOutcome(t *testing.T) {
	reporter := &fakeReporter{}
	d := newDispatcher(t, reporter, &orderedCache{err: errors.New("disk gone")}, Hooks{})

	d.Dispatch(context.Background(), models.Command{ID: "c5", Type: models.CommandClearCache})

	calls := reporter.reports()
	if len(calls) != 1 || calls[0].success {
		t.Fatalf("reports = %+v, want one failure", calls)
	}
	if !strings.Contains(calls[0].errMsg, "disk gone") {
		t.Errorf("failure message %q missing cause", calls[0].errMsg)
	}
}

func TestResetClearsCacheBeforeReporting(t *testing.T) {
	ctx := context.Background()
	s := store.New(t.TempDir())
	defer s.Close()
	if err := s.Put(ctx, "content-dev1", "snapshot", store.CategoryContent); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	reporter := &fakeReporter{}
	var order []string
	cache := &orderedCache{inner: s, cleared: func() { order = append(order, "clear") }}
	restarted := false
	d := NewDispatcher(reporter, cache, Hooks{
		Restart:    func() { restarted = true },
		ResetState: func() error { order = append(order, "reset_state"); return nil },
	}, fastPolicy(), time.Millisecond)

	d.Dispatch(ctx, models.Command{ID: "c6", Type: models.CommandReset})

	entry, err := s.Get(ctx, "content-dev1")
	if err != nil {
		t.Fatalf("Get after reset: %v", err)
	}
	if entry != nil {
		t.Error("cache entry survived reset")
	}

	calls := reporter.reports()
	if len(calls) != 1 || !calls[0].success {
		t.Fatalf("reports = %+v, want one success", calls)
	}
	if len(order) != 2 || order[0] != "clear" || order[1] != "reset_state" {
		t.Errorf("side effect order = %v, want [clear reset_state] before report", order)
	}
	if !restarted {
		t.Error("reset did not restart the player")
	}
}

// panickyCache simulates a storage layer blowing up mid-command.
type panickyCache struct{}

func (panickyCache) Clear(context.Context) error { panic("badger mmap torn down") }

func TestHandlerPanicReportsFailure(t *testing.T) {
	reporter := &fakeReporter{}
	d := newDispatcher(t, reporter, panickyCache{}, Hooks{})

	d.Dispatch(context.Background(), models.Command{ID: "c7", Type: models.CommandClearCache})

	calls := reporter.reports()
	if len(calls) != 1 || calls[0].success {
		t.Fatalf("reports = %+v, want one failure", calls)
	}
	if !strings.Contains(calls[0].errMsg, "badger mmap torn down") {
		t.Errorf("failure message %q missing panic text", calls[0].errMsg)
	}
}

func TestReportRetriesTransientFailures(t *testing.T) {
	reporter := &fakeReporter{fail: 2}
	d := newDispatcher(t, reporter, nil, Hooks{})

	d.Dispatch(context.Background(), models.Command{ID: "c8", Type: "bogus"})

	calls := reporter.reports()
	if len(calls) != 1 {
		t.Fatalf("got %d delivered reports after retries, want 1", len(calls))
	}
}

func TestResetAllowsRedispatchAfterRestart(t *testing.T) {
	reporter := &fakeReporter{}
	d := newDispatcher(t, reporter, nil, Hooks{})
	ctx := context.Background()

	cmd := models.Command{ID: "c9", Type: "bogus"}
	d.Dispatch(ctx, cmd)
	d.Reset()
	d.Dispatch(ctx, cmd)

	if calls := reporter.reports(); len(calls) != 2 {
		t.Errorf("got %d reports across a dedup reset, want 2", len(calls))
	}
}
