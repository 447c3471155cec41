// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package store

import (
	"context"
	"sync"
	"testing"
)

type snapshot struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := snapshot{Name: "lobby", Items: []string{"a.png", "b.mp4"}}
	if err := s.Put(ctx, "content-dev1", want, CategoryContent); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got snapshot
	found, err := s.GetInto(ctx, "content-dev1", &got)
	if err != nil {
		t.Fatalf("GetInto: %v", err)
	}
	if !found {
		t.Fatal("expected entry to be found")
	}
	if got.Name != want.Name || len(got.Items) != len(want.Items) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	for i := range want.Items {
		if got.Items[i] != want.Items[i] {
			t.Errorf("item %d = %q, want %q", i, got.Items[i], want.Items[i])
		}
	}
}

func TestGetMissingKeyReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.Get(context.Background(), "never-written")
	if err != nil {
		t.Fatalf("Get on missing key returned error: %v", err)
	}
	if entry != nil {
		t.Errorf("Get on missing key = %+v, want nil", entry)
	}

	var v snapshot
	found, err := s.GetInto(context.Background(), "never-written", &v)
	if err != nil {
		t.Fatalf("GetInto on missing key returned error: %v", err)
	}
	if found {
		t.Error("GetInto on missing key reported found")
	}
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", snapshot{Name: "old"}, CategoryContent); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "k", snapshot{Name: "new"}, CategoryContent); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	var got snapshot
	if _, err := s.GetInto(ctx, "k", &got); err != nil {
		t.Fatalf("GetInto: %v", err)
	}
	if got.Name != "new" {
		t.Errorf("got %q after overwrite, want %q", got.Name, "new")
	}
}

func TestClearDropsAllEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, key, snapshot{Name: key}, CategoryContent); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	for _, key := range []string{"a", "b", "c"} {
		entry, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get %s after clear: %v", key, err)
		}
		if entry != nil {
			t.Errorf("entry %s survived Clear", key)
		}
	}
}

func TestListByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "content-1", snapshot{Name: "one"}, CategoryContent); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "content-2", snapshot{Name: "two"}, CategoryContent); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "fingerprint-1", "abc123", CategoryMetadata); err != nil {
		t.Fatalf("Put: %v", err)
	}

	content, err := s.ListByCategory(ctx, CategoryContent)
	if err != nil {
		t.Fatalf("ListByCategory: %v", err)
	}
	if len(content) != 2 {
		t.Errorf("content entries = %d, want 2", len(content))
	}

	meta, err := s.ListByCategory(ctx, CategoryMetadata)
	if err != nil {
		t.Fatalf("ListByCategory: %v", err)
	}
	if len(meta) != 1 {
		t.Errorf("metadata entries = %d, want 1", len(meta))
	}
	if len(meta) == 1 && meta[0].StoredAt.IsZero() {
		t.Error("entry StoredAt not populated")
	}
}

func TestConcurrentOpenConvergesOnOneHandle(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Open()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent Open %d: %v", i, err)
		}
	}

	// The shared handle works after the race.
	if err := s.Put(context.Background(), "k", snapshot{Name: "v"}, CategoryContent); err != nil {
		t.Fatalf("Put after concurrent opens: %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := New(dir)
	if err := s.Put(ctx, "content-dev", snapshot{Name: "persisted"}, CategoryContent); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := New(dir)
	defer reopened.Close()

	var got snapshot
	found, err := reopened.GetInto(ctx, "content-dev", &got)
	if err != nil {
		t.Fatalf("GetInto after reopen: %v", err)
	}
	if !found || got.Name != "persisted" {
		t.Errorf("entry did not survive restart: found=%v got=%+v", found, got)
	}
}
