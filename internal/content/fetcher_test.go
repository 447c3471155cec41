// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package content

import (
	"context"
	"errors"
	"testing"

	"github.com/signhaus/playerd/internal/models"
	"github.com/signhaus/playerd/internal/store"
)

type fakeAPI struct {
	snap  *models.ContentSnapshot
	err   error
	calls int
}

func (f *fakeAPI) GetContent(ctx context.Context, deviceID string) (*models.ContentSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func testSnapshot(sceneID string) *models.ContentSnapshot {
	return &models.ContentSnapshot{
		Device: models.Device{ID: "dev-1", Name: "Lobby", ActiveSceneID: sceneID},
		Sequence: &models.Sequence{
			ID:   "seq-1",
			Name: "Morning Loop",
			Items: []models.SequenceItem{
				{ID: "i1", Type: "image", Source: "https://cdn.example.com/a.png", Duration: 10},
				{ID: "i2", Type: "video", Source: "https://cdn.example.com/b.mp4", Duration: 30},
			},
		},
	}
}

func newTestFetcher(t *testing.T, api API) (*Fetcher, *store.Store) {
	t.Helper()
	cache := store.New(t.TempDir())
	t.Cleanup(func() { cache.Close() })
	return NewFetcher(api, cache, "dev-1"), cache
}

func TestFetchLiveSuccessPersistsToCache(t *testing.T) {
	api := &fakeAPI{snap: testSnapshot("scene-a")}
	f, cache := newTestFetcher(t, api)
	ctx := context.Background()

	res, err := f.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Offline {
		t.Error("successful live fetch reported offline")
	}
	if res.Snapshot.Device.ID != "dev-1" {
		t.Errorf("unexpected snapshot device %q", res.Snapshot.Device.ID)
	}

	var cached models.ContentSnapshot
	found, err := cache.GetInto(ctx, ContentKey("dev-1"), &cached)
	if err != nil || !found {
		t.Fatalf("cache lookup after live fetch: found=%v err=%v", found, err)
	}
	if cached.Sequence == nil || cached.Sequence.ID != "seq-1" {
		t.Errorf("cached snapshot not equal to fetched one: %+v", cached)
	}
}

func TestFetchFallsBackToCacheWhenLiveFails(t *testing.T) {
	ctx := context.Background()

	// Seed the cache via a successful fetch, then break the network.
	api := &fakeAPI{snap: testSnapshot("scene-a")}
	f, _ := newTestFetcher(t, api)
	if _, err := f.Fetch(ctx); err != nil {
		t.Fatalf("seeding fetch: %v", err)
	}

	api.err = errors.New("connection refused")

	res, err := f.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch with seeded cache should not fail: %v", err)
	}
	if !res.Offline {
		t.Error("cache fallback did not report offline")
	}
	if res.Snapshot.Sequence == nil || res.Snapshot.Sequence.ID != "seq-1" {
		t.Errorf("fallback returned wrong snapshot: %+v", res.Snapshot)
	}
}

func TestFetchNoContentWhenCacheEmpty(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	f, _ := newTestFetcher(t, api)

	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestCachedReportsMissOnEmptyStore(t *testing.T) {
	f, _ := newTestFetcher(t, &fakeAPI{})

	if _, ok := f.Cached(context.Background()); ok {
		t.Error("Cached reported a hit on an empty store")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := testSnapshot("scene-a")
	b := testSnapshot("scene-a")

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("equal snapshots produced different fingerprints")
	}
	if Fingerprint(a) == "" {
		t.Error("fingerprint of real snapshot is empty")
	}
}

func TestFingerprintDetectsChanges(t *testing.T) {
	base := testSnapshot("scene-a")

	changedScene := testSnapshot("scene-b")
	if Fingerprint(base) == Fingerprint(changedScene) {
		t.Error("scene change not reflected in fingerprint")
	}

	// Order-sensitive: swapping item order must change the digest.
	swapped := testSnapshot("scene-a")
	swapped.Sequence.Items[0], swapped.Sequence.Items[1] = swapped.Sequence.Items[1], swapped.Sequence.Items[0]
	if Fingerprint(base) == Fingerprint(swapped) {
		t.Error("item reordering not reflected in fingerprint")
	}
}

func TestFingerprintNilSnapshot(t *testing.T) {
	if got := Fingerprint(nil); got != "" {
		t.Errorf("Fingerprint(nil) = %q, want empty", got)
	}
}
