// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package content obtains the device's resolved content snapshot, preferring
// the live server and falling back to the offline cache, and fingerprints
// snapshots for cheap change detection.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/signhaus/playerd/internal/logging"
	"github.com/signhaus/playerd/internal/models"
	"github.com/signhaus/playerd/internal/store"
)

// ErrNoContent means the live fetch failed and the cache holds nothing for
// this device. There is nothing to render; the caller surfaces this to the
// runtime's error callback.
var ErrNoContent = errors.New("no content available: fetch failed and cache is empty")

// API is the subset of the server client the fetcher needs.
type API interface {
	GetContent(ctx context.Context, deviceID string) (*models.ContentSnapshot, error)
}

// Result is a fetched snapshot plus its provenance. Offline means the value
// came from the cache because the server was unreachable.
type Result struct {
	Snapshot *models.ContentSnapshot
	Offline  bool
}

// ContentKey returns the cache key for a device's content snapshot.
func ContentKey(deviceID string) string {
	return "content-" + deviceID
}

// Fetcher retrieves content snapshots for one device.
type Fetcher struct {
	api      API
	cache    *store.Store
	deviceID string
}

// NewFetcher creates a fetcher bound to one device.
func NewFetcher(api API, cache *store.Store, deviceID string) *Fetcher {
	return &Fetcher{api: api, cache: cache, deviceID: deviceID}
}

// FetchLive fetches the snapshot from the server and persists it to the
// cache on success. Cache write failures are logged, not propagated: a
// broken cache must not turn a successful fetch into a failure.
func (f *Fetcher) FetchLive(ctx context.Context) (*models.ContentSnapshot, error) {
	snap, err := f.api.GetContent(ctx, f.deviceID)
	if err != nil {
		return nil, fmt.Errorf("fetch content for %s: %w", f.deviceID, err)
	}

	if err := f.cache.Put(ctx, ContentKey(f.deviceID), snap, store.CategoryContent); err != nil {
		logging.Warn().Err(err).Str("device", f.deviceID).Msg("could not cache content snapshot")
	}
	return snap, nil
}

// Cached returns the last persisted snapshot, or false when the cache holds
// nothing for this device. Storage errors are logged and reported as a miss.
func (f *Fetcher) Cached(ctx context.Context) (*models.ContentSnapshot, bool) {
	var snap models.ContentSnapshot
	found, err := f.cache.GetInto(ctx, ContentKey(f.deviceID), &snap)
	if err != nil {
		logging.Warn().Err(err).Str("device", f.deviceID).Msg("offline cache read failed, treating as miss")
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &snap, true
}

// Fetch attempts the live fetch once and falls back to the cache on failure.
// Returns ErrNoContent (wrapping the live failure) when both paths come up
// empty.
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	snap, err := f.FetchLive(ctx)
	if err == nil {
		return &Result{Snapshot: snap, Offline: false}, nil
	}

	if cached, ok := f.Cached(ctx); ok {
		logging.Info().Str("device", f.deviceID).Msg("serving content from offline cache")
		return &Result{Snapshot: cached, Offline: true}, nil
	}

	return nil, fmt.Errorf("%w (live fetch: %v)", ErrNoContent, err)
}
