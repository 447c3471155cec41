// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package store implements the offline content cache: a BadgerDB-backed
// key/value store that survives process restarts so the display can keep
// showing last-known-good content through indefinite network outages.
//
// Entries never expire on their own. Staleness is bounded only by how often
// fetches succeed, which deliberately favors "show last-known-good" over
// "show nothing". The only explicit deletion path is a clear_cache or reset
// command.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/signhaus/playerd/internal/logging"
)

// Category classifies a cache entry for the secondary type index.
type Category string

const (
	CategoryContent  Category = "content"
	CategoryMetadata Category = "metadata"
)

// Key prefixes for BadgerDB storage.
const (
	entryKeyPrefix = "entry:"
	typeKeyPrefix  = "type:"
)

// Entry is the single persisted record type: payload plus category and the
// time it was stored, kept for potential eviction policies (none run by
// default).
type Entry struct {
	Key      string          `json:"key"`
	Data     json.RawMessage `json:"data"`
	Type     Category        `json:"type"`
	StoredAt time.Time       `json:"stored_at"`
}

// Store is a durable key/value cache over one BadgerDB directory. The
// underlying handle is opened at most once per Store; concurrent Open calls
// converge on the same handle. All methods are safe for concurrent use.
type Store struct {
	dir string

	mu sync.Mutex
	db *badger.DB
}

// New returns an unopened store rooted at dir. Open is called lazily by
// every operation, so callers may skip it; calling it eagerly surfaces
// startup problems sooner.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Open opens the underlying BadgerDB handle. Idempotent: subsequent calls
// return immediately once a handle exists. A failed open is retried on the
// next call rather than memoized, so a transient disk problem at boot does
// not permanently disable the cache.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.handleLocked()
	return err
}

func (s *Store) handleLocked() (*badger.DB, error) {
	if s.db != nil {
		return s.db, nil
	}

	opts := badger.DefaultOptions(s.dir)
	opts.Logger = nil // badger's own logger is noisy; errors surface via returns

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache at %s: %w", s.dir, err)
	}

	s.db = db
	logging.Info().Str("dir", s.dir).Msg("offline cache opened")
	return db, nil
}

func (s *Store) handle() (*badger.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleLocked()
}

// Put durably upserts value under key. The value is serialized with go-json
// and wrapped in an Entry carrying the category and store time. A secondary
// index key by category is written in the same transaction.
func (s *Store) Put(ctx context.Context, key string, value any, category Category) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	entry := Entry{
		Key:      key,
		Data:     data,
		Type:     category,
		StoredAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	return db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(entryKeyPrefix+key), raw); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
		// Secondary lookup by category
		indexKey := []byte(typeKeyPrefix + string(category) + ":" + key)
		if err := txn.Set(indexKey, []byte(key)); err != nil {
			return fmt.Errorf("set type index: %w", err)
		}
		return nil
	})
}

// Get returns the entry stored under key, or (nil, nil) when the key was
// never written. A missing key is not an error; only storage-layer failures
// are.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var entry Entry
	found := false
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

// GetInto unmarshals the payload stored under key into v. Returns false
// with a nil error when the key was never written.
func (s *Store) GetInto(ctx context.Context, key string, v any) (bool, error) {
	entry, err := s.Get(ctx, key)
	if err != nil || entry == nil {
		return false, err
	}
	if err := json.Unmarshal(entry.Data, v); err != nil {
		return false, fmt.Errorf("unmarshal cache payload for %s: %w", key, err)
	}
	return true, nil
}

// ListByCategory returns all entries of a category, via the secondary index.
func (s *Store) ListByCategory(ctx context.Context, category Category) ([]Entry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(typeKeyPrefix + string(category) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var key string
			if err := it.Item().Value(func(val []byte) error {
				key = string(val)
				return nil
			}); err != nil {
				continue
			}

			item, err := txn.Get([]byte(entryKeyPrefix + key))
			if err != nil {
				continue // entry deleted under the index
			}
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s entries: %w", category, err)
	}
	return entries, nil
}

// Clear drops every entry in the store. Used by the clear_cache and reset
// commands.
func (s *Store) Clear(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.DropAll(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	logging.Info().Str("dir", s.dir).Msg("offline cache cleared")
	return nil
}

// Close releases the BadgerDB handle. A closed store can be reopened by the
// next operation.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
