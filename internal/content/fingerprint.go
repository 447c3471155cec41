// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package content

import (
	"fmt"
	"hash/fnv"

	"github.com/goccy/go-json"

	"github.com/signhaus/playerd/internal/models"
)

// Fingerprint returns a short deterministic digest of a content snapshot,
// used to decide whether a re-render is needed. It is an order-sensitive
// FNV-1a hash over the serialized snapshot: not cryptographic, just
// collision-resistant enough for change detection. A nil snapshot hashes to
// the empty string so "no content" never matches real content.
func Fingerprint(snap *models.ContentSnapshot) string {
	if snap == nil {
		return ""
	}
	data, err := json.Marshal(snap)
	if err != nil {
		// Snapshots are plain data; marshal failure means a programming
		// error. Hash the error text so the caller still sees a change.
		data = []byte(err.Error())
	}

	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}
