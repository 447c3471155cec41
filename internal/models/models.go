// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package models defines the wire and domain types shared by the player
// runtime: the resolved content snapshot a device renders, the administrative
// commands the server issues, and the push notification payloads.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Device is the server-side record for one physical display. The player
// treats it as read-only; it changes only when the dashboard edits it.
type Device struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Location           string     `json:"location,omitempty"`
	ActiveSceneID      string     `json:"active_scene_id,omitempty"`
	RefreshRequestedAt *time.Time `json:"refresh_requested_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SequenceItem is one renderable entry in a sequence.
type SequenceItem struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, video, web
	Source   string `json:"source"`
	Duration int    `json:"duration"` // seconds
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Sequence is an ordered playlist of items resolved for a device.
type Sequence struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Items []SequenceItem `json:"items"`
}

// ContentSnapshot is the resolved rendering payload for a device at a point
// in time. It is produced by the server-side content-resolution procedure and
// treated as an opaque, replaceable value by the player. Two snapshots are
// equivalent when their fingerprints match; object identity is irrelevant.
type ContentSnapshot struct {
	Device   Device    `json:"device"`
	Sequence *Sequence `json:"sequence,omitempty"`
}

// SequenceID returns the active sequence id, or "" when the device has no
// sequence assigned.
func (s *ContentSnapshot) SequenceID() string {
	if s == nil || s.Sequence == nil {
		return ""
	}
	return s.Sequence.ID
}

// CommandType identifies an administrative command.
type CommandType string

const (
	CommandReboot     CommandType = "reboot"
	CommandReload     CommandType = "reload"
	CommandClearCache CommandType = "clear_cache"
	CommandReset      CommandType = "reset"
	CommandUnknown    CommandType = "unknown"
)

// Known reports whether t is a command type the player can execute.
func (t CommandType) Known() bool {
	switch t {
	case CommandReboot, CommandReload, CommandClearCache, CommandReset:
		return true
	}
	return false
}

// Command is a server-issued administrative instruction. The server creates
// it once per action; the device consumes it at most once effectively and
// never mutates Type or Payload. The server is the source of truth for
// command status - the device only ever reports a terminal result.
type Command struct {
	ID        string          `json:"id"`
	Type      CommandType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RefreshReason tags why the server asked a device to refresh.
type RefreshReason string

const (
	// RefreshSceneChange means the device's active scene assignment changed.
	RefreshSceneChange RefreshReason = "scene_change"
	// RefreshRequested means the dashboard explicitly requested a refresh.
	RefreshRequested RefreshReason = "refresh_requested"
)

// DeviceChange is the push payload for a device record update. The refresh
// reason is derived by comparing Previous and Current.
type DeviceChange struct {
	Previous *Device `json:"previous,omitempty"`
	Current  *Device `json:"current"`
}

// Reason derives the refresh reason from the record transition: a changed
// scene assignment wins over an explicit refresh request.
func (c DeviceChange) Reason() RefreshReason {
	if c.Previous != nil && c.Current != nil && c.Previous.ActiveSceneID != c.Current.ActiveSceneID {
		return RefreshSceneChange
	}
	return RefreshRequested
}

// ContentUpdate is the push payload for an edit to content belonging to the
// device's active sequence.
type ContentUpdate struct {
	SequenceID string    `json:"sequence_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StatusAck is the server's response to an extended heartbeat.
type StatusAck struct {
	NeedsScreenshotUpdate bool `json:"needs_screenshot_update"`
}
