// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package wshub streams live runtime events (connectivity transitions,
// content updates, command activity) to local debug clients over WebSocket.
// Installers and field technicians attach to it through the local API while
// standing in front of the display.
package wshub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/signhaus/playerd/internal/logging"
)

// Message types emitted on the debug stream.
const (
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeConnectivity  = "connectivity"
	MessageTypeContentUpdate = "content_update"
	MessageTypeCommand       = "command"
	MessageTypeStatus        = "status"
)

// Message is one event on the debug stream.
type Message struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// Hub maintains the set of attached debug clients and fans events out to
// them. Slow or dead clients are dropped rather than allowed to block the
// runtime.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an idle hub; run it with Serve.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub until ctx is canceled, then closes every client and
// returns ctx.Err(). Designed for suture supervision.
//
// Lifecycle events are drained before broadcasts so client state is settled
// when a message fans out; Go's select picks randomly among ready channels,
// which would otherwise interleave them.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("debug_clients", count).Msg("debug client attached")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("debug_clients", count).Msg("debug client detached")
}

// broadcastToClients fans one message out in client-id order. Iterating the
// map directly would deliver in a different order every run, which makes
// failures unreproducible.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// Send buffer full: the client is not keeping up, drop it.
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	logging.Info().
		Str("component", "debug-hub").
		Int("clients_closed", len(clients)).
		AnErr("cause", ctx.Err()).
		Msg("debug hub stopped")
}

// BroadcastJSON queues an event for all attached clients. Non-blocking: when
// the queue is full the event is dropped, never the runtime. Safe on a nil
// receiver so callers holding an unconfigured hub need no guard.
func (h *Hub) BroadcastJSON(messageType string, data any) {
	if h == nil {
		return
	}
	message := Message{
		Type:      messageType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", messageType).Msg("debug broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of attached debug clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
