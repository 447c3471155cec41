// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package localapi serves the device-local diagnostics surface: health and
// status endpoints, Prometheus metrics, and the WebSocket debug stream. It
// binds to localhost by default; it is a field-technician tool, not a
// public API.
package localapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signhaus/playerd/internal/logging"
	"github.com/signhaus/playerd/internal/player"
	"github.com/signhaus/playerd/internal/wshub"
)

// StatusSource exposes runtime state to the status endpoint.
type StatusSource interface {
	StatusSnapshot() player.Status
}

// Server is the local diagnostics HTTP server.
type Server struct {
	addr    string
	runtime StatusSource
	hub     *wshub.Hub
	httpSrv *http.Server
}

// New builds the server. hub may be nil to disable the debug stream.
func New(addr string, runtime StatusSource, hub *wshub.Hub) *Server {
	s := &Server{
		addr:    addr,
		runtime: runtime,
		hub:     hub,
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Get("/ws", s.handleWebSocket)
	}
	return r
}

// Serve runs the HTTP server until ctx is canceled. Suture-compatible.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	logging.Info().Str("addr", s.addr).Msg("local API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("local API shutdown incomplete")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.runtime.StatusSnapshot()
	writeJSON(w, http.StatusOK, status)
}

// upgrader accepts any origin: the listener is loopback-scoped and the
// stream is read-only diagnostics.
var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(*http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("debug stream upgrade failed")
		return
	}

	client := wshub.NewClient(s.hub, conn)
	s.hub.Register <- client
	client.Start()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}
