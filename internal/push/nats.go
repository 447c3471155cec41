// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package push

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signhaus/playerd/internal/logging"
)

// NATSTransport implements Transport over a core NATS connection. The
// connection itself reconnects transparently via the NATS client; channel
// subscription errors are routed to the per-channel onError handlers so the
// manager's own backoff policy governs channel recovery.
type NATSTransport struct {
	nc *nats.Conn

	mu       sync.Mutex
	onErrors map[*nats.Subscription]func(error)
}

// DialNATS connects to the push facility. Connection-level retry is
// delegated to the NATS client; the handlers only log.
func DialNATS(url string) (*NATSTransport, error) {
	t := &NATSTransport{onErrors: make(map[*nats.Subscription]func(error))}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("push transport disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("push transport reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			t.routeError(sub, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect push transport %s: %w", url, err)
	}

	t.nc = nc
	return t, nil
}

// routeError forwards an async subscription error to its channel handler.
// Connection-level errors (nil sub) are logged only; the NATS client
// recovers those itself.
func (t *NATSTransport) routeError(sub *nats.Subscription, err error) {
	if sub == nil {
		logging.Warn().Err(err).Msg("push transport error")
		return
	}

	t.mu.Lock()
	onError := t.onErrors[sub]
	t.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

type natsSubscription struct {
	t   *NATSTransport
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	s.t.mu.Lock()
	delete(s.t.onErrors, s.sub)
	s.t.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Subscribe opens one subject subscription and wires its error handler.
func (t *NATSTransport) Subscribe(subject string, onMessage func([]byte), onError func(error)) (Subscription, error) {
	sub, err := t.nc.Subscribe(subject, func(msg *nats.Msg) {
		onMessage(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	t.mu.Lock()
	t.onErrors[sub] = onError
	t.mu.Unlock()

	return &natsSubscription{t: t, sub: sub}, nil
}

// Close drains the connection so in-flight messages are delivered before
// the handle is released.
func (t *NATSTransport) Close() {
	if t.nc == nil {
		return
	}
	if err := t.nc.Drain(); err != nil {
		logging.Warn().Err(err).Msg("push transport drain failed")
		t.nc.Close()
	}
}
