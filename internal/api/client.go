// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package api is the HTTP client for the server-side content-resolution
// service: heartbeat, content fetch, command polling, and result reporting.
//
// The client carries two protective layers. A token-bucket rate limiter
// caps the request rate so retry loops can never turn into request storms
// against the server, and a circuit breaker around the read endpoints trips
// fast when the server is flapping instead of stacking timeouts.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/signhaus/playerd/internal/logging"
	"github.com/signhaus/playerd/internal/models"
)

// ErrDeviceNotFound is returned when the server does not know the device.
var ErrDeviceNotFound = errors.New("device not found")

// ClientConfig configures the server client.
type ClientConfig struct {
	// BaseURL of the content-resolution service, without trailing slash.
	BaseURL string

	// Token is the device's bearer token obtained at pairing.
	Token string

	// Timeout bounds each HTTP request. Default 15s.
	Timeout time.Duration

	// RequestsPerSecond caps the outgoing request rate. Default 5.
	RequestsPerSecond float64
}

// Client talks to the content-resolution service for one player.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a server client. Breaker tuning follows the upstream
// client pattern: opens at a 60% failure rate over at least 10 requests,
// probes again after 2 minutes.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "signage-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		breaker: cb,
	}
}

// Heartbeat sends a bare liveness ping. Fire-and-forget at the call sites:
// errors are logged by the caller, never propagated into command or fetch
// flows.
func (c *Client) Heartbeat(ctx context.Context, deviceID string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/devices/%s/heartbeat", deviceID), nil, false)
	return err
}

// GetContent fetches the resolved content snapshot for the device. Goes
// through the circuit breaker; a tripped breaker surfaces as a transient
// failure, so the offline-cache fallback still applies.
func (c *Client) GetContent(ctx context.Context, deviceID string) (*models.ContentSnapshot, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/devices/%s/content", deviceID), nil, true)
	if err != nil {
		return nil, err
	}

	var snap models.ContentSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode content snapshot: %w", err)
	}
	return &snap, nil
}

// PollCommand asks for the next pending command. Returns (nil, nil) when
// the queue is empty.
func (c *Client) PollCommand(ctx context.Context, deviceID string) (*models.Command, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/devices/%s/commands/next", deviceID), nil, true)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var cmd models.Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return &cmd, nil
}

// ReportCommandResult reports the terminal result for a command. Called
// exactly once per observed command; the dispatcher enforces that.
func (c *Client) ReportCommandResult(ctx context.Context, commandID string, success bool, errMsg string) error {
	payload := struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}{Success: success, Error: errMsg}

	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/commands/%s/result", commandID), payload, false)
	return err
}

// UpdateDeviceStatus is the extended heartbeat: liveness plus player version
// and the last-known content fingerprint, reported on every tick whether or
// not content changed.
func (c *Client) UpdateDeviceStatus(ctx context.Context, deviceID, playerVersion, fingerprint string) (*models.StatusAck, error) {
	payload := struct {
		PlayerVersion      string `json:"player_version"`
		ContentFingerprint string `json:"content_fingerprint"`
	}{PlayerVersion: playerVersion, ContentFingerprint: fingerprint}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/devices/%s/status", deviceID), payload, false)
	if err != nil {
		return nil, err
	}

	var ack models.StatusAck
	if len(body) > 0 {
		if err := json.Unmarshal(body, &ack); err != nil {
			return nil, fmt.Errorf("decode status ack: %w", err)
		}
	}
	return &ack, nil
}

// do executes one request: rate limit, optional circuit breaker, auth
// header, status mapping. Returns the response body; empty on 204.
func (c *Client) do(ctx context.Context, method, path string, payload any, useBreaker bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	exec := func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	}
	if useBreaker {
		return c.breaker.Execute(exec)
	}
	return exec()
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	// Correlation id so one device round trip can be traced through server
	// logs.
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrDeviceNotFound)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}
