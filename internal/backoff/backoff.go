// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

// Package backoff provides the retry delay policy used by every bounded
// retry loop in the player: exponential growth from a base delay, capped at
// a maximum, with uniform jitter to avoid synchronized retry storms across
// a fleet of devices.
//
// The policy is a pure function of the attempt number and the injected
// random source, so retry timing is deterministically testable without real
// timers.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Default policy constants.
const (
	DefaultBase   = 1 * time.Second
	DefaultMax    = 60 * time.Second
	DefaultJitter = 0.20
)

// Policy computes retry delays. The zero value is not usable; construct via
// Default() or fill all fields.
type Policy struct {
	// Base is the delay for attempt 0.
	Base time.Duration

	// Max bounds the computed delay regardless of attempt count.
	Max time.Duration

	// Jitter is the fractional spread applied to the delay (0.20 = +/-20%).
	Jitter float64

	// Rand returns a uniform value in [0,1). Nil means math/rand.Float64.
	// Tests inject a fixed source to make delays deterministic.
	Rand func() float64
}

// Default returns the production policy: 1s base, 60s ceiling, 20% jitter.
func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, Jitter: DefaultJitter}
}

// Delay returns the retry delay for the given attempt (0-based):
// min(Base * 2^attempt, Max), then +/-Jitter uniform spread. The result is
// never negative and never exceeds Max * (1 + Jitter).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max || d < 0 { // overflow guard
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}

	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		// Uniform in [-Jitter, +Jitter)
		spread := (2*r() - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}

	if d < 0 {
		d = 0
	}
	return d
}

// Sleep waits for the attempt's delay or until the context is canceled.
// Returns ctx.Err() when canceled, nil otherwise.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs fn up to maxAttempts times, sleeping the policy delay between
// failures. It returns nil on the first success, the context error if
// canceled mid-wait, and the last failure once attempts are exhausted.
// maxAttempts < 1 is treated as 1; there is no unbounded mode.
func (p Policy) Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := p.Sleep(ctx, attempt-1); serr != nil {
				return serr
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
