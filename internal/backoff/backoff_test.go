// Playerd - Digital Signage Player Sync Runtime
// Copyright 2026 Signhaus Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signhaus/playerd

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayWithoutJitter(t *testing.T) {
	p := Policy{Base: 1 * time.Second, Max: 60 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},  // 64s capped
		{20, 60 * time.Second}, // way past the cap
		{-3, 1 * time.Second},  // negative treated as 0
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	// Fixed random draws exercise the extremes of the jitter spread.
	for _, draw := range []float64{0.0, 0.25, 0.5, 0.75, 0.999} {
		p := Policy{
			Base:   1 * time.Second,
			Max:    60 * time.Second,
			Jitter: 0.20,
			Rand:   func() float64 { return draw },
		}

		for attempt := 0; attempt <= 12; attempt++ {
			exact := 1 * time.Second
			for i := 0; i < attempt; i++ {
				exact *= 2
			}
			if exact > 60*time.Second {
				exact = 60 * time.Second
			}

			got := p.Delay(attempt)
			low := time.Duration(float64(exact) * 0.8)
			high := time.Duration(float64(exact) * 1.2)
			if got < low || got > high {
				t.Errorf("Delay(%d) with draw %.3f = %v, want within [%v, %v]", attempt, draw, got, low, high)
			}
			if got > time.Duration(float64(60*time.Second)*1.2) {
				t.Errorf("Delay(%d) = %v exceeds absolute ceiling", attempt, got)
			}
		}
	}
}

func TestDelayDeterministicGivenFixedDraw(t *testing.T) {
	p := Policy{Base: time.Second, Max: time.Minute, Jitter: 0.20, Rand: func() float64 { return 0.5 }}

	first := p.Delay(3)
	for i := 0; i < 10; i++ {
		if got := p.Delay(3); got != first {
			t.Fatalf("Delay(3) not deterministic: %v vs %v", got, first)
		}
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: 2 * time.Millisecond, Jitter: 0}

	calls := 0
	err := p.Retry(context.Background(), 5, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: time.Millisecond, Jitter: 0}

	wantErr := errors.New("always fails")
	calls := 0
	err := p.Retry(context.Background(), 3, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected final error %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	p := Policy{Base: 10 * time.Second, Max: 10 * time.Second, Jitter: 0}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Retry(ctx, 5, func() error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}
