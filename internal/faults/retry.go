package faults

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Policy configures per-provider retry behavior.
type Policy struct {
	// MaxAttempts is the attempt budget per provider, including the first call.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor between attempts.
	Multiplier float64
	// JitterPct spreads each delay by ±this fraction to avoid thundering herds.
	JitterPct float64
	// RateLimitFloor is the minimum wait after a rate-limit response.
	RateLimitFloor time.Duration
	// MinDelay is the global floor for any computed delay.
	MinDelay time.Duration
}

// DefaultPolicy returns the standard retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterPct:      0.1,
		RateLimitFloor: 5 * time.Second,
		MinDelay:       100 * time.Millisecond,
	}
}

// Backoff returns the un-jittered delay for a 0-based retry attempt:
// BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	secs := base.Seconds() * math.Pow(mult, float64(attempt))
	if secs >= maxDelay.Seconds() {
		return maxDelay
	}
	return time.Duration(secs * float64(time.Second))
}

// Delay computes the wait before the next attempt for a classified failure.
// Jitter is applied to the exponential backoff, then rate-limit and
// server-advised floors, then the global minimum.
func (p Policy) Delay(attempt int, cls schema.Classification) time.Duration {
	delay := p.Backoff(attempt)

	if p.JitterPct > 0 {
		spread := (rand.Float64()*2 - 1) * p.JitterPct
		delay = time.Duration(float64(delay) * (1 + spread))
	}

	if cls.Kind == schema.KindRateLimit {
		floor := p.RateLimitFloor
		if floor <= 0 {
			floor = 5 * time.Second
		}
		if delay < floor {
			delay = floor
		}
	}

	// Never wait less than the server advised.
	if cls.RetryAfter > 0 && delay < cls.RetryAfter {
		delay = cls.RetryAfter
	}

	minDelay := p.MinDelay
	if minDelay <= 0 {
		minDelay = 100 * time.Millisecond
	}
	if delay < minDelay {
		delay = minDelay
	}

	return delay
}

// Wait sleeps for the given delay or returns early if the context is
// cancelled. Returns the context error on cancellation.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
