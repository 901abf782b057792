// Package jitter provides the randomized-delay primitives shared by every
// timer-driven or retrying component in the gateway: the active health
// prober's tick and boot desynchronization, and the failover driver's retry
// spacing. These are the only source of randomized delay in the reliability
// subsystem; the selector's weighted draw is its only other use of
// math/rand.
package jitter

import (
	"math/rand/v2"
	"time"
)

// Jitter returns a duration uniformly distributed in
// [base*(1-factor), base*(1+factor)]. factor is clamped to [0, 1];
// factor == 0 returns exactly base.
func Jitter(base time.Duration, factor float64) time.Duration {
	factor = clamp01(factor)
	if factor == 0 {
		return base
	}
	lo := float64(base) * (1 - factor)
	hi := float64(base) * (1 + factor)
	return time.Duration(lo + rand.Float64()*(hi-lo))
}

// FullJitter returns a duration uniformly distributed in [0, max].
func FullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * float64(max))
}

// DecorrelatedJitter returns a duration uniformly distributed in
// [base, min(max, previous*3)]. When previous is zero it is treated as
// base, so the first call in a retry sequence still returns at least base.
// The result is always within [base, max].
func DecorrelatedJitter(base, max, previous time.Duration) time.Duration {
	if previous <= 0 {
		previous = base
	}
	upper := previous * 3
	if upper > max {
		upper = max
	}
	if upper < base {
		upper = base
	}
	if upper == base {
		return base
	}
	return base + time.Duration(rand.Float64()*float64(upper-base))
}

// ExpBackoff computes min(base*2^attempt, max) and applies Jitter with the
// given factor (default 0.2 when factor <= 0) to the result.
func ExpBackoff(attempt int, base, max time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		factor = 0.2
	}
	if attempt < 0 {
		attempt = 0
	}
	raw := float64(base)
	// Cap the shift to avoid overflow for pathologically large attempt counts;
	// anything beyond ~62 doublings has long since exceeded any sane max.
	shift := attempt
	if shift > 62 {
		shift = 62
	}
	raw *= float64(uint64(1) << uint(shift))
	d := time.Duration(raw)
	if d <= 0 || d > max {
		d = max
	}
	return Jitter(d, factor)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
