// Package selector implements the weighted-priority selection algorithm of
// spec.md §4.F: priority bucketing, weighted-random choice within a bucket
// with slow-start weight dampening, and the sole path by which an
// UNHEALTHY upstream is admitted as a HALF_OPEN candidate under load.
package selector

import (
	"errors"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jeffusion/bungee/internal/health"
	"github.com/jeffusion/bungee/internal/upstream"
)

// ErrNoAvailableUpstream is returned when every candidate is excluded, or
// no priority tier yields a selectable (or half-open-recoverable) upstream.
var ErrNoAvailableUpstream = errors.New("selector: no available upstream")

// Pick chooses one upstream from rs, skipping any target present in
// excluded (the failover driver's already-attempted set). Priority tiers
// are walked lowest-number first; within the first tier that yields a
// HEALTHY/HALF_OPEN candidate, selection is weighted by effective weight.
// If a tier has no such candidate but does have an UNHEALTHY one eligible
// for recovery, that upstream is transitioned to HALF_OPEN and returned.
func Pick(rs *upstream.RouteState, excluded map[string]bool, now time.Time) (*upstream.RuntimeUpstream, error) {
	candidates := make([]*upstream.RuntimeUpstream, 0, len(rs.Upstreams))
	for _, u := range rs.Upstreams {
		if u.Disabled {
			continue
		}
		if excluded != nil && excluded[u.Target] {
			continue
		}
		candidates = append(candidates, u)
	}
	if len(candidates) == 0 {
		return nil, ErrNoAvailableUpstream
	}

	for _, priority := range sortedPriorities(candidates) {
		bucket := filterByPriority(candidates, priority)

		selectable := filterSelectable(bucket)
		if len(selectable) > 0 {
			return weightedPick(selectable, rs.Failover, now), nil
		}

		if recovered := admitHalfOpen(bucket, rs.Failover, now); recovered != nil {
			return recovered, nil
		}
	}

	return nil, ErrNoAvailableUpstream
}

func sortedPriorities(candidates []*upstream.RuntimeUpstream) []int {
	seen := make(map[int]bool)
	var priorities []int
	for _, u := range candidates {
		if !seen[u.Priority] {
			seen[u.Priority] = true
			priorities = append(priorities, u.Priority)
		}
	}
	sort.Ints(priorities)
	return priorities
}

func filterByPriority(candidates []*upstream.RuntimeUpstream, priority int) []*upstream.RuntimeUpstream {
	out := make([]*upstream.RuntimeUpstream, 0, len(candidates))
	for _, u := range candidates {
		if u.Priority == priority {
			out = append(out, u)
		}
	}
	return out
}

func filterSelectable(bucket []*upstream.RuntimeUpstream) []*upstream.RuntimeUpstream {
	out := make([]*upstream.RuntimeUpstream, 0, len(bucket))
	for _, u := range bucket {
		switch u.StatusNow() {
		case upstream.StatusHealthy, upstream.StatusHalfOpen:
			out = append(out, u)
		}
	}
	return out
}

// admitHalfOpen implements spec.md §4.F.3: the sole path by which the
// selector (never the prober) moves an UNHEALTHY upstream to HALF_OPEN.
func admitHalfOpen(bucket []*upstream.RuntimeUpstream, failover upstream.FailoverConfig, now time.Time) *upstream.RuntimeUpstream {
	for _, u := range bucket {
		if u.StatusNow() != upstream.StatusUnhealthy {
			continue
		}
		if health.TryHalfOpenRecovery(u, failover, now) {
			return u
		}
	}
	return nil
}

// weightedPick draws uniformly over [0, sum(effectiveWeight)) and returns
// the first candidate whose cumulative weight exceeds the draw. If every
// effective weight is 0, it falls back to uniform random choice.
func weightedPick(candidates []*upstream.RuntimeUpstream, failover upstream.FailoverConfig, now time.Time) *upstream.RuntimeUpstream {
	weights := make([]float64, len(candidates))
	var total float64
	for i, u := range candidates {
		w := float64(u.Weight) * SlowStartFactor(u, failover, now)
		weights[i] = w
		total += w
	}

	if total <= 0 {
		return candidates[rand.IntN(len(candidates))]
	}

	draw := rand.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if draw < cumulative {
			return candidates[i]
		}
	}
	// floating point rounding: fall back to the last candidate.
	return candidates[len(candidates)-1]
}

// SlowStartFactor returns the effective-weight multiplier for u at now:
// 1.0 unless slow start is enabled, SlowStartRecoveryTime is set, and now
// is still within the slow-start window, in which case the factor is
// linearly interpolated from InitialWeightFactor to 1.0. u's status is not
// consulted.
func SlowStartFactor(u *upstream.RuntimeUpstream, failover upstream.FailoverConfig, now time.Time) float64 {
	if !failover.SlowStart.Enabled {
		return 1.0
	}
	view := u.View()
	if view.SlowStartRecoveryTime.IsZero() {
		return 1.0
	}
	duration := time.Duration(failover.SlowStart.DurationMs) * time.Millisecond
	elapsed := now.Sub(view.SlowStartRecoveryTime)
	if elapsed >= duration {
		return 1.0
	}
	progress := clamp01(float64(elapsed) / float64(duration))
	f := failover.SlowStart.InitialWeightFactor
	return f + (1-f)*progress
}

// SlowStartProgress returns the percentage (0-100) of the slow-start
// window elapsed, for stats reporting per spec.md §4.F.
func SlowStartProgress(u *upstream.RuntimeUpstream, failover upstream.FailoverConfig, now time.Time) float64 {
	view := u.View()
	if !failover.SlowStart.Enabled || view.SlowStartRecoveryTime.IsZero() {
		return 100
	}
	duration := time.Duration(failover.SlowStart.DurationMs) * time.Millisecond
	elapsed := now.Sub(view.SlowStartRecoveryTime)
	return clamp01(float64(elapsed)/float64(duration)) * 100
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
