// Package health implements the passive tracker, active prober, and shared
// state machine of the upstream reliability subsystem (spec.md §4.C-E). The
// transition table in state.go is the single place state transitions live;
// passive.go and active.go are both thin callers of it.
package health

import (
	"time"

	"github.com/jeffusion/bungee/internal/upstream"
)

// Event describes a transition that did or didn't happen, for logging.
// PreResetCount is the counter value observed immediately before it was
// reset to 0 — spec.md §9 calls out that the source logs the post-reset
// (always zero) value, which reads as "healthy after 0 successes"; we log
// the pre-reset value instead, since that's the number that actually
// satisfied the threshold.
type Event struct {
	Transitioned  bool
	From          upstream.Status
	To            upstream.Status
	Cause         string
	PreResetCount int
}

// applyPassiveSuccess is the SUCCESS arm of spec.md §4.C, folding in the
// HEALTHY-transition guard of §4.E.
func applyPassiveSuccess(s *upstream.MutableState, failover upstream.FailoverConfig, now time.Time) Event {
	s.ConsecutiveSuccesses++
	s.ConsecutiveFailures = 0

	if s.Status == upstream.StatusUnhealthy || s.Status == upstream.StatusHalfOpen {
		if s.ConsecutiveSuccesses >= failover.HealthyThreshold {
			pre := s.ConsecutiveSuccesses
			from := s.Status
			s.Status = upstream.StatusHealthy
			s.LastFailureTime = time.Time{}
			if failover.SlowStart.Enabled {
				s.SlowStartRecoveryTime = now
			}
			s.ConsecutiveSuccesses = 0
			return Event{Transitioned: true, From: from, To: upstream.StatusHealthy, Cause: "passive_success", PreResetCount: pre}
		}
	}
	return Event{}
}

// applyPassiveFailure is the RETRYABLE_FAILURE arm of spec.md §4.C.
func applyPassiveFailure(s *upstream.MutableState, failover upstream.FailoverConfig, now time.Time) Event {
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.LastFailureTime = now

	switch s.Status {
	case upstream.StatusHealthy:
		if s.ConsecutiveFailures >= failover.ConsecutiveFailuresThreshold {
			pre := s.ConsecutiveFailures
			s.Status = upstream.StatusUnhealthy
			s.ConsecutiveFailures = 0
			return Event{Transitioned: true, From: upstream.StatusHealthy, To: upstream.StatusUnhealthy, Cause: "passive_failure", PreResetCount: pre}
		}
	case upstream.StatusHalfOpen:
		pre := s.ConsecutiveFailures
		s.Status = upstream.StatusUnhealthy
		s.ConsecutiveFailures = 0
		return Event{Transitioned: true, From: upstream.StatusHalfOpen, To: upstream.StatusUnhealthy, Cause: "passive_failure", PreResetCount: pre}
	}
	return Event{}
}

// applyProbeSuccess is the active-probe success arm of spec.md §4.D.
func applyProbeSuccess(s *upstream.MutableState, hc upstream.HealthCheckConfig, failover upstream.FailoverConfig, now time.Time) Event {
	s.HealthCheckSuccesses++
	s.HealthCheckFailures = 0

	if s.Status == upstream.StatusUnhealthy || s.Status == upstream.StatusHalfOpen {
		if s.HealthCheckSuccesses >= hc.HealthyThreshold {
			pre := s.HealthCheckSuccesses
			from := s.Status
			s.Status = upstream.StatusHealthy
			s.LastFailureTime = time.Time{}
			if failover.SlowStart.Enabled {
				s.SlowStartRecoveryTime = now
			}
			s.HealthCheckSuccesses = 0
			return Event{Transitioned: true, From: from, To: upstream.StatusHealthy, Cause: "probe_success", PreResetCount: pre}
		}
	}
	return Event{}
}

// applyProbeFailure is the active-probe failure arm of spec.md §4.D.
func applyProbeFailure(s *upstream.MutableState, hc upstream.HealthCheckConfig, now time.Time) Event {
	s.HealthCheckFailures++
	s.HealthCheckSuccesses = 0

	if s.Status == upstream.StatusHealthy {
		if s.HealthCheckFailures >= hc.UnhealthyThreshold {
			pre := s.HealthCheckFailures
			s.Status = upstream.StatusUnhealthy
			s.LastFailureTime = now
			s.HealthCheckFailures = 0
			return Event{Transitioned: true, From: upstream.StatusHealthy, To: upstream.StatusUnhealthy, Cause: "probe_failure", PreResetCount: pre}
		}
		return Event{}
	}

	// already not healthy: only the timestamp moves
	s.LastFailureTime = now
	return Event{}
}

// tryHalfOpenRecovery is the sole path (spec.md §4.E, §4.F.3) by which an
// UNHEALTHY upstream becomes a HALF_OPEN candidate: driven by the selector
// under load, never by the prober.
func tryHalfOpenRecovery(s *upstream.MutableState, failover upstream.FailoverConfig, now time.Time) bool {
	if s.Status != upstream.StatusUnhealthy {
		return false
	}
	if s.LastFailureTime.IsZero() {
		return false
	}
	if now.Sub(s.LastFailureTime) >= time.Duration(failover.RecoveryIntervalMs)*time.Millisecond {
		s.Status = upstream.StatusHalfOpen
		return true
	}
	return false
}

// TryHalfOpenRecovery mutates u under lock if it is eligible to become the
// one HALF_OPEN admission candidate at this instant. Exported so the
// selector (the only caller per spec.md §4.F.3) can drive it without
// reaching into upstream's lock directly.
func TryHalfOpenRecovery(u *upstream.RuntimeUpstream, failover upstream.FailoverConfig, now time.Time) bool {
	var did bool
	u.Mutate(func(s *upstream.MutableState) {
		did = tryHalfOpenRecovery(s, failover, now)
	})
	return did
}
