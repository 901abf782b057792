// Package upstream holds the data model and process-wide registry for
// runtime upstream health: the mutable per-upstream state that the passive
// tracker, active prober, state machine, and selector all read and write.
package upstream

import (
	"sync"
	"time"
)

// Status is an upstream's position in the {HEALTHY, UNHEALTHY, HALF_OPEN}
// lifecycle. Only HEALTHY and HALF_OPEN are selectable.
type Status int

const (
	StatusHealthy Status = iota
	StatusUnhealthy
	StatusHalfOpen
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusUnhealthy:
		return "UNHEALTHY"
	case StatusHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MutableState is the counters-and-status tuple that the state machine
// transitions. It is always accessed through RuntimeUpstream.Mutate, which
// holds the upstream's lock for the duration of the callback — the critical
// section a transition must be evaluated and committed under.
type MutableState struct {
	Status                 Status
	LastFailureTime        time.Time // zero value means unset
	ConsecutiveFailures    int
	ConsecutiveSuccesses   int
	HealthCheckSuccesses   int
	HealthCheckFailures    int
	SlowStartRecoveryTime  time.Time // zero value means unset
}

// RuntimeUpstream is one configured upstream of one route, plus its live
// health state. Target/Weight/Priority/Disabled are immutable for the life
// of a config generation; everything else is guarded by mu.
type RuntimeUpstream struct {
	Target   string
	Weight   int
	Priority int
	Disabled bool

	mu    sync.Mutex
	state MutableState
}

// NewRuntimeUpstream constructs an upstream in its initial HEALTHY state.
func NewRuntimeUpstream(target string, weight, priority int, disabled bool) *RuntimeUpstream {
	return &RuntimeUpstream{
		Target:   target,
		Weight:   weight,
		Priority: priority,
		Disabled: disabled,
		state:    MutableState{Status: StatusHealthy},
	}
}

// Mutate runs fn with exclusive access to the upstream's mutable state. It
// is the sole entry point for state-machine transitions: evaluating the
// guard and committing the transition happen inside one call to Mutate, so
// two concurrent successes can never double-transition.
func (u *RuntimeUpstream) Mutate(fn func(*MutableState)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fn(&u.state)
}

// View returns a point-in-time copy of the mutable state, for selection and
// stats reporting.
func (u *RuntimeUpstream) View() MutableState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// StatusNow returns just the current status, the common case for selection.
func (u *RuntimeUpstream) StatusNow() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.Status
}

// View is a read-only snapshot of a RuntimeUpstream for external consumers
// (stats endpoints, logs) that shouldn't reach into the live record.
type View struct {
	Target                string
	Weight                int
	Priority              int
	Disabled              bool
	Status                Status
	LastFailureTime       time.Time
	ConsecutiveFailures   int
	ConsecutiveSuccesses  int
	HealthCheckSuccesses  int
	HealthCheckFailures   int
	SlowStartRecoveryTime time.Time
}

// Snapshot returns an immutable DTO describing this upstream's current
// configuration and health, safe to hand to a stats/admin surface.
func (u *RuntimeUpstream) Snapshot() View {
	s := u.View()
	return View{
		Target:                u.Target,
		Weight:                u.Weight,
		Priority:              u.Priority,
		Disabled:              u.Disabled,
		Status:                s.Status,
		LastFailureTime:       s.LastFailureTime,
		ConsecutiveFailures:   s.ConsecutiveFailures,
		ConsecutiveSuccesses:  s.ConsecutiveSuccesses,
		HealthCheckSuccesses:  s.HealthCheckSuccesses,
		HealthCheckFailures:   s.HealthCheckFailures,
		SlowStartRecoveryTime: s.SlowStartRecoveryTime,
	}
}
