package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffusion/bungee/internal/upstream"
)

func defaultFailover() upstream.FailoverConfig {
	return upstream.ResolveFailoverConfig(upstream.FailoverConfig{Enabled: true})
}

func defaultHealthCheck() upstream.HealthCheckConfig {
	return upstream.ResolveHealthCheckConfig(upstream.HealthCheckConfig{Enabled: true, Path: "/health"})
}

// Scenario 1 from spec.md §8: 2 upstreams, consecutiveFailuresThreshold=3,
// 3 consecutive retryable failures on A transitions it to UNHEALTHY with
// counters reset and lastFailureTime set.
func TestPassiveUnhealthyScenario(t *testing.T) {
	failover := defaultFailover()
	failover.ConsecutiveFailuresThreshold = 3
	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)

	now := time.Now()
	ReportOutcome(a, failover, RetryableFailure, now)
	ReportOutcome(a, failover, RetryableFailure, now)
	ev := ReportOutcome(a, failover, RetryableFailure, now)

	require.True(t, ev.Transitioned)
	assert.Equal(t, upstream.StatusUnhealthy, a.StatusNow())
	view := a.View()
	assert.Equal(t, 0, view.ConsecutiveFailures)
	assert.False(t, view.LastFailureTime.IsZero())
}

// Scenario 2: active recovery with healthyThreshold=2 and slow start.
func TestActiveRecoveryWithSlowStart(t *testing.T) {
	failover := defaultFailover()
	failover.SlowStart.Enabled = true
	failover.SlowStart.DurationMs = 30000
	failover.SlowStart.InitialWeightFactor = 0.1
	hc := defaultHealthCheck()
	hc.HealthyThreshold = 2

	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)
	a.Mutate(func(s *upstream.MutableState) {
		s.Status = upstream.StatusUnhealthy
		s.LastFailureTime = time.Now().Add(-time.Minute)
	})

	now := time.Now()
	ev1 := RecordProbe(a, hc, failover, true, now)
	assert.False(t, ev1.Transitioned)
	ev2 := RecordProbe(a, hc, failover, true, now)
	require.True(t, ev2.Transitioned)

	assert.Equal(t, upstream.StatusHealthy, a.StatusNow())
	view := a.View()
	assert.True(t, view.LastFailureTime.IsZero())
	assert.False(t, view.SlowStartRecoveryTime.IsZero())
}

func TestHealthyThresholdOneBoundary(t *testing.T) {
	hc := defaultHealthCheck()
	hc.HealthyThreshold = 1
	failover := defaultFailover()

	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)
	a.Mutate(func(s *upstream.MutableState) { s.Status = upstream.StatusUnhealthy })

	ev := RecordProbe(a, hc, failover, true, time.Now())
	require.True(t, ev.Transitioned)
	assert.Equal(t, upstream.StatusHealthy, a.StatusNow())
}

func TestUnhealthyThresholdOneBoundary(t *testing.T) {
	hc := defaultHealthCheck()
	hc.UnhealthyThreshold = 1
	failover := defaultFailover()

	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)
	ev := RecordProbe(a, hc, failover, false, time.Now())
	require.True(t, ev.Transitioned)
	assert.Equal(t, upstream.StatusUnhealthy, a.StatusNow())
}

func TestHalfOpenPassiveFailureAlwaysTransitionsToUnhealthy(t *testing.T) {
	failover := defaultFailover()
	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)
	a.Mutate(func(s *upstream.MutableState) { s.Status = upstream.StatusHalfOpen })

	ev := ReportOutcome(a, failover, RetryableFailure, time.Now())
	require.True(t, ev.Transitioned)
	assert.Equal(t, upstream.StatusUnhealthy, a.StatusNow())
}

func TestNonRetryableFailureIsStatePreserving(t *testing.T) {
	failover := defaultFailover()
	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)
	before := a.View()

	ev := ReportOutcome(a, failover, NonRetryableFailure, time.Now())
	assert.False(t, ev.Transitioned)
	after := a.View()
	assert.Equal(t, before, after)
}

func TestConsecutiveCountersNeverBothPositive(t *testing.T) {
	failover := defaultFailover()
	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)

	ReportOutcome(a, failover, RetryableFailure, time.Now())
	v := a.View()
	assert.Greater(t, v.ConsecutiveFailures, 0)
	assert.Equal(t, 0, v.ConsecutiveSuccesses)

	ReportOutcome(a, failover, Success, time.Now())
	v = a.View()
	assert.Equal(t, 0, v.ConsecutiveFailures)
	assert.Greater(t, v.ConsecutiveSuccesses, 0)
}

func TestDisabledUpstreamsNeverProbed(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rs := &upstream.RouteState{
		Path:        "/p",
		HealthCheck: upstream.ResolveHealthCheckConfig(upstream.HealthCheckConfig{Enabled: true, Path: "/", IntervalMs: 50}),
		Failover:    defaultFailover(),
		Upstreams: []*upstream.RuntimeUpstream{
			upstream.NewRuntimeUpstream(srv.URL, 100, 1, true),
		},
	}

	prober := NewProber(nil)
	prober.probeAll(context.Background(), rs)
	assert.False(t, called)
}

func TestIdempotenceOfRepeatedSuccessReachesHealthy(t *testing.T) {
	failover := defaultFailover()
	failover.HealthyThreshold = 2
	a := upstream.NewRuntimeUpstream("http://a", 100, 1, false)
	a.Mutate(func(s *upstream.MutableState) { s.Status = upstream.StatusUnhealthy })

	for i := 0; i < 2; i++ {
		ReportOutcome(a, failover, Success, time.Now())
	}
	assert.Equal(t, upstream.StatusHealthy, a.StatusNow())

	// Applying more successes afterward must not un-transition it.
	ReportOutcome(a, failover, Success, time.Now())
	assert.Equal(t, upstream.StatusHealthy, a.StatusNow())
}
