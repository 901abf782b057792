package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffusion/bungee/internal/upstream"
)

func TestProberMarksUnhealthyAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthCheckUserAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hc := upstream.ResolveHealthCheckConfig(upstream.HealthCheckConfig{Enabled: true, Path: "/", IntervalMs: 50, UnhealthyThreshold: 2})
	rs := &upstream.RouteState{
		Path:        "/p",
		HealthCheck: hc,
		Failover:    upstream.ResolveFailoverConfig(upstream.FailoverConfig{Enabled: true}),
		Upstreams:   []*upstream.RuntimeUpstream{upstream.NewRuntimeUpstream(srv.URL, 100, 1, false)},
	}

	prober := NewProber(srv.Client())
	prober.Start(rs)
	defer prober.StopAll()

	require.Eventually(t, func() bool {
		return rs.Upstreams[0].StatusNow() == upstream.StatusUnhealthy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProberStartStopIdempotent(t *testing.T) {
	hc := upstream.ResolveHealthCheckConfig(upstream.HealthCheckConfig{Enabled: true, Path: "/", IntervalMs: 1000})
	rs := &upstream.RouteState{Path: "/idem", HealthCheck: hc, Failover: upstream.ResolveFailoverConfig(upstream.FailoverConfig{Enabled: true})}

	prober := NewProber(nil)
	prober.Start(rs)
	prober.Start(rs) // no-op, must not panic or double-start
	prober.Stop("/idem")
	prober.Stop("/idem") // no-op
	prober.StopAll()
}

func TestProbeAllFansOutConcurrently(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hc := upstream.ResolveHealthCheckConfig(upstream.HealthCheckConfig{Enabled: true, Path: "/"})
	rs := &upstream.RouteState{
		HealthCheck: hc,
		Failover:    upstream.ResolveFailoverConfig(upstream.FailoverConfig{Enabled: true}),
		Upstreams: []*upstream.RuntimeUpstream{
			upstream.NewRuntimeUpstream(srv.URL, 100, 1, false),
			upstream.NewRuntimeUpstream(srv.URL, 100, 1, false),
			upstream.NewRuntimeUpstream(srv.URL, 100, 1, false),
		},
	}

	prober := NewProber(srv.Client())
	prober.probeAll(context.Background(), rs)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}
