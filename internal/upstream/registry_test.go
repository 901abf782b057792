package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFromConfigSkipsDisabledFailoverAndEmptyUpstreams(t *testing.T) {
	r := NewRegistry()
	r.BuildFromConfig([]RouteConfig{
		{Path: "/a", Failover: FailoverConfig{Enabled: false}, Upstreams: []UpstreamConfig{{Target: "http://a"}}},
		{Path: "/b", Failover: FailoverConfig{Enabled: true}, Upstreams: nil},
		{Path: "/c", Failover: FailoverConfig{Enabled: true}, Upstreams: []UpstreamConfig{{Target: "http://c"}}},
	})

	assert.Nil(t, r.GetRoute("/a"))
	assert.Nil(t, r.GetRoute("/b"))
	require.NotNil(t, r.GetRoute("/c"))
}

func TestBuildFromConfigAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	r.BuildFromConfig([]RouteConfig{
		{
			Path:     "/api",
			Failover: FailoverConfig{Enabled: true},
			Upstreams: []UpstreamConfig{
				{Target: "http://one"},
				{Target: "http://two", Weight: 50, Priority: 2},
			},
		},
	})

	rs := r.GetRoute("/api")
	require.NotNil(t, rs)
	require.Len(t, rs.Upstreams, 2)
	assert.Equal(t, DefaultWeight, rs.Upstreams[0].Weight)
	assert.Equal(t, DefaultPriority, rs.Upstreams[0].Priority)
	assert.Equal(t, 50, rs.Upstreams[1].Weight)
	assert.Equal(t, 2, rs.Upstreams[1].Priority)
	assert.Equal(t, DefaultConsecutiveFailuresThreshold, rs.Failover.ConsecutiveFailuresThreshold)
	assert.Equal(t, StatusHealthy, rs.Upstreams[0].StatusNow())
}

func TestBuildFromConfigIsAtomicAcrossGenerations(t *testing.T) {
	r := NewRegistry()
	r.BuildFromConfig([]RouteConfig{
		{Path: "/v1", Failover: FailoverConfig{Enabled: true}, Upstreams: []UpstreamConfig{{Target: "http://v1"}}},
	})
	first := r.GetRoute("/v1")
	require.NotNil(t, first)

	r.BuildFromConfig([]RouteConfig{
		{Path: "/v2", Failover: FailoverConfig{Enabled: true}, Upstreams: []UpstreamConfig{{Target: "http://v2"}}},
	})

	// the old RouteState value a reader already holds keeps serving; the
	// registry itself no longer exposes the old route.
	assert.Equal(t, "http://v1", first.Upstreams[0].Target)
	assert.Nil(t, r.GetRoute("/v1"))
	assert.NotNil(t, r.GetRoute("/v2"))
}

func TestClearEmptiesRegistry(t *testing.T) {
	r := NewRegistry()
	r.BuildFromConfig([]RouteConfig{
		{Path: "/x", Failover: FailoverConfig{Enabled: true}, Upstreams: []UpstreamConfig{{Target: "http://x"}}},
	})
	require.NotNil(t, r.GetRoute("/x"))
	r.Clear()
	assert.Nil(t, r.GetRoute("/x"))
}

func TestDisabledUpstreamExcludedFromEligible(t *testing.T) {
	rs := &RouteState{
		Upstreams: []*RuntimeUpstream{
			NewRuntimeUpstream("http://a", 100, 1, false),
			NewRuntimeUpstream("http://b", 100, 1, true),
		},
	}
	eligible := rs.Eligible()
	require.Len(t, eligible, 1)
	assert.Equal(t, "http://a", eligible[0].Target)
}
