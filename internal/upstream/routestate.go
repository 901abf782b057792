package upstream

// RouteState is the resolved, immutable-for-its-generation configuration and
// live upstream list for one route path.
type RouteState struct {
	Path        string
	Upstreams   []*RuntimeUpstream
	Failover    FailoverConfig
	HealthCheck HealthCheckConfig

	// PluginNames lists the plugins to acquire for every attempt against
	// this route, in hook-execution order. Not part of the reliability
	// core proper, but the driver needs it to exercise the plugin pool
	// contract spec.md §1 hands it as an external collaborator.
	PluginNames []string
}

// Eligible returns the upstreams that are candidates for selection at all:
// not disabled. Status filtering (HEALTHY/HALF_OPEN) happens in the
// selector, which also needs priority/weight information alongside status.
func (rs *RouteState) Eligible() []*RuntimeUpstream {
	out := make([]*RuntimeUpstream, 0, len(rs.Upstreams))
	for _, u := range rs.Upstreams {
		if !u.Disabled {
			out = append(out, u)
		}
	}
	return out
}
