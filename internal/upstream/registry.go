package upstream

import "sync/atomic"

// UpstreamConfig is one upstream entry as supplied by the configuration
// loader, before weight/priority defaults are applied.
type UpstreamConfig struct {
	Target   string
	Weight   int
	Priority int
	Disabled bool
}

// RouteConfig is one route entry as supplied by the configuration loader.
type RouteConfig struct {
	Path        string
	Upstreams   []UpstreamConfig
	Failover    FailoverConfig
	HealthCheck HealthCheckConfig
	Plugins     []string
}

const (
	DefaultWeight   = 100
	DefaultPriority = 1
)

// Registry is the process-wide mapping from route path to RouteState. It is
// built from configuration at startup and on every reload; BuildFromConfig
// is atomic with respect to concurrent readers via a single pointer swap —
// readers always see either the prior generation or the next, never a mix,
// and in-flight requests on the old generation keep running to completion
// because nothing ever mutates a RouteState after it's published.
type Registry struct {
	generation atomic.Pointer[map[string]*RouteState]
}

// NewRegistry returns an empty, ready-to-use registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]*RouteState)
	r.generation.Store(&empty)
	return r
}

// BuildFromConfig replaces all routing state. Only routes with
// failover.enabled and at least one upstream are registered; all others
// bypass the reliability subsystem entirely and are silently omitted here
// (internal/gateway answers requests for them with 404).
func (r *Registry) BuildFromConfig(routes []RouteConfig) {
	next := make(map[string]*RouteState, len(routes))
	for _, rc := range routes {
		if !rc.Failover.Enabled || len(rc.Upstreams) == 0 {
			continue
		}
		rs := &RouteState{
			Path:        rc.Path,
			Failover:    ResolveFailoverConfig(rc.Failover),
			HealthCheck: ResolveHealthCheckConfig(rc.HealthCheck),
			PluginNames: rc.Plugins,
		}
		for _, uc := range rc.Upstreams {
			weight := uc.Weight
			if weight <= 0 {
				weight = DefaultWeight
			}
			priority := uc.Priority
			if priority <= 0 {
				priority = DefaultPriority
			}
			rs.Upstreams = append(rs.Upstreams, NewRuntimeUpstream(uc.Target, weight, priority, uc.Disabled))
		}
		next[rc.Path] = rs
	}
	r.generation.Store(&next)
}

// GetRoute returns the RouteState registered for path, or nil if the route
// isn't managed by the reliability subsystem.
func (r *Registry) GetRoute(path string) *RouteState {
	gen := *r.generation.Load()
	return gen[path]
}

// ForEachRoute calls fn for every currently registered route. fn must not
// retain the RouteState beyond the call if a reload could be racing it;
// within one call the snapshot is consistent.
func (r *Registry) ForEachRoute(fn func(*RouteState)) {
	gen := *r.generation.Load()
	for _, rs := range gen {
		fn(rs)
	}
}

// Clear empties the registry, e.g. during shutdown.
func (r *Registry) Clear() {
	empty := make(map[string]*RouteState)
	r.generation.Store(&empty)
}
