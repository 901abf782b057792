// Package gwconfig loads the gateway's YAML configuration file and adapts
// it into the upstream package's plain RouteConfig/UpstreamConfig DTOs —
// the boundary the reliability subsystem's registry builds from. Grounded
// on the pack's YAML-native config loaders (dnstc, ariadne) rather than
// the teacher's own Caddyfile/JSON adapters, which spec.md §1 puts out of
// scope.
package gwconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jeffusion/bungee/internal/upstream"
)

// Upstream is one upstream entry as written in YAML.
type Upstream struct {
	Target   string `yaml:"target"`
	Weight   int    `yaml:"weight"`
	Priority int    `yaml:"priority"`
	Disabled bool   `yaml:"disabled"`
}

// TransformRule is one path-pattern-to-transformer-name binding.
type TransformRule struct {
	PathPattern string `yaml:"pathPattern"`
	Transformer string `yaml:"transformer"`
}

// Route is one route entry as written in YAML.
type Route struct {
	Path        string                   `yaml:"path"`
	Upstreams   []Upstream               `yaml:"upstreams"`
	Failover    upstream.FailoverConfig  `yaml:"failover"`
	HealthCheck upstream.HealthCheckConfig `yaml:"healthCheck"`
	Plugins     []string                 `yaml:"plugins"`
	Transforms  []TransformRule          `yaml:"transforms"`
}

// Server holds the gateway's listener configuration.
type Server struct {
	Addr         string `yaml:"addr"`
	MetricsAddr  string `yaml:"metricsAddr"`
}

// Config is the root document.
type Config struct {
	Server Server  `yaml:"server"`
	Routes []Route `yaml:"routes"`
}

// Load reads and parses the YAML document at path. Apart from a default
// server.addr of ":8080", it does not apply defaults — the
// reliability-subsystem defaults are applied at registry build time
// (spec.md §4.B).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gwconfig: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("gwconfig: parsing %s: %w", path, err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	return &cfg, nil
}

// RouteConfigs adapts the loaded routes into upstream.RouteConfig DTOs for
// Registry.BuildFromConfig.
func (c *Config) RouteConfigs() []upstream.RouteConfig {
	out := make([]upstream.RouteConfig, 0, len(c.Routes))
	for _, r := range c.Routes {
		rc := upstream.RouteConfig{
			Path:        r.Path,
			Failover:    r.Failover,
			HealthCheck: r.HealthCheck,
			Plugins:     r.Plugins,
		}
		for _, u := range r.Upstreams {
			rc.Upstreams = append(rc.Upstreams, upstream.UpstreamConfig{
				Target:   u.Target,
				Weight:   u.Weight,
				Priority: u.Priority,
				Disabled: u.Disabled,
			})
		}
		out = append(out, rc)
	}
	return out
}
