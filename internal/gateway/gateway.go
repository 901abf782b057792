// Package gateway is the lifecycle coordinator and HTTP front door of
// spec.md §4.H: it owns the upstream registry, the active prober, and the
// failover driver, and wires a chi router that dispatches matched routes
// into the driver. Grounded on caddy's Context construct/cancel/OnCancel
// pattern (context.go), generalized from "module lifetime" to "route-state
// generation lifetime": Reload tears down the previous generation's
// probers before starting the next one, the same way caddy cancels the
// old config's context before the new one takes over.
//
// The outer chi.Router is built once and mounted into the http.Server for
// the process's life; it carries middleware.Recoverer so a panic escaping
// this package's own handler chain still yields a 500 instead of killing
// the server. Each Reload compiles a fresh inner *chi.Mux with one real
// chi route registered per configured path — not a single wildcard — so
// chi's own trie actually does the matching; the inner mux is swapped in
// atomically, the same generation-swap discipline the rest of this package
// uses for the registry and driver.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jeffusion/bungee/internal/bungeelog"
	"github.com/jeffusion/bungee/internal/gwconfig"
	"github.com/jeffusion/bungee/internal/health"
	"github.com/jeffusion/bungee/internal/metrics"
	"github.com/jeffusion/bungee/internal/plugin"
	"github.com/jeffusion/bungee/internal/proxy"
	"github.com/jeffusion/bungee/internal/selector"
	"github.com/jeffusion/bungee/internal/transform"
	"github.com/jeffusion/bungee/internal/upstream"
)

// Gateway coordinates the reliability subsystem's generation lifecycle and
// serves as the HTTP entry point. One Gateway handles every configured
// route; routes not present in the registry are not managed by the
// reliability subsystem and receive 404 rather than a bare passthrough
// proxy, since plain reverse-proxying without failover is out of this
// repository's scope.
type Gateway struct {
	httpClient        *http.Client
	registry          *upstream.Registry
	prober            *health.Prober
	pluginRegistry    *plugin.Registry
	transformRegistry *transform.Registry
	driver            atomic.Pointer[proxy.Driver]
	routes            atomic.Pointer[chi.Mux]
	router            chi.Router
	metricsServer     *http.Server
}

// New constructs a Gateway. pluginRegistry/transformRegistry may be nil,
// in which case an empty registry is used and no named plugin or
// transformer is resolvable: attempts run without plugins, and a config
// naming a transformer fails Reload.
func New(httpClient *http.Client, pluginRegistry *plugin.Registry, transformRegistry *transform.Registry) *Gateway {
	if pluginRegistry == nil {
		pluginRegistry = plugin.NewRegistry()
	}
	if transformRegistry == nil {
		transformRegistry = transform.NewRegistry()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	g := &Gateway{
		httpClient:        httpClient,
		registry:          upstream.NewRegistry(),
		prober:            health.NewProber(httpClient),
		pluginRegistry:    pluginRegistry,
		transformRegistry: transformRegistry,
	}
	g.driver.Store(proxy.NewDriver(httpClient, nil, plugin.RegistryPool{Registry: pluginRegistry}))
	g.routes.Store(emptyMux())

	outer := chi.NewRouter()
	outer.Use(middleware.Recoverer)
	outer.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.routes.Load().ServeHTTP(w, r)
	}))
	g.router = outer
	return g
}

func emptyMux() *chi.Mux {
	m := chi.NewMux()
	m.NotFound(notFoundHandler)
	return m
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "bungee: no route configured for "+r.URL.Path, http.StatusNotFound)
}

// Router returns the chi.Router front door, for embedding in an
// http.Server.
func (g *Gateway) Router() chi.Router {
	return g.router
}

// Start is the first Reload: there is no structurally distinct bootstrap
// step, matching caddy's "every config application is a replace."
func (g *Gateway) Start(cfg *gwconfig.Config) error {
	if cfg.Server.MetricsAddr != "" {
		g.startMetricsServer(cfg.Server.MetricsAddr)
	}
	return g.Reload(cfg)
}

// Reload swaps in a new route-state generation: it builds the combined
// transformer set and a fresh Driver from it, stops every prober in the
// current generation, replaces the registry, and starts probers for the
// new generation. In-flight requests against the old generation's
// RouteStates keep running to completion — nothing in upstream ever
// mutates a published RouteState.
func (g *Gateway) Reload(cfg *gwconfig.Config) error {
	var rules []transform.RuleConfig
	for _, r := range cfg.Routes {
		for _, t := range r.Transforms {
			rules = append(rules, transform.RuleConfig{PathPattern: t.PathPattern, Transformer: t.Transformer})
		}
	}
	rt, err := transform.BuildRuleTransformer(g.transformRegistry, rules)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	newDriver := proxy.NewDriver(g.httpClient, rt, plugin.RegistryPool{Registry: g.pluginRegistry})

	g.prober.StopAll()
	g.registry.BuildFromConfig(cfg.RouteConfigs())
	g.driver.Store(newDriver)

	mux := chi.NewRouter()
	mux.NotFound(notFoundHandler)

	now := time.Now()
	g.registry.ForEachRoute(func(rs *upstream.RouteState) {
		g.prober.Start(rs)
		for _, u := range rs.Upstreams {
			metrics.RecordUpstreamStatus(rs.Path, u.Target, u.StatusNow())
			metrics.SlowStartWeight.WithLabelValues(rs.Path, u.Target).Set(selector.SlowStartFactor(u, rs.Failover, now))
		}
		mux.Handle(rs.Path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.dispatch(w, r, rs)
		}))
	})
	g.routes.Store(mux)

	bungeelog.Named("gateway").Info("configuration applied", zap.Int("routes", len(cfg.Routes)))
	return nil
}

// Shutdown stops every active prober and empties the registry. In-flight
// requests are left to the caller's own http.Server.Shutdown to drain.
func (g *Gateway) Shutdown(_ context.Context) error {
	g.prober.StopAll()
	g.registry.Clear()
	if g.metricsServer != nil {
		return g.metricsServer.Close()
	}
	return nil
}

func (g *Gateway) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	g.metricsServer = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := g.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			bungeelog.Named("gateway").Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// ServeHTTP lets a Gateway itself be mounted as an http.Handler; it simply
// defers to the currently published chi route set.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// dispatch runs one request against route's failover driver. It is bound
// into the chi mux for route.Path by Reload, one handler per route, so
// chi's own path trie — not a hand-rolled switch — is what matches a
// request to its RouteState.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request, route *upstream.RouteState) {
	resp, err := g.driver.Load().Execute(r.Context(), r, route)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, proxy.ErrNoAvailableUpstream):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.Canceled):
			status = 499
		case errors.Is(err, proxy.ErrUpstreamTimeout):
			status = http.StatusGatewayTimeout
		}
		bungeelog.Named("gateway").Warn("request failed",
			zap.String("route", route.Path), zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
