// Package proxy implements the request-snapshot failover driver of
// spec.md §4.G: the attempt loop that turns one client request into one or
// more upstream dispatches, reporting each outcome to the passive tracker
// and handing off to the selector for the next candidate on failure. It
// also owns the two external collaborator contracts spec.md marks
// out-of-scope-but-consumed: internal/transform (wire rewriting) and
// internal/plugin (the request lifecycle hook pool).
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jeffusion/bungee/internal/bungeelog"
	"github.com/jeffusion/bungee/internal/health"
	"github.com/jeffusion/bungee/internal/jitter"
	"github.com/jeffusion/bungee/internal/metrics"
	"github.com/jeffusion/bungee/internal/plugin"
	"github.com/jeffusion/bungee/internal/selector"
	"github.com/jeffusion/bungee/internal/snapshot"
	"github.com/jeffusion/bungee/internal/transform"
	"github.com/jeffusion/bungee/internal/upstream"
)

// retryBase/retryCap/retryFactor are the fixed backoff parameters of
// spec.md §4.G.4: immediate first retry (attempt index 1 has no delay),
// then exponential growth with jitter.
const (
	retryBase   = 100 * time.Millisecond
	retryCap    = 1000 * time.Millisecond
	retryFactor = 0.2
)

// Driver executes the failover loop for one route. A single Driver is
// shared across all routes and requests; it holds no per-request state.
type Driver struct {
	transformerImpl transform.Transformer
	pluginsImpl     plugin.Pool
	httpClientImpl  *http.Client
	tracerImpl      trace.Tracer
}

// NewDriver builds a Driver. A nil httpClient, transformer, or pool falls
// back to http.DefaultClient, PassthroughTransformer, or NopPool
// respectively, so a route configuring none of these still works.
func NewDriver(httpClient *http.Client, transformer transform.Transformer, plugins plugin.Pool) *Driver {
	return &Driver{
		transformerImpl: transformer,
		pluginsImpl:     plugins,
		httpClientImpl:  httpClient,
		tracerImpl:      otel.Tracer("github.com/jeffusion/bungee/internal/proxy"),
	}
}

func (d *Driver) transformer() transform.Transformer {
	if d.transformerImpl == nil {
		return transform.PassthroughTransformer{}
	}
	return d.transformerImpl
}

func (d *Driver) plugins() plugin.Pool {
	if d.pluginsImpl == nil {
		return plugin.NopPool{}
	}
	return d.pluginsImpl
}

func (d *Driver) httpClient() *http.Client {
	if d.httpClientImpl == nil {
		return http.DefaultClient
	}
	return d.httpClientImpl
}

func (d *Driver) tracer() trace.Tracer {
	if d.tracerImpl == nil {
		return otel.Tracer("github.com/jeffusion/bungee/internal/proxy")
	}
	return d.tracerImpl
}

// Execute runs the attempt loop of spec.md §4.G against route for incoming
// request r: read the request exactly once into a Snapshot, then retry
// across eligible upstreams — bounded by len(route.Upstreams) attempts —
// until one succeeds, the client's context is done, or the selector has no
// candidate left.
func (d *Driver) Execute(ctx context.Context, r *http.Request, route *upstream.RouteState) (resp *http.Response, err error) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(route.Path).Observe(time.Since(start).Seconds())
	}()

	snap, err := snapshot.FromRequest(r)
	if err != nil {
		return nil, err
	}

	attempted := make(map[string]bool, len(route.Upstreams))
	maxAttempts := len(route.Upstreams)
	var lastResp *http.Response
	var lastErr error

	for attemptIndex := 0; attemptIndex <= maxAttempts; attemptIndex++ {
		target, pickErr := selector.Pick(route, attempted, time.Now())
		if pickErr != nil {
			metrics.SelectionsTotal.WithLabelValues(route.Path, "exhausted").Inc()
			if lastErr != nil {
				d.runOnError(ctx, route, lastErr)
				return lastResp, lastErr
			}
			return nil, ErrNoAvailableUpstream
		}
		metrics.SelectionsTotal.WithLabelValues(route.Path, "picked").Inc()

		if attemptIndex == 1 {
			metrics.RetriesTotal.WithLabelValues(route.Path).Inc()
		}
		if attemptIndex > 1 {
			delay := jitter.ExpBackoff(attemptIndex-1, retryBase, retryCap, retryFactor)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastResp, ctx.Err()
			case <-timer.C:
			}
		}

		result := d.doAttempt(ctx, snap, route, target, attemptIndex)
		metrics.AttemptsTotal.WithLabelValues(route.Path, target.Target, result.outcomeLabel()).Inc()

		if result.reportHealth {
			health.ReportOutcome(target, route.Failover, result.outcome, time.Now())
		}
		metrics.RecordUpstreamStatus(route.Path, target.Target, target.StatusNow())
		metrics.SlowStartWeight.WithLabelValues(route.Path, target.Target).Set(selector.SlowStartFactor(target, route.Failover, time.Now()))

		if result.outcome == health.Success {
			return result.resp, nil
		}

		if result.terminal {
			return result.resp, result.err
		}

		attempted[target.Target] = true
		lastResp = result.resp
		lastErr = result.err
	}

	d.runOnError(ctx, route, lastErr)
	if lastErr == nil {
		lastErr = ErrUpstreamRetryableStatus
	}
	return lastResp, lastErr
}

// attemptResult is doAttempt's outcome, folding the health classification
// together with what Execute needs to decide whether to retry.
type attemptResult struct {
	resp         *http.Response
	outcome      health.Outcome
	reportHealth bool // false for outcomes that must not move counters
	terminal     bool // true: stop the loop regardless of outcome
	err          error
}

func (r attemptResult) outcomeLabel() string {
	switch r.outcome {
	case health.Success:
		return "success"
	case health.RetryableFailure:
		return "retryable_failure"
	default:
		return "non_retryable_failure"
	}
}

// doAttempt runs exactly one dispatch against target: clone the snapshot,
// apply the route's transformer, run the plugin hook chain around the
// actual HTTP call, and classify the result per spec.md §4.G.e. Plugin
// instances are always released before returning, on every exit path. A
// panicking plugin hook is recovered here and converted into a logged,
// non-retryable outcome — no panic escapes the driver (spec.md §7).
func (d *Driver) doAttempt(ctx context.Context, snap *snapshot.Snapshot, route *upstream.RouteState, target *upstream.RuntimeUpstream, attemptIndex int) (result attemptResult) {
	defer func() {
		if rec := recover(); rec != nil {
			bungeelog.Named("proxy").Error("recovered panic during attempt",
				zap.String("route", route.Path), zap.String("target", target.Target),
				zap.Any("panic", rec))
			result = attemptResult{outcome: health.NonRetryableFailure, err: fmt.Errorf("%w: recovered panic: %v", ErrUpstreamNonRetryableStatus, rec)}
		}
	}()

	working := snap.Clone()

	transformed, err := d.transformer().TransformRequest(working)
	if err != nil {
		bungeelog.Named("proxy").Warn("request transform failed",
			zap.String("route", route.Path), zap.Error(err))
		return attemptResult{outcome: health.NonRetryableFailure, terminal: true, err: fmt.Errorf("%w: %v", ErrUpstreamNonRetryableStatus, err)}
	}
	working = transformed

	attemptID := uuid.NewString()

	timeoutMs := route.Failover.RequestTimeoutMs
	if target.StatusNow() == upstream.StatusHalfOpen {
		timeoutMs = route.Failover.RecoveryTimeoutMs
	}
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	spanCtx, span := d.tracer().Start(attemptCtx, "proxy.attempt", trace.WithAttributes(
		attribute.String("bungee.route", route.Path),
		attribute.String("bungee.target", target.Target),
		attribute.Int("bungee.attempt", attemptIndex),
		attribute.String("bungee.attempt_id", attemptID),
	))
	defer span.End()

	req, err := working.ToHTTPRequest(spanCtx, target.Target)
	if err != nil {
		span.RecordError(err)
		return attemptResult{outcome: health.RetryableFailure, reportHealth: true, err: fmt.Errorf("%w: %v", ErrUpstreamTransport, err)}
	}
	req.Header.Set("X-Bungee-Attempt-Id", attemptID)

	attempt := &plugin.Attempt{RoutePath: route.Path, Target: target.Target, Request: req}
	instances, release, err := d.plugins().Acquire(spanCtx, route.PluginNames)
	if err != nil {
		bungeelog.Named("proxy").Warn("plugin acquire failed",
			zap.String("route", route.Path), zap.Error(err))
		instances, release = nil, func() {}
	}
	defer release()

	for _, p := range instances {
		if hookErr := p.OnRequestInit(spanCtx, attempt); hookErr != nil {
			logPluginHookError(p, "onRequestInit", hookErr)
		}
	}

	for _, p := range instances {
		intercepted, hookErr := p.OnInterceptRequest(spanCtx, attempt)
		if hookErr != nil {
			logPluginHookError(p, "onInterceptRequest", hookErr)
			continue
		}
		if intercepted != nil {
			return attemptResult{resp: intercepted, outcome: health.Success, terminal: true}
		}
	}

	for _, p := range instances {
		if hookErr := p.OnBeforeRequest(spanCtx, attempt); hookErr != nil {
			logPluginHookError(p, "onBeforeRequest", hookErr)
		}
	}

	resp, err := d.httpClient().Do(attempt.Request)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			// The caller's own context ended, not just this attempt's
			// per-dispatch deadline: no further attempt should start.
			return attemptResult{outcome: health.RetryableFailure, reportHealth: true, terminal: true, err: ctx.Err()}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return attemptResult{outcome: health.RetryableFailure, reportHealth: true, err: fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)}
		}
		return attemptResult{outcome: health.RetryableFailure, reportHealth: true, err: fmt.Errorf("%w: %v", ErrUpstreamTransport, err)}
	}

	if route.Failover.IsRetryableStatus(resp.StatusCode) {
		return attemptResult{resp: resp, outcome: health.RetryableFailure, reportHealth: true, err: fmt.Errorf("%w: status %d", ErrUpstreamRetryableStatus, resp.StatusCode)}
	}

	// Any other status, including a 4xx the client will see as an error, is
	// SUCCESS for upstream-health purposes: business errors are not
	// upstream-reliability errors (spec.md §4.G.e).
	final := resp
	for _, p := range instances {
		replaced, hookErr := p.OnResponse(spanCtx, attempt, final)
		if hookErr != nil {
			logPluginHookError(p, "onResponse", hookErr)
			continue
		}
		if replaced != nil {
			final = replaced
		}
	}

	isStream := strings.Contains(strings.ToLower(final.Header.Get("Content-Type")), "text/event-stream")
	if transformedResp, tErr := d.transformer().TransformResponse(final, isStream); tErr != nil {
		bungeelog.Named("proxy").Warn("response transform failed",
			zap.String("route", route.Path), zap.Error(tErr))
	} else if transformedResp != nil {
		final = transformedResp
	}

	return attemptResult{resp: final, outcome: health.Success, reportHealth: true}
}

// runOnError acquires one fresh plugin set — the per-attempt instances have
// already been released by the time the loop is exhausted — and runs the
// exhaustion-only OnError hook (spec.md §4.G.4).
func (d *Driver) runOnError(ctx context.Context, route *upstream.RouteState, cause error) {
	if len(route.PluginNames) == 0 {
		return
	}
	instances, release, err := d.plugins().Acquire(ctx, route.PluginNames)
	if err != nil {
		bungeelog.Named("proxy").Warn("plugin acquire failed for onError",
			zap.String("route", route.Path), zap.Error(err))
		return
	}
	defer release()

	a := &plugin.Attempt{RoutePath: route.Path}
	for _, p := range instances {
		if err := p.OnError(ctx, a, cause); err != nil {
			logPluginHookError(p, "onError", err)
		}
	}
}

func logPluginHookError(p plugin.Plugin, hook string, err error) {
	bungeelog.Named("proxy").Warn("plugin hook failed",
		zap.String("plugin", p.Name()), zap.String("hook", hook), zap.Error(err))
}
