// Package metrics exposes the gateway's Prometheus surface: selection and
// retry counters for the failover driver, and a status gauge for the
// reliability subsystem's view of each upstream. Grounded on the
// client_golang promauto idiom the pack's metrics-exporting examples use —
// package-level collectors registered against the default registry at
// import time, read by the /metrics handler internal/gateway serves on its
// separate metrics listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeffusion/bungee/internal/upstream"
)

var (
	// SelectionsTotal counts every selector.Pick outcome, including failures.
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bungee",
		Subsystem: "selector",
		Name:      "selections_total",
		Help:      "Upstream selections by route and outcome.",
	}, []string{"route", "outcome"})

	// AttemptsTotal counts every dispatched attempt by its health outcome.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bungee",
		Subsystem: "proxy",
		Name:      "attempts_total",
		Help:      "Upstream dispatch attempts by route, target, and outcome.",
	}, []string{"route", "target", "outcome"})

	// RetriesTotal counts requests that required at least one retry.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bungee",
		Subsystem: "proxy",
		Name:      "retries_total",
		Help:      "Requests that performed at least one retry, by route.",
	}, []string{"route"})

	// RequestDuration observes end-to-end request latency including retries.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bungee",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "End-to-end request latency including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// UpstreamStatus reports the current Status of each upstream (0=HEALTHY,
	// 1=UNHEALTHY, 2=HALF_OPEN) so dashboards can alert on flapping.
	UpstreamStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bungee",
		Subsystem: "upstream",
		Name:      "status",
		Help:      "Upstream status: 0=HEALTHY, 1=UNHEALTHY, 2=HALF_OPEN.",
	}, []string{"route", "target"})

	// SlowStartWeight reports the current slow-start effective-weight factor
	// (0-1) per upstream, for ramp visibility.
	SlowStartWeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bungee",
		Subsystem: "upstream",
		Name:      "slow_start_factor",
		Help:      "Current slow-start weight multiplier, 1.0 once ramped.",
	}, []string{"route", "target"})

	// ProbeDuration observes active health-check probe latency.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bungee",
		Subsystem: "healthcheck",
		Name:      "probe_duration_seconds",
		Help:      "Active health probe latency by route and target.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"route", "target"})
)

// RecordUpstreamStatus sets the status gauge for one upstream.
func RecordUpstreamStatus(route, target string, status upstream.Status) {
	var v float64
	switch status {
	case upstream.StatusUnhealthy:
		v = 1
	case upstream.StatusHalfOpen:
		v = 2
	}
	UpstreamStatus.WithLabelValues(route, target).Set(v)
}
