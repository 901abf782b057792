package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffusion/bungee/internal/bungeelog"
	"github.com/jeffusion/bungee/internal/jitter"
	"github.com/jeffusion/bungee/internal/metrics"
	"github.com/jeffusion/bungee/internal/upstream"
)

// healthCheckUserAgent is the fixed User-Agent every probe request carries,
// per spec.md §6.
const healthCheckUserAgent = "Bungee-HealthCheck/1.0"

// Prober is the per-route active health check scheduler of spec.md §4.D.
// It owns its own ticker and per-route goroutine; the registry it probes
// against owns the upstream records themselves, so the prober holds no
// cyclic reference back into anything that owns probers (spec.md §9).
type Prober struct {
	client *http.Client

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewProber returns a Prober using client for probe dispatch, or
// http.DefaultClient's transport defaults if client is nil.
func NewProber(client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{client: client, cancels: make(map[string]context.CancelFunc)}
}

// Start begins probing rs's upstreams on a timer, unless already running
// for this route path (idempotent).
func (p *Prober) Start(rs *upstream.RouteState) {
	if !rs.HealthCheck.Enabled {
		return
	}
	p.mu.Lock()
	if _, running := p.cancels[rs.Path]; running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancels[rs.Path] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, rs)
}

// Stop halts the ticker for path and cancels any in-flight probe.
// Idempotent: stopping an unstarted or already-stopped route is a no-op.
func (p *Prober) Stop(path string) {
	p.mu.Lock()
	cancel, running := p.cancels[path]
	if running {
		delete(p.cancels, path)
	}
	p.mu.Unlock()
	if running {
		cancel()
	}
}

// StopAll halts every running probe loop and waits for them to exit.
func (p *Prober) StopAll() {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = make(map[string]context.CancelFunc)
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context, rs *upstream.RouteState) {
	defer p.wg.Done()

	// Desynchronize routes at boot: spec.md §4.D.2.
	select {
	case <-time.After(jitter.Jitter(100*time.Millisecond, 0.5)):
	case <-ctx.Done():
		return
	}
	p.probeAll(ctx, rs)

	interval := time.Duration(rs.HealthCheck.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Desynchronize ticks across routes: spec.md §4.D.3 specifies
			// Jitter(0, 0.1*interval), but Jitter's base argument is the
			// point the distribution is centered on — Jitter(0, f) always
			// returns exactly 0 regardless of f. The only reading that
			// produces the stated "ticks don't align into bursts" effect is
			// a full-jitter delay spanning [0, 10% of interval].
			delay := jitter.FullJitter(time.Duration(float64(interval) * 0.1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			p.probeAll(ctx, rs)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context, rs *upstream.RouteState) {
	var wg sync.WaitGroup
	for _, u := range rs.Upstreams {
		if u.Disabled {
			continue
		}
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.probeOne(ctx, rs, u)
		}()
	}
	wg.Wait()
}

func (p *Prober) probeOne(ctx context.Context, rs *upstream.RouteState, u *upstream.RuntimeUpstream) {
	timeout := time.Duration(rs.HealthCheck.TimeoutMs) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probeStart := time.Now()
	success := p.dispatch(reqCtx, rs, u)
	metrics.ProbeDuration.WithLabelValues(rs.Path, u.Target).Observe(time.Since(probeStart).Seconds())

	ev := RecordProbe(u, rs.HealthCheck, rs.Failover, success, time.Now())
	logTransition(u.Target, ev)

	bungeelog.Named("health").Debug("active probe",
		zap.String("target", u.Target),
		zap.Bool("success", success),
	)
}

func (p *Prober) dispatch(ctx context.Context, rs *upstream.RouteState, u *upstream.RuntimeUpstream) bool {
	req, err := http.NewRequestWithContext(ctx, rs.HealthCheck.Method, u.Target+rs.HealthCheck.Path, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", healthCheckUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return statusExpected(resp.StatusCode, rs.HealthCheck.ExpectedStatus)
}

func statusExpected(status int, expected []int) bool {
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}

// RecordProbe updates u's active-probe counters from a synthetic health
// check result and, if the guard in spec.md §4.E is satisfied, commits a
// state transition. Exported so tests (and an out-of-process health check
// runner, should one ever replace Prober's own HTTP dispatch) can feed
// results in directly.
func RecordProbe(u *upstream.RuntimeUpstream, hc upstream.HealthCheckConfig, failover upstream.FailoverConfig, success bool, now time.Time) Event {
	var ev Event
	u.Mutate(func(s *upstream.MutableState) {
		if success {
			ev = applyProbeSuccess(s, hc, failover, now)
		} else {
			ev = applyProbeFailure(s, hc, now)
		}
	})
	return ev
}
