package health

import (
	"time"

	"go.uber.org/zap"

	"github.com/jeffusion/bungee/internal/bungeelog"
	"github.com/jeffusion/bungee/internal/upstream"
)

// Outcome is the classification of one live request against an upstream,
// per spec.md §4.C.
type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	NonRetryableFailure
)

// ReportOutcome updates u's passive counters from a live request outcome
// and, if the guard in spec.md §4.E is satisfied, commits a state
// transition. NonRetryableFailure is state-preserving: it neither moves a
// counter nor can trigger a transition.
func ReportOutcome(u *upstream.RuntimeUpstream, failover upstream.FailoverConfig, outcome Outcome, now time.Time) Event {
	var ev Event
	u.Mutate(func(s *upstream.MutableState) {
		switch outcome {
		case Success:
			ev = applyPassiveSuccess(s, failover, now)
		case RetryableFailure:
			ev = applyPassiveFailure(s, failover, now)
		case NonRetryableFailure:
			// state-preserving: counters and status are untouched.
		}
	})
	logTransition(u.Target, ev)
	return ev
}

func logTransition(target string, ev Event) {
	if !ev.Transitioned {
		return
	}
	bungeelog.Named("health").Info("upstream state transition",
		zap.String("target", target),
		zap.String("from", ev.From.String()),
		zap.String("to", ev.To.String()),
		zap.String("cause", ev.Cause),
		zap.Int("consecutive_count", ev.PreResetCount),
	)
}
