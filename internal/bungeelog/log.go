// Package bungeelog holds the gateway's default structured logger.
//
// It mirrors caddy's logging.go Log()/defaultLogger pattern: a process-wide
// production JSON logger that callers fetch through a function rather than
// a package variable, swappable (by tests, for example) through SetDefault.
package bungeelog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   = mustNewProduction()
)

func mustNewProduction() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		// zap's production config only fails to build on a broken sink;
		// stderr is always available, so fall back to a minimal logger
		// rather than panicking out of an init path.
		return zap.NewNop()
	}
	return logger
}

// Log returns the current default logger.
func Log() *zap.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the default logger, returning the previous one so
// callers (tests in particular) can restore it afterward.
func SetDefault(l *zap.Logger) *zap.Logger {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	old := defaultLogger
	defaultLogger = l
	return old
}

// Named returns the default logger scoped with the given component name,
// the way each caddy module calls ctx.Logger() to get a named sub-logger.
func Named(name string) *zap.Logger {
	return Log().Named(name)
}
