// Package log holds the process-wide go-kit logger and a small rate-limited
// wrapper for hot paths that would otherwise flood output (e.g. a cleanup
// sweep warning on every file remove failure), grounded on
// pkg/util/log/rate_limited_logger_test.go's API shape.
package log

import (
	"github.com/go-kit/log"
	"golang.org/x/time/rate"
)

// Logger is the process-wide logger every component logs through (directly,
// or via a level.X wrapper). Defaults to discarding output until SetLogger
// is called once the real sink is configured.
var Logger = log.NewNopLogger()

// SetLogger replaces the package-wide Logger.
func SetLogger(l log.Logger) {
	Logger = l
}

// rateLimitedLogger forwards at most limitPerSecond Log calls per second to
// next, silently dropping the rest.
type rateLimitedLogger struct {
	next    log.Logger
	limiter *rate.Limiter
}

// NewRateLimitedLogger wraps next behind a token-bucket limiter allowing
// limitPerSecond calls per second.
func NewRateLimitedLogger(limitPerSecond int, next log.Logger) log.Logger {
	return &rateLimitedLogger{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(limitPerSecond), limitPerSecond),
	}
}

func (r *rateLimitedLogger) Log(keyvals ...interface{}) error {
	if !r.limiter.Allow() {
		return nil
	}
	return r.next.Log(keyvals...)
}
