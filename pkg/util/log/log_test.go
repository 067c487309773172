package log

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLogger struct {
	calls int
}

func (c *countingLogger) Log(keyvals ...interface{}) error {
	c.calls++
	return nil
}

func TestSetLoggerReplacesPackageLogger(t *testing.T) {
	orig := Logger
	defer func() { Logger = orig }()

	next := &countingLogger{}
	SetLogger(next)
	require.NoError(t, Logger.Log("msg", "hello"))
	assert.Equal(t, 1, next.calls)
}

func TestRateLimitedLoggerAllowsBurstThenDrops(t *testing.T) {
	next := &countingLogger{}
	rl := NewRateLimitedLogger(2, next)

	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Log("i", i))
	}
	// the burst is exhausted; further calls within the same instant must be
	// silently dropped rather than forwarded.
	require.NoError(t, rl.Log("i", "over-budget"))

	assert.Equal(t, 2, next.calls, "calls beyond the configured rate must not reach the wrapped logger")
}

func TestRateLimitedLoggerWrapsNopLoggerWithoutPanicking(t *testing.T) {
	rl := NewRateLimitedLogger(5, log.NewNopLogger())
	assert.NotPanics(t, func() {
		_ = rl.Log("msg", "anything")
	})
}
