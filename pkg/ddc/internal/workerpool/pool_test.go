package workerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true within %s", timeout)
}

func TestPoolSubmitRunsTask(t *testing.T) {
	p := New("ddc_test", "pool_submit", Config{MaxWorkers: 2, QueueDepth: 10})
	ran := atomic.NewBool(false)

	p.Submit(Task{Run: func() { ran.Store(true) }})
	waitUntil(t, time.Second, ran.Load)
}

func TestPoolLenTracksQueueDepth(t *testing.T) {
	p := New("ddc_test", "pool_len", Config{MaxWorkers: 1, QueueDepth: 10})

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(Task{Run: func() { close(started); <-block }})
	<-started // the sole worker is now stuck, so further submissions sit in the queue

	p.Submit(Task{Run: func() {}})
	p.Submit(Task{Run: func() {}})
	assert.EqualValues(t, 2, p.Len())
	close(block)
}

func TestPoolTrySubmitFailsWhenQueueFull(t *testing.T) {
	p := New("ddc_test", "pool_trysubmit", Config{MaxWorkers: 1, QueueDepth: 1})

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(Task{Run: func() { close(started); <-block }})
	<-started // the sole worker is now stuck, leaving the one-deep queue to fill

	require.True(t, p.TrySubmit(Task{Run: func() {}}))
	assert.False(t, p.TrySubmit(Task{Run: func() {}}), "a full queue with a busy worker must reject TrySubmit")
	close(block)
}

func TestDefaultConfigValues(t *testing.T) {
	d := DefaultConfig()
	assert.Equal(t, 30, d.MaxWorkers)
	assert.Equal(t, 10000, d.QueueDepth)
}

// TestPoolFallsBackToDefaultConfigOnZeroValue covers New's guard: an
// invalid Config (zero or negative fields) is replaced with DefaultConfig
// rather than producing a pool with no workers or no queue capacity.
func TestPoolFallsBackToDefaultConfigOnZeroValue(t *testing.T) {
	p := New("ddc_test", "pool_zero_cfg", Config{})
	assert.True(t, p.TrySubmit(Task{Run: func() {}}), "a zero Config must fall back to a usable default, not a zero-capacity queue")
}

func TestPoolShutdownAbandonsQueuedTasksOrRunsThem(t *testing.T) {
	p := New("ddc_test", "pool_shutdown", Config{MaxWorkers: 1, QueueDepth: 10})

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(Task{Run: func() {
		close(started)
		<-block
	}})
	<-started // the single worker is now stuck on this task

	settled := atomic.NewInt32(0)
	p.Submit(Task{
		Run:     func() { settled.Inc() },
		Abandon: func() { settled.Inc() },
	})

	close(block)
	p.Shutdown()
	waitUntil(t, time.Second, func() bool { return settled.Load() == 1 })
}
