package wrap

import (
	"runtime"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/internal/workerpool"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// AsyncPutWrapper makes every Put fire-and-forget: the call returns once
// the payload is recorded in the in-flight bookkeeping, and the actual
// inner write runs on the worker pool (spec.md §4.5).
type AsyncPutWrapper struct {
	inner  backend.Backend
	pool   *workerpool.Pool
	logger log.Logger
	stats  *usagestats.Counter

	// pending is the async-completion counter shared with the top-level
	// Cache so WaitForQuiescence can tell when every dispatched write has
	// settled.
	pending *atomic.Int64

	useInflightCache bool
	mu               sync.Mutex
	inFlight         map[backend.Key]struct{}
	inflightCache    map[backend.Key][]byte
}

var _ backend.Backend = (*AsyncPutWrapper)(nil)

// NewAsyncPutWrapper decorates inner, dispatching writes through pool and
// tracking outstanding work in pending. useInflightCache enables serving
// Get/ProbablyExists from the in-flight payload before the inner write
// lands, matching the root AsyncPut's usual configuration.
func NewAsyncPutWrapper(inner backend.Backend, pool *workerpool.Pool, pending *atomic.Int64, useInflightCache bool, logger log.Logger) *AsyncPutWrapper {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &AsyncPutWrapper{
		inner:            inner,
		pool:             pool,
		pending:          pending,
		useInflightCache: useInflightCache,
		logger:           logger,
		stats:            usagestats.NewCounter(),
		inFlight:         make(map[backend.Key]struct{}),
		inflightCache:    make(map[backend.Key][]byte),
	}
}

func (a *AsyncPutWrapper) IsWritable() bool          { return a.inner.IsWritable() }
func (a *AsyncPutWrapper) BackfillLowerLevels() bool { return a.inner.BackfillLowerLevels() }

func (a *AsyncPutWrapper) ProbablyExists(key backend.Key) bool {
	a.mu.Lock()
	_, inCache := a.inflightCache[key]
	a.mu.Unlock()
	if inCache {
		a.stats.RecordExists(true)
		return true
	}
	ok := a.inner.ProbablyExists(key)
	a.stats.RecordExists(ok)
	return ok
}

func (a *AsyncPutWrapper) Get(key backend.Key) ([]byte, bool) {
	a.mu.Lock()
	v, ok := a.inflightCache[key]
	a.mu.Unlock()
	if ok {
		a.stats.RecordGet(true, len(v))
		return v, true
	}
	return a.inner.Get(key)
}

// Put enqueues the inner write and returns immediately. A put for a key
// already dispatched and not yet confirmed is suppressed as a duplicate.
func (a *AsyncPutWrapper) Put(key backend.Key, value []byte, force bool) {
	if !a.inner.IsWritable() || len(value) == 0 {
		return
	}

	a.mu.Lock()
	if _, dispatched := a.inFlight[key]; dispatched {
		a.mu.Unlock()
		return
	}
	a.inFlight[key] = struct{}{}
	if a.useInflightCache {
		if _, cached := a.inflightCache[key]; !cached {
			cp := make([]byte, len(value))
			copy(cp, value)
			a.inflightCache[key] = cp
		}
	}
	a.mu.Unlock()

	a.pending.Inc()
	a.pool.Submit(workerpool.Task{
		Run:     func() { a.doWrite(key, value, force) },
		Abandon: func() { a.abandon(key) },
	})
}

func (a *AsyncPutWrapper) doWrite(key backend.Key, value []byte, force bool) {
	attemptForce := force
	attempt := func() error {
		if a.inner.ProbablyExists(key) && !attemptForce {
			return nil
		}
		a.inner.Put(key, value, attemptForce)
		if a.inner.ProbablyExists(key) {
			return nil
		}
		// retry once, now unconditionally re-checking existence first.
		attemptForce = false
		return errWriteNotVisible
	}

	err := backoff.Retry(attempt, backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 1))

	a.mu.Lock()
	delete(a.inFlight, key)
	if err == nil {
		delete(a.inflightCache, key)
	}
	a.mu.Unlock()
	a.pending.Dec()

	if err != nil {
		level.Warn(a.logger).Log("msg", "async put did not become visible after retry, keeping inflight copy", "key", key)
		return
	}
	a.stats.RecordPut(len(value))
}

func (a *AsyncPutWrapper) abandon(key backend.Key) {
	a.mu.Lock()
	delete(a.inFlight, key)
	delete(a.inflightCache, key)
	a.mu.Unlock()
	a.pending.Dec()
}

// Remove spins until the key's dispatched write (if any) is no longer
// tracked as in-flight, so we never race a caller's remove against a write
// we ourselves requested, then clears both caches.
func (a *AsyncPutWrapper) Remove(key backend.Key, transient bool) {
	for {
		a.mu.Lock()
		_, dispatched := a.inFlight[key]
		a.mu.Unlock()
		if !dispatched {
			break
		}
		runtime.Gosched()
	}

	a.mu.Lock()
	delete(a.inflightCache, key)
	a.mu.Unlock()

	a.inner.Remove(key, transient)
	a.stats.RecordRemove()
}

func (a *AsyncPutWrapper) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": AsyncPut"] = a.stats
	a.inner.GatherUsageStats(stats, graphPath+". 0")
}

type asyncPutError string

func (e asyncPutError) Error() string { return string(e) }

const errWriteNotVisible = asyncPutError("ddc: write not visible after put")
