package ddc

import (
	"bytes"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/memory"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/pak"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/wrap"
	"github.com/tempo-ddc/ddc/pkg/ddc/internal/workerpool"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// quiescencePollInterval is how often wait_for_quiescence re-checks the
// pending counter; quiescenceLogInterval is how often it logs progress.
const (
	quiescencePollInterval = 10 * time.Millisecond
	quiescenceLogInterval  = 5 * time.Second
)

// Result is what GetSynchronous/GetAsyncResult hand back: the payload (if
// any), whether it was found at all, and whether it was supplied by a
// deriver Build rather than a cache hit.
type Result struct {
	Value []byte
	Hit   bool
	Built bool
}

// Cache is the public facade: a handle table plus a route to the
// configured backend graph's root (spec.md §4.7).
type Cache struct {
	root    backend.Backend
	pool    *workerpool.Pool
	pending *atomic.Int64
	boot    *memory.Boot
	hier    *wrap.HierarchicalWrapper
	logger  log.Logger

	verifyDDC bool

	mu            sync.Mutex
	handleCounter uint32
	tasks         map[Handle]*asyncTask

	// Shutdown-time pak finalization, configured via ConfigurePakFinalize.
	writePak       *pak.Writer
	writePakPath   string
	finalPakPath   string
	readPaks       []*pak.Reader
	additionalPaks []string
}

// New constructs a Cache fronting root. pool and pending must be the same
// worker pool and async-completion counter the graph's top-level AsyncPut
// wrapper was built with, so WaitForQuiescence observes real work. boot may
// be nil if the graph has no Boot node.
func New(root backend.Backend, pool *workerpool.Pool, pending *atomic.Int64, boot *memory.Boot, verifyDDC bool, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Cache{
		root:          root,
		pool:          pool,
		pending:       pending,
		boot:          boot,
		verifyDDC:     verifyDDC,
		logger:        logger,
		handleCounter: handleSentinel,
		tasks:         make(map[Handle]*asyncTask),
	}
}

// ConfigurePakFinalize records the pak bookkeeping WaitForQuiescence(true)
// needs at shutdown: the temporary write-pak, every open read-pak to close,
// the final sorted path to produce, and any additional pak files to merge
// in first.
func (c *Cache) ConfigurePakFinalize(writePak *pak.Writer, writePakPath, finalPakPath string, readPaks []*pak.Reader, additionalPaks []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writePak = writePak
	c.writePakPath = writePakPath
	c.finalPakPath = finalPakPath
	c.readPaks = readPaks
	c.additionalPaks = additionalPaks
}

func (c *Cache) newHandle() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := Handle(c.handleCounter)
	c.handleCounter++
	return h
}

// runBuild performs the build-task logic shared by the sync and async
// paths: a root Get, an optional verify_ddc re-build-and-compare on hit,
// and a build-then-force-put on miss.
func (c *Cache) runBuild(key backend.Key, d Deriver) Result {
	value, ok := c.root.Get(key)
	if ok {
		if c.verifyDDC && d != nil && d.IsDeterministic() {
			if rebuilt, buildOK := d.Build(); buildOK && !bytes.Equal(rebuilt, value) {
				level.Warn(c.logger).Log("msg", "verify_ddc mismatch between cached and rebuilt payload", "key", key)
			}
		}
		return Result{Value: value, Hit: true}
	}
	if d == nil {
		return Result{}
	}
	built, buildOK := d.Build()
	if !buildOK || len(built) == 0 {
		return Result{}
	}
	c.root.Put(key, built, true)
	return Result{Value: built, Hit: true, Built: true}
}

// GetSynchronous builds the cache key from d, dispatches the build task on
// the calling goroutine, and blocks until it completes.
func (c *Cache) GetSynchronous(d Deriver) Result {
	return c.runBuild(CacheKey(d), d)
}

// GetSyncByKey looks up key directly with no deriver; a miss yields an
// empty, unhit Result.
func (c *Cache) GetSyncByKey(key backend.Key) Result {
	return c.runBuild(key, nil)
}

// GetAsynchronous allocates a Handle and dispatches the build task to the
// worker pool, unless d declares itself not build-thread-safe, in which
// case it runs synchronously even though the entry point is async.
func (c *Cache) GetAsynchronous(d Deriver) Handle {
	return c.dispatchAsync(CacheKey(d), d)
}

// GetAsyncByKey is GetAsynchronous with no deriver.
func (c *Cache) GetAsyncByKey(key backend.Key) Handle {
	return c.dispatchAsync(key, nil)
}

func (c *Cache) dispatchAsync(key backend.Key, d Deriver) Handle {
	h := c.newHandle()
	task := newAsyncTask()

	c.mu.Lock()
	c.tasks[h] = task
	c.mu.Unlock()

	run := func() {
		res := c.runBuild(key, d)
		task.finish(res.Value, res.Hit, res.Built)
	}

	if d == nil || d.IsBuildThreadSafe() {
		c.pool.Submit(workerpool.Task{
			Run:     run,
			Abandon: func() { task.finish(nil, false, false) },
		})
	} else {
		run()
	}

	return h
}

// Poll reports whether handle's task has completed. An unknown handle
// (already retrieved, or never issued) reports done.
func (c *Cache) Poll(h Handle) bool {
	task, ok := c.lookup(h)
	if !ok {
		return true
	}
	return task.isDone()
}

// Wait blocks until handle's task completes.
func (c *Cache) Wait(h Handle) {
	task, ok := c.lookup(h)
	if !ok {
		return
	}
	<-task.waitCh
}

// GetAsyncResult blocks until handle's task completes, removes it from the
// handle table, and returns its Result. Calling it twice for the same
// handle returns a zero Result the second time.
func (c *Cache) GetAsyncResult(h Handle) Result {
	c.mu.Lock()
	task, ok := c.tasks[h]
	if ok {
		delete(c.tasks, h)
	}
	c.mu.Unlock()
	if !ok {
		return Result{}
	}
	<-task.waitCh
	return Result{Value: task.value, Hit: task.hit, Built: task.built}
}

func (c *Cache) lookup(h Handle) (*asyncTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[h]
	return task, ok
}

// Put routes directly to the root backend.
func (c *Cache) Put(key backend.Key, value []byte, force bool) {
	c.root.Put(key, value, force)
}

// MarkTransient routes to the root backend as a transient remove.
func (c *Cache) MarkTransient(key backend.Key) {
	c.root.Remove(key, true)
}

// Exists routes to the root backend's ProbablyExists.
func (c *Cache) Exists(key backend.Key) bool {
	return c.root.ProbablyExists(key)
}

// NotifyBootComplete saves and disables the Boot-mode memory cache, if one
// is configured. save=false suppresses the snapshot write (e.g. a
// command-line flag) but the tier is disabled regardless.
func (c *Cache) NotifyBootComplete(save bool) error {
	if c.boot == nil {
		return nil
	}
	return c.boot.NotifyBootComplete(save)
}

// GatherUsageStats returns the usage-stats counters for every node in the
// graph, keyed by dotted graph path.
func (c *Cache) GatherUsageStats() map[string]*usagestats.Counter {
	stats := make(map[string]*usagestats.Counter)
	c.root.GatherUsageStats(stats, "0")
	return stats
}

// WaitForQuiescence spin-sleeps until the async-completion counter reaches
// zero, logging progress every five seconds. If shutdown is true and a
// write-pak is configured, it then merges any additional paks, closes every
// read-pak and the write-pak, sorts the result into the final pak, and
// deletes the temporary write-pak (spec.md §4.7).
func (c *Cache) WaitForQuiescence(shutdown bool) error {
	start := time.Now()
	lastLog := start
	for c.pending.Load() > 0 {
		time.Sleep(quiescencePollInterval)
		if time.Since(lastLog) >= quiescenceLogInterval {
			level.Info(c.logger).Log("msg", "waiting for quiescence", "pending", c.pending.Load(), "elapsed", time.Since(start))
			lastLog = time.Now()
		}
	}

	if !shutdown {
		return nil
	}
	return c.finalizePaks()
}

func (c *Cache) finalizePaks() error {
	c.mu.Lock()
	writePak, writePakPath, finalPakPath := c.writePak, c.writePakPath, c.finalPakPath
	readPaks := c.readPaks
	additionalPaks := c.additionalPaks
	c.mu.Unlock()

	if writePak == nil {
		return nil
	}

	for _, extra := range additionalPaks {
		r, err := pak.OpenReader(extra, c.logger)
		if err != nil {
			level.Warn(c.logger).Log("msg", "failed to open additional pak for merge", "path", extra, "err", err)
			continue
		}
		pak.MergeCache(writePak, r)
		r.Close()
	}

	for _, r := range readPaks {
		if err := r.Close(); err != nil {
			level.Warn(c.logger).Log("msg", "failed to close read pak", "err", err)
		}
	}

	if err := writePak.Close(); err != nil {
		return errors.Wrap(err, "ddc: closing write pak before sort")
	}

	if err := pak.SortAndCopy(writePakPath, finalPakPath, c.logger); err != nil {
		return errors.Wrap(err, "ddc: sorting final pak")
	}

	if err := os.Remove(writePakPath); err != nil {
		level.Warn(c.logger).Log("msg", "failed to remove temporary write pak", "path", writePakPath, "err", err)
	}
	return nil
}
