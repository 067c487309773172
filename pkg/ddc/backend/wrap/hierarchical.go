package wrap

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"go.uber.org/atomic"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/internal/workerpool"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// childSlot pairs a child backend with its own private AsyncPutWrapper,
// independent of any top-level AsyncPut above the hierarchy, so backfill
// writes never block a foreground Get (spec.md §4.5).
type childSlot struct {
	raw   backend.Backend
	async *AsyncPutWrapper
}

// HierarchicalWrapper fans Get out across an ordered, fastest-first list of
// children and backfills hits up and down the chain. The child list is
// normally fixed at construction, but the administrative MountPak/UnmountPak
// commands (spec.md §6) append and remove pak children at runtime, so all
// access to it is mutex-guarded.
type HierarchicalWrapper struct {
	pool   *workerpool.Pool
	logger log.Logger
	stats  *usagestats.Counter

	mu       sync.RWMutex
	children []childSlot
}

var _ backend.Backend = (*HierarchicalWrapper)(nil)

// NewHierarchicalWrapper wraps each of children in its own per-child
// AsyncPutWrapper (backed by a private in-flight counter) and orders
// fan-out as given — fastest child first.
func NewHierarchicalWrapper(children []backend.Backend, pool *workerpool.Pool, logger log.Logger) *HierarchicalWrapper {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	slots := make([]childSlot, len(children))
	for i, c := range children {
		pending := atomic.NewInt64(0)
		slots[i] = childSlot{raw: c, async: NewAsyncPutWrapper(c, pool, pending, true, logger)}
	}
	return &HierarchicalWrapper{pool: pool, children: slots, logger: logger, stats: usagestats.NewCounter()}
}

// AddChild appends a new, lowest-priority (slowest) child — used by the
// administrative MountPak command to add a read-pak without rebuilding the
// graph.
func (h *HierarchicalWrapper) AddChild(child backend.Backend) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pending := atomic.NewInt64(0)
	h.children = append(h.children, childSlot{raw: child, async: NewAsyncPutWrapper(child, h.pool, pending, true, h.logger)})
}

// RemoveChild drops the first child for which match returns true, returning
// it so the caller (UnmountPak) can wait for its quiescence and close it.
// Used with a filename match for pak children.
func (h *HierarchicalWrapper) RemoveChild(match func(backend.Backend) bool) (backend.Backend, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.children {
		if match(c.raw) {
			h.children = append(h.children[:i], h.children[i+1:]...)
			return c.raw, true
		}
	}
	return nil, false
}

func (h *HierarchicalWrapper) IsWritable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.children {
		if c.raw.IsWritable() {
			return true
		}
	}
	return false
}

func (h *HierarchicalWrapper) BackfillLowerLevels() bool { return true }

func (h *HierarchicalWrapper) ProbablyExists(key backend.Key) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.children {
		if c.async.ProbablyExists(key) {
			h.stats.RecordExists(true)
			return true
		}
	}
	h.stats.RecordExists(false)
	return false
}

func (h *HierarchicalWrapper) Get(key backend.Key) ([]byte, bool) {
	h.mu.RLock()
	children := h.children
	h.mu.RUnlock()

	hitIdx := -1
	var value []byte
	for i := range children {
		c := &children[i]
		if !c.async.ProbablyExists(key) {
			continue
		}
		if v, ok := c.async.Get(key); ok {
			hitIdx = i
			value = v
			break
		}
	}
	if hitIdx < 0 {
		h.stats.RecordGet(false, 0)
		return nil, false
	}

	if h.IsWritable() {
		hit := &children[hitIdx]

		for i := 0; i < hitIdx; i++ {
			up := &children[i]
			if !up.raw.IsWritable() || !up.raw.BackfillLowerLevels() {
				continue
			}
			if up.async.ProbablyExists(key) {
				up.async.Remove(key, false)
				up.async.Put(key, value, true)
			} else {
				up.async.Put(key, value, false)
			}
		}

		if hit.raw.BackfillLowerLevels() {
			for i := hitIdx + 1; i < len(children); i++ {
				down := &children[i]
				if !down.raw.IsWritable() && !down.raw.BackfillLowerLevels() && down.raw.ProbablyExists(key) {
					break
				}
				if down.raw.IsWritable() {
					down.async.Put(key, value, false)
				}
			}
		}
	}

	h.stats.RecordGet(true, len(value))
	return value, true
}

// Put honors read-pak authority: it stops at the first non-writable,
// non-backfilling child that already contains key. The first writable
// child before that point is written synchronously so the call returns
// only once one durable write has completed; every subsequent writable
// child is written through its own async-put.
func (h *HierarchicalWrapper) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if len(value) == 0 {
		return
	}

	h.mu.RLock()
	children := h.children
	h.mu.RUnlock()

	wroteSync := false
	for i := range children {
		c := &children[i]
		if !c.raw.IsWritable() && !c.raw.BackfillLowerLevels() && c.raw.ProbablyExists(key) {
			break
		}
		if !c.raw.IsWritable() {
			continue
		}
		if !wroteSync {
			c.raw.Put(key, value, putEvenIfExists)
			wroteSync = true
			continue
		}
		c.async.Put(key, value, putEvenIfExists)
	}
	h.stats.RecordPut(len(value))
}

func (h *HierarchicalWrapper) Remove(key backend.Key, transient bool) {
	h.mu.RLock()
	children := h.children
	h.mu.RUnlock()

	for _, c := range children {
		c.async.Remove(key, transient)
	}
	h.stats.RecordRemove()
}

func (h *HierarchicalWrapper) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	h.mu.RLock()
	children := h.children
	h.mu.RUnlock()

	stats[graphPath+": Hierarchical"] = h.stats
	for i, c := range children {
		c.async.GatherUsageStats(stats, fmt.Sprintf("%s. %d", graphPath, i))
	}
}
