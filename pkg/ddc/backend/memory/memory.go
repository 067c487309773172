// Package memory implements the fastest, volatile cache tier: an in-memory
// map keyed by CacheKey with age-based bookkeeping and an optional boot
// snapshot that persists the map across process restarts. Grounded on
// Unreal Engine's MemoryDerivedDataBackend (original_source/) for the put
// size-cap latch and the snapshot byte layout, generalized from that
// backend's FCacheValue map the way friggdb/backend/local.go generalizes a
// C++ reader/writer pair into a Go struct with methods.
package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-kit/log"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// MaxAge is the age at which a boot-snapshot load drops an entry: each load
// ages an entry by one, so an entry not touched by a Get survives MaxAge-1
// loads and is dropped on the MaxAge-th. See LoadSnapshot.
const MaxAge = 3

// recencyCapacity bounds the LRU-order tracker, not the cache itself — the
// map in items is always the source of truth for what is stored and how
// much size it occupies. The tracker exists only to give SaveSnapshot a
// deterministic, recency-ordered iteration instead of Go's randomized map
// order; losing an entry from it early (were the cap ever actually hit)
// would just mean that one key falls back to unordered placement.
const recencyCapacity = 1 << 20

type entry struct {
	age   int32
	value []byte
}

func (e *entry) size() int64 {
	return int64(len(e.value))
}

// Config configures a Memory backend.
type Config struct {
	// MaxCacheSize bounds the total size in bytes of all stored entries.
	// Zero means unbounded.
	MaxCacheSize int64
	// Name labels this instance in gathered usage stats (e.g. a snapshot
	// filename, or "" for an anonymous memory tier).
	Name string
}

// Memory is an in-memory key/value store with an optional size cap.
type Memory struct {
	cfg    Config
	logger log.Logger

	mu               sync.Mutex
	items            map[backend.Key]*entry
	currentSize      int64
	maxSizeExceeded  bool
	disabled         bool
	recency          *lru.Cache[backend.Key, struct{}]

	stats *usagestats.Counter
}

var _ backend.Backend = (*Memory)(nil)

// New constructs an empty Memory backend.
func New(cfg Config, logger log.Logger) *Memory {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	recency, _ := lru.New[backend.Key, struct{}](recencyCapacity)
	return &Memory{
		cfg:     cfg,
		logger:  logger,
		items:   make(map[backend.Key]*entry),
		stats:   usagestats.NewCounter(),
		recency: recency,
	}
}

func (m *Memory) IsWritable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled
}

func (m *Memory) BackfillLowerLevels() bool { return true }

// ProbablyExists returns true unconditionally once the size cap has
// latched, so the async-put wrapper stops retrying a backend that can never
// accept more data (spec.md §4.2).
func (m *Memory) ProbablyExists(key backend.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return false
	}
	if m.maxSizeExceeded {
		return true
	}
	_, ok := m.items[key]
	m.stats.RecordExists(ok)
	return ok
}

func (m *Memory) Get(key backend.Key) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return nil, false
	}
	e, ok := m.items[key]
	if !ok {
		m.stats.RecordGet(false, 0)
		return nil, false
	}
	e.age = 0
	m.recency.Add(key, struct{}{})
	out := make([]byte, len(e.value))
	copy(out, e.value)
	m.stats.RecordGet(true, len(out))
	return out, true
}

func (m *Memory) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if len(value) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled || m.maxSizeExceeded {
		return
	}

	if _, exists := m.items[key]; exists {
		// A second put of an existing key is assumed identical; nothing to do.
		return
	}

	e := &entry{value: append([]byte(nil), value...)}
	if m.cfg.MaxCacheSize > 0 && m.currentSize+e.size() > m.cfg.MaxCacheSize {
		m.maxSizeExceeded = true
		return
	}

	m.items[key] = e
	m.currentSize += e.size()
	m.recency.Add(key, struct{}{})
	m.stats.RecordPut(len(value))
}

// Remove deletes key unless transient is true — a transient remove is the
// async-put wrapper cleaning up its own in-flight copy, and the memory tier
// must keep serving that copy until the real write lands, so it is ignored.
func (m *Memory) Remove(key backend.Key, transient bool) {
	if transient {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return
	}
	e, ok := m.items[key]
	if !ok {
		return
	}
	delete(m.items, key)
	m.currentSize -= e.size()
	m.maxSizeExceeded = false
	m.recency.Remove(key)
	m.stats.RecordRemove()
}

// Disable drops all entries and marks the backend permanently non-writable,
// mirroring FMemoryDerivedDataBackend::Disable (used once a Boot cache has
// written its snapshot and should stop accumulating more state).
func (m *Memory) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
	m.items = make(map[backend.Key]*entry)
	m.currentSize = 0
	m.recency.Purge()
}

func (m *Memory) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	name := "MemoryBackend"
	if m.cfg.Name != "" {
		name = "MemoryBackend." + m.cfg.Name
	}
	stats[graphPath+": "+name] = m.stats
}

// Len reports the current number of entries (test/debug helper).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// MaxSizeExceeded reports whether the size-cap latch is set (test helper).
func (m *Memory) MaxSizeExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSizeExceeded
}

// orderedKeysLocked returns every stored key, oldest-touched first
// according to the recency tracker, with any key the tracker has no record
// of (it should never lose one given recencyCapacity, but the cache's
// correctness must not depend on that) appended afterward in map order.
// Called with m.mu held.
func (m *Memory) orderedKeysLocked() []backend.Key {
	seen := make(map[backend.Key]struct{}, len(m.items))
	ordered := make([]backend.Key, 0, len(m.items))
	for _, k := range m.recency.Keys() {
		if _, ok := m.items[k]; ok {
			ordered = append(ordered, k)
			seen[k] = struct{}{}
		}
	}
	for k := range m.items {
		if _, ok := seen[k]; !ok {
			ordered = append(ordered, k)
		}
	}
	return ordered
}
