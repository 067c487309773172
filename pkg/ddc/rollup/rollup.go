// Package rollup batches many async gets sharing a composite key into one
// combined request against the top-level cache, falling back to per-item
// gets when the combined fetch fails to parse (spec.md §4.6).
package rollup

import (
	"encoding/binary"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
)

// bundleMagic is the rollup payload's leading word. A reader that instead
// sees bundleMagicSwapped flips endianness for the rest of the parse.
const (
	bundleMagic        uint32 = 0xd011accc
	bundleMagicSwapped uint32 = 0xccac11d0
)

// keyPrefix marks the synthetic backend.Key a rollup is stored/fetched
// under: "ROLLUP_" || concat(member keys).
const keyPrefix = "ROLLUP_"

// state names one phase of the rollup lifecycle (spec.md §4.6).
type state int

const (
	stateAdding state = iota
	stateAsyncRollupGet
	stateSucceeded
	statePerItemFallback
	stateDone
)

// cacheClient is the subset of *ddc.Cache a rollup needs. Declared locally
// to avoid an import cycle (ddc imports rollup, so rollup cannot import
// ddc; it takes whatever implements this).
type cacheClient interface {
	Put(key backend.Key, value []byte, force bool)
	GetSyncByKey(key backend.Key) (value []byte, hit bool)
}

// item is one member's bookkeeping: its key, its captured payload once
// available, and whether the owning caller has retrieved it.
type item struct {
	key            backend.Key
	payload        []byte
	havePayload    bool
	finishedCaller bool
}

// Rollup batches member CacheKeys sharing one synthetic composite key.
type Rollup struct {
	client cacheClient
	logger log.Logger

	mu                     sync.Mutex
	st                     state
	items                  []*item
	byKey                  map[backend.Key]*item
	forcePutForCorruption  bool
	syntheticKey           backend.Key
}

// New constructs an empty Rollup in the Adding phase.
func New(client cacheClient, logger log.Logger) *Rollup {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Rollup{
		client: client,
		logger: logger,
		st:     stateAdding,
		byKey:  make(map[backend.Key]*item),
	}
}

// Add registers a member key while the rollup is still in the Adding
// phase. Adding after Close is a programming error and is ignored.
func (r *Rollup) Add(key backend.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st != stateAdding {
		return
	}
	it := &item{key: key}
	r.items = append(r.items, it)
	r.byKey[key] = it
}

func (r *Rollup) compositeKey() backend.Key {
	var b []byte
	b = append(b, keyPrefix...)
	for _, it := range r.items {
		b = append(b, it.key...)
	}
	return backend.Key(b)
}

// Close issues the single combined get of the synthetic key. The get is
// synchronous (GetSyncByKey), so Close returns only after the outer result
// has been handled. An empty rollup jumps straight to Done.
func (r *Rollup) Close() {
	r.mu.Lock()
	if r.st != stateAdding {
		r.mu.Unlock()
		return
	}
	if len(r.items) == 0 {
		r.st = stateDone
		r.mu.Unlock()
		return
	}
	r.syntheticKey = r.compositeKey()
	r.st = stateAsyncRollupGet
	r.mu.Unlock()

	value, hit := r.client.GetSyncByKey(r.syntheticKey)
	r.handleOuterResult(value, hit)
}

func (r *Rollup) handleOuterResult(value []byte, hit bool) {
	if hit {
		if ok := r.parseAndDistribute(value); ok {
			r.mu.Lock()
			r.st = stateSucceeded
			r.mu.Unlock()
			return
		}
	}

	level.Warn(r.logger).Log("msg", "rollup outer get failed or did not parse, falling back per item", "key", r.syntheticKey)
	r.mu.Lock()
	r.forcePutForCorruption = true
	r.st = statePerItemFallback
	r.mu.Unlock()
}

// parseAndDistribute validates the bundle format and, on success, caches
// each member's payload on its item record. Format: magic, count, then per
// item <len-prefixed key><len-prefixed bytes>; count must match, keys must
// match in order, and no payload may be empty.
func (r *Rollup) parseAndDistribute(payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	order := binary.LittleEndian
	magic := order.Uint32(payload[0:4])
	switch magic {
	case bundleMagic:
	case bundleMagicSwapped:
		order = binary.BigEndian
	default:
		return false
	}

	count := order.Uint32(payload[4:8])
	r.mu.Lock()
	expected := len(r.items)
	r.mu.Unlock()
	if int(count) != expected {
		return false
	}

	pos := 8
	parsed := make([][]byte, expected)
	for i := 0; i < expected; i++ {
		key, next, ok := readFrame(payload, pos, order)
		if !ok {
			return false
		}
		pos = next

		r.mu.Lock()
		wantKey := r.items[i].key
		r.mu.Unlock()
		if string(key) != string(wantKey) {
			return false
		}

		value, next2, ok := readFrame(payload, pos, order)
		if !ok || len(value) == 0 {
			return false
		}
		pos = next2
		parsed[i] = value
	}

	r.mu.Lock()
	for i, it := range r.items {
		it.payload = parsed[i]
		it.havePayload = true
	}
	r.mu.Unlock()
	return true
}

func readFrame(buf []byte, pos int, order binary.ByteOrder) ([]byte, int, bool) {
	if pos+4 > len(buf) {
		return nil, 0, false
	}
	n := int(order.Uint32(buf[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(buf) {
		return nil, 0, false
	}
	return buf[pos : pos+n], pos + n, true
}

// GetResult returns key's payload. On the success path it simply reads the
// captured payload; on the per-item fallback path it performs (and caches)
// the per-item get the first time it's asked, routed to the client just
// like any other key.
func (r *Rollup) GetResult(key backend.Key) ([]byte, bool) {
	r.mu.Lock()
	it, ok := r.byKey[key]
	st := r.st
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if st == stateSucceeded {
		r.mu.Lock()
		defer r.mu.Unlock()
		it.finishedCaller = true
		allFetched := true
		for _, other := range r.items {
			if !other.finishedCaller {
				allFetched = false
				break
			}
		}
		if allFetched && r.st == stateSucceeded {
			r.st = stateDone
		}
		return it.payload, it.havePayload
	}

	if !it.havePayload {
		value, hit := r.client.GetSyncByKey(it.key)
		if hit {
			r.mu.Lock()
			it.payload = value
			it.havePayload = true
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	it.finishedCaller = true
	r.maybeFinalizeLocked()
	payload, have := it.payload, it.havePayload
	r.mu.Unlock()
	return payload, have
}

// maybeFinalizeLocked serializes and puts the bundle once every item has
// both a payload and has been fetched by its caller. Must be called with
// r.mu held.
func (r *Rollup) maybeFinalizeLocked() {
	if r.st != statePerItemFallback {
		return
	}
	for _, it := range r.items {
		if !it.havePayload || !it.finishedCaller {
			return
		}
	}

	order := binary.LittleEndian
	var buf []byte
	var head [8]byte
	order.PutUint32(head[0:4], bundleMagic)
	order.PutUint32(head[4:8], uint32(len(r.items)))
	buf = append(buf, head[:]...)
	for _, it := range r.items {
		buf = appendFrame(buf, []byte(it.key))
		buf = appendFrame(buf, it.payload)
	}

	r.client.Put(r.syntheticKey, buf, r.forcePutForCorruption)
	r.st = stateDone
}

func appendFrame(buf, data []byte) []byte {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(data)))
	buf = append(buf, length[:]...)
	return append(buf, data...)
}

// Done reports whether the rollup has reached its terminal state.
func (r *Rollup) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st == stateDone
}
