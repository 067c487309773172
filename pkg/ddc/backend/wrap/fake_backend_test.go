package wrap

import (
	"sync"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// fakeBackend is a minimal in-memory backend.Backend test double used
// across the wrapper tests, standing in for whichever concrete storage
// tier (memory, filesystem, pak) would normally sit underneath.
type fakeBackend struct {
	mu       sync.Mutex
	items    map[backend.Key][]byte
	writable bool
	backfill bool

	removedTransient []backend.Key
	removedDurable    []backend.Key
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{items: make(map[backend.Key][]byte), writable: true, backfill: true}
}

func (f *fakeBackend) IsWritable() bool          { return f.writable }
func (f *fakeBackend) BackfillLowerLevels() bool { return f.backfill }

func (f *fakeBackend) ProbablyExists(key backend.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[key]
	return ok
}

func (f *fakeBackend) Get(key backend.Key) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	if !ok {
		return nil, false
	}
	cp := append([]byte(nil), v...)
	return cp, true
}

func (f *fakeBackend) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if !f.writable || len(value) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.items[key]; exists && !putEvenIfExists {
		return
	}
	f.items[key] = append([]byte(nil), value...)
}

func (f *fakeBackend) Remove(key backend.Key, transient bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if transient {
		f.removedTransient = append(f.removedTransient, key)
		return
	}
	delete(f.items, key)
	f.removedDurable = append(f.removedDurable, key)
}

func (f *fakeBackend) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": Fake"] = usagestats.NewCounter()
}

func (f *fakeBackend) has(key backend.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[key]
	return ok
}

var _ backend.Backend = (*fakeBackend)(nil)
