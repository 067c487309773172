// Package usagestats implements the counter shape gathered from every
// backend and wrapper in the graph, grounded on Unreal Engine's
// DerivedDataCacheUsageStats.h (original_source/): a small per-node record
// of call counts and byte totals rather than a single opaque label.
package usagestats

import (
	"strconv"

	"go.uber.org/atomic"
)

// Counter accumulates get/put/exists activity for one backend node.
type Counter struct {
	Gets         atomic.Int64
	GetHits      atomic.Int64
	GetBytes     atomic.Int64
	Puts         atomic.Int64
	PutBytes     atomic.Int64
	Exists       atomic.Int64
	ExistsHits   atomic.Int64
	Removes      atomic.Int64
}

// NewCounter returns a zeroed Counter ready for concurrent use.
func NewCounter() *Counter {
	return &Counter{}
}

// RecordGet records a Get call and whether it hit, along with the number of
// bytes returned on a hit.
func (c *Counter) RecordGet(hit bool, n int) {
	c.Gets.Inc()
	if hit {
		c.GetHits.Inc()
		c.GetBytes.Add(int64(n))
	}
}

// RecordPut records a Put call that actually wrote n bytes.
func (c *Counter) RecordPut(n int) {
	c.Puts.Inc()
	c.PutBytes.Add(int64(n))
}

// RecordExists records a ProbablyExists call and its result.
func (c *Counter) RecordExists(hit bool) {
	c.Exists.Inc()
	if hit {
		c.ExistsHits.Inc()
	}
}

// RecordRemove records a Remove call.
func (c *Counter) RecordRemove() {
	c.Removes.Inc()
}

// Snapshot is a point-in-time, non-atomic copy suitable for printing or
// summarizing into telemetry (the out-of-scope rollup named in spec.md §1;
// this is only the shape it would roll up from).
type Snapshot struct {
	Gets, GetHits, GetBytes   int64
	Puts, PutBytes            int64
	Exists, ExistsHits        int64
	Removes                   int64
}

// Snapshot copies the counter's current values.
func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		Gets:       c.Gets.Load(),
		GetHits:    c.GetHits.Load(),
		GetBytes:   c.GetBytes.Load(),
		Puts:       c.Puts.Load(),
		PutBytes:   c.PutBytes.Load(),
		Exists:     c.Exists.Load(),
		ExistsHits: c.ExistsHits.Load(),
		Removes:    c.Removes.Load(),
	}
}

// JoinPath appends child to a dotted graph path the way every
// GatherUsageStats implementation does: "0. 1. 0" style, joined with ". ".
func JoinPath(parent string, child int) string {
	if parent == "" {
		return strconv.Itoa(child)
	}
	return parent + ". " + strconv.Itoa(child)
}
