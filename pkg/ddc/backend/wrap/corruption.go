// Package wrap holds the decorator backends that sit between the graph
// root and its concrete storage tiers: corruption checking, key-length
// hashing, async dispatch, hierarchical fan-out/backfill, and the debug
// verify pass. Each follows the teacher's reader-decorator idiom from
// friggdb/backend/cache/cache.go — a struct embedding the wrapped
// backend.Backend as "next" or "inner" and overriding only what it needs to.
package wrap

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

const (
	corruptionMagic   uint32 = 0x1e873d89
	corruptionVersion uint32 = 1
	corruptionTrailer        = 4 + 4 + 4 + 4 // magic, version, crc32, size
)

// CorruptionWrapper appends a fixed trailer to every payload on put and
// verifies it on get, actively deleting the inner entry on mismatch
// (spec.md §4.5).
type CorruptionWrapper struct {
	inner  backend.Backend
	logger log.Logger
	stats  *usagestats.Counter
}

var _ backend.Backend = (*CorruptionWrapper)(nil)

// NewCorruptionWrapper decorates inner with trailer-based corruption
// detection.
func NewCorruptionWrapper(inner backend.Backend, logger log.Logger) *CorruptionWrapper {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &CorruptionWrapper{inner: inner, logger: logger, stats: usagestats.NewCounter()}
}

func (c *CorruptionWrapper) IsWritable() bool            { return c.inner.IsWritable() }
func (c *CorruptionWrapper) BackfillLowerLevels() bool   { return c.inner.BackfillLowerLevels() }
func (c *CorruptionWrapper) ProbablyExists(key backend.Key) bool { return c.inner.ProbablyExists(key) }

func (c *CorruptionWrapper) Get(key backend.Key) ([]byte, bool) {
	raw, ok := c.inner.Get(key)
	if !ok {
		c.stats.RecordGet(false, 0)
		return nil, false
	}
	if len(raw) < corruptionTrailer {
		level.Warn(c.logger).Log("msg", "corruption trailer too short, deleting", "key", key)
		c.inner.Remove(key, false)
		c.stats.RecordGet(false, 0)
		return nil, false
	}

	payload := raw[:len(raw)-corruptionTrailer]
	trailer := raw[len(raw)-corruptionTrailer:]
	magic := binary.LittleEndian.Uint32(trailer[0:4])
	version := binary.LittleEndian.Uint32(trailer[4:8])
	storedCRC := binary.LittleEndian.Uint32(trailer[8:12])
	storedSize := binary.LittleEndian.Uint32(trailer[12:16])

	if magic != corruptionMagic || version != corruptionVersion ||
		storedSize != uint32(len(payload)) || crc32.ChecksumIEEE(payload) != storedCRC {
		level.Warn(c.logger).Log("msg", "corrupted cache entry, deleting", "key", key)
		c.inner.Remove(key, false)
		c.stats.RecordGet(false, 0)
		return nil, false
	}

	c.stats.RecordGet(true, len(payload))
	return payload, true
}

func (c *CorruptionWrapper) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if len(value) == 0 {
		return
	}
	trailer := make([]byte, corruptionTrailer)
	binary.LittleEndian.PutUint32(trailer[0:4], corruptionMagic)
	binary.LittleEndian.PutUint32(trailer[4:8], corruptionVersion)
	binary.LittleEndian.PutUint32(trailer[8:12], crc32.ChecksumIEEE(value))
	binary.LittleEndian.PutUint32(trailer[12:16], uint32(len(value)))

	framed := make([]byte, 0, len(value)+corruptionTrailer)
	framed = append(framed, value...)
	framed = append(framed, trailer...)

	c.inner.Put(key, framed, putEvenIfExists)
	c.stats.RecordPut(len(value))
}

func (c *CorruptionWrapper) Remove(key backend.Key, transient bool) {
	c.inner.Remove(key, transient)
	c.stats.RecordRemove()
}

func (c *CorruptionWrapper) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": Corruption"] = c.stats
	c.inner.GatherUsageStats(stats, graphPath)
}
