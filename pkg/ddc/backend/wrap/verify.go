package wrap

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// VerifyWrapper is a debug-only node: it always reports a miss on Get, and
// on Put compares against whatever the inner backend already holds, dumping
// both versions to debugDir on mismatch (spec.md §4.5).
type VerifyWrapper struct {
	inner    backend.Backend
	debugDir string
	fix      bool
	logger   log.Logger
	stats    *usagestats.Counter
}

var _ backend.Backend = (*VerifyWrapper)(nil)

// NewVerifyWrapper decorates inner. When fix is true a detected mismatch
// overwrites the cache entry with the newly-put payload; otherwise the
// existing entry is left untouched and only the two versions are dumped.
func NewVerifyWrapper(inner backend.Backend, debugDir string, fix bool, logger log.Logger) *VerifyWrapper {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &VerifyWrapper{inner: inner, debugDir: debugDir, fix: fix, logger: logger, stats: usagestats.NewCounter()}
}

func (v *VerifyWrapper) IsWritable() bool          { return v.inner.IsWritable() }
func (v *VerifyWrapper) BackfillLowerLevels() bool { return v.inner.BackfillLowerLevels() }
func (v *VerifyWrapper) ProbablyExists(key backend.Key) bool {
	return v.inner.ProbablyExists(key)
}

// Get always misses: this node exists to validate puts, never to serve
// reads.
func (v *VerifyWrapper) Get(backend.Key) ([]byte, bool) {
	v.stats.RecordGet(false, 0)
	return nil, false
}

func (v *VerifyWrapper) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if len(value) == 0 {
		return
	}

	existing, ok := v.inner.Get(key)
	if ok && !bytes.Equal(existing, value) {
		level.Warn(v.logger).Log("msg", "verify mismatch, dumping both versions", "key", key, "dir", v.debugDir)
		if err := v.dump(key, existing, value); err != nil {
			level.Error(v.logger).Log("msg", "failed to dump verify mismatch", "key", key, "err", err)
		}
		if !v.fix {
			v.stats.RecordPut(len(value))
			return
		}
	}

	v.inner.Put(key, value, putEvenIfExists)
	v.stats.RecordPut(len(value))
}

func (v *VerifyWrapper) dump(key backend.Key, existing, incoming []byte) error {
	if err := os.MkdirAll(v.debugDir, 0o755); err != nil {
		return errors.Wrap(err, "ddc: creating verify debug dir")
	}
	existingPath := filepath.Join(v.debugDir, key.String()+".existing")
	incomingPath := filepath.Join(v.debugDir, key.String()+".incoming")
	if err := os.WriteFile(existingPath, existing, 0o644); err != nil {
		return errors.Wrap(err, "ddc: writing existing verify dump")
	}
	if err := os.WriteFile(incomingPath, incoming, 0o644); err != nil {
		return errors.Wrap(err, "ddc: writing incoming verify dump")
	}
	return nil
}

func (v *VerifyWrapper) Remove(key backend.Key, transient bool) {
	v.inner.Remove(key, transient)
	v.stats.RecordRemove()
}

func (v *VerifyWrapper) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": Verify"] = v.stats
	v.inner.GatherUsageStats(stats, graphPath+". 0")
}
