// Package local implements the filesystem cache tier: each key hashes to a
// three-level shard directory so no single directory ever holds more than
// roughly a thousandth of the keyspace. Grounded on
// friggdb/backend/local/local.go's directory-per-entity + temp-file-then-
// rename write pattern, adapted from frigg's tenant/block path scheme to
// the CRC-hashed shard path of spec.md §4.3.
package local

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/cleanup"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

const fileExt = ".udd"

// maxPathLen is the conservative cross-platform path-length budget the
// constructor validates Path + the longest possible shard path against, per
// spec.md §4.3 ("absolute path length is capped so that path + max key
// length + sub-dirs + .udd fits the platform limit").
const maxPathLen = 260

// Backend is a filesystem-backed cache tier.
type Backend struct {
	cfg      Config
	logger   log.Logger
	writable bool
	usable   bool

	stats *usagestats.Counter
}

var _ backend.Backend = (*Backend)(nil)

// New validates cfg, probes the directory for writability, and — if
// writable — registers an age-based cleanup sweep collaborator.
func New(cfg Config, maxKeyLength int, logger log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.Path == "" {
		return nil, errors.New("ddc: filesystem backend requires a path")
	}
	if len(cfg.Path)+maxKeyLength+len("/0/0/0/")+len(fileExt) > maxPathLen {
		return nil, errors.Errorf("ddc: filesystem cache path %q too long once combined with max key length %d", cfg.Path, maxKeyLength)
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, "ddc: creating filesystem cache root")
	}

	b := &Backend{
		cfg:    cfg,
		logger: logger,
		stats:  usagestats.NewCounter(),
	}

	if cfg.ReadOnly {
		b.writable = false
		b.usable = true
		return b, nil
	}

	probe := filepath.Join(cfg.Path, "probe."+uuid.NewString())
	if err := os.WriteFile(probe, []byte("ddc"), 0o644); err != nil {
		level.Warn(logger).Log("msg", "filesystem cache not writable, falling back to read-only", "path", cfg.Path, "err", err)
		b.writable = false
		entries, readErr := os.ReadDir(cfg.Path)
		b.usable = readErr == nil && len(entries) > 0
		return b, nil
	}
	os.Remove(probe)

	b.writable = true
	b.usable = true

	if cfg.DeleteUnused {
		cleanup.Register(cleanup.Config{
			Root:                cfg.Path,
			MaxAge:              cfg.UnusedFileAge,
			MaxFoldersPerSweep:  cfg.FoldersToClean,
			MaxFileChecksPerSec: cfg.MaxFileChecksPerSec,
		}, logger)
	}

	return b, nil
}

func (b *Backend) IsWritable() bool          { return b.writable && b.usable }
func (b *Backend) BackfillLowerLevels() bool { return true }

func (b *Backend) ProbablyExists(key backend.Key) bool {
	path := b.pathFor(key)
	info, err := os.Stat(path)
	exists := err == nil
	b.stats.RecordExists(exists)
	if !exists {
		return false
	}

	if b.writable && (b.cfg.TouchOnExists || time.Since(info.ModTime()) > b.cfg.UnusedFileAge/4) {
		now := time.Now()
		_ = os.Chtimes(path, now, now)
	}
	return true
}

func (b *Backend) Get(key backend.Key) ([]byte, bool) {
	data, err := os.ReadFile(b.pathFor(key))
	if err != nil || len(data) == 0 {
		b.stats.RecordGet(false, 0)
		return nil, false
	}
	b.stats.RecordGet(true, len(data))
	return data, true
}

func (b *Backend) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if !b.IsWritable() || len(value) == 0 {
		return
	}
	if !putEvenIfExists && b.ProbablyExists(key) {
		return
	}

	path := b.pathFor(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		level.Warn(b.logger).Log("msg", "failed to create shard directory", "dir", dir, "err", err)
		return
	}

	tmp := filepath.Join(dir, "temp."+uuid.NewString())
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		level.Warn(b.logger).Log("msg", "failed to write temp file", "tmp", tmp, "err", err)
		os.Remove(tmp)
		return
	}

	if err := os.Rename(tmp, path); err != nil {
		// A pre-existing target from a concurrent put is accepted silently.
		if _, statErr := os.Stat(path); statErr != nil {
			level.Warn(b.logger).Log("msg", "failed to finalize cache entry", "path", path, "err", err)
		}
		os.Remove(tmp)
		return
	}

	b.stats.RecordPut(len(value))
}

func (b *Backend) Remove(key backend.Key, transient bool) {
	if !b.IsWritable() {
		return
	}
	b.stats.RecordRemove()
	_ = os.Remove(b.pathFor(key))
}

func (b *Backend) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": FileSystem."+b.cfg.Path] = b.stats
}

// pathFor computes <root>/<h100>/<h10>/<h1>/<KEY>.udd, uppercasing the key
// first as spec.md §3 requires of the filesystem backend.
func (b *Backend) pathFor(key backend.Key) string {
	upper := key.Upper()
	hash := crc32.ChecksumIEEE([]byte(upper)) % 1000
	h100 := hash / 100
	h10 := (hash / 10) % 10
	h1 := hash % 10
	return filepath.Join(b.cfg.Path, fmt.Sprint(h100), fmt.Sprint(h10), fmt.Sprint(h1), string(upper)+fileExt)
}
