package pak

import (
	"hash/crc32"
	"os"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

const trailerLen = 4 + 8 // magic uint32 + index_offset int64
const indexHeaderLen = 4 + 4 + 4 + 4

// Reader is the read-mode pak backend. It loads the full index at open
// time and serves Get via ReadAt, which is safe for concurrent callers
// without an explicit lock around the file handle.
type Reader struct {
	filename string
	logger   log.Logger

	f     *os.File
	mu    sync.RWMutex
	index map[backend.Key]indexEntry

	stats *usagestats.Counter
}

var _ backend.Backend = (*Reader)(nil)

// OpenReader opens filename read-only and loads its trailing index.
func OpenReader(filename string, logger log.Logger) (*Reader, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "ddc: opening pak file %q for reading", filename)
	}

	r := &Reader{filename: filename, logger: logger, f: f, stats: usagestats.NewCounter()}
	if err := r.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}

	level.Info(logger).Log("msg", "pak cache opened for reading", "filename", filename, "entries", len(r.index))
	return r, nil
}

func (r *Reader) loadIndex() error {
	info, err := r.f.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()
	if fileSize < trailerLen+indexHeaderLen {
		return errors.Errorf("ddc: pak cache %q corrupted (short)", r.filename)
	}

	trailer := make([]byte, trailerLen)
	if _, err := r.f.ReadAt(trailer, fileSize-trailerLen); err != nil {
		return errors.Wrap(err, "ddc: reading pak trailer")
	}
	magic, rest := readUint32(trailer)
	indexOffset, _ := readInt64(rest)
	if magic != indexMagic || indexOffset < 0 || indexOffset+indexHeaderLen > fileSize-trailerLen {
		return errors.Errorf("ddc: pak cache %q corrupted (bad trailer)", r.filename)
	}

	header := make([]byte, indexHeaderLen)
	if _, err := r.f.ReadAt(header, indexOffset); err != nil {
		return errors.Wrap(err, "ddc: reading pak index header")
	}
	headerMagic, rest := readUint32(header)
	indexCRC, rest := readUint32(rest)
	numEntries, rest := readUint32(rest)
	indexSize, _ := readUint32(rest)
	if headerMagic != indexMagic {
		return errors.Errorf("ddc: pak cache %q corrupted (bad index header)", r.filename)
	}
	if indexOffset+indexHeaderLen+int64(indexSize) != fileSize-trailerLen {
		return errors.Errorf("ddc: pak cache %q corrupted (bad index size)", r.filename)
	}

	indexBuf := make([]byte, indexSize)
	if _, err := r.f.ReadAt(indexBuf, indexOffset+indexHeaderLen); err != nil {
		return errors.Wrap(err, "ddc: reading pak index table")
	}
	if crc32.ChecksumIEEE(indexBuf) != indexCRC {
		return errors.Errorf("ddc: pak cache %q corrupted (index crc mismatch)", r.filename)
	}

	entries := make(map[backend.Key]indexEntry, numEntries)
	b := indexBuf
	for len(b) > 0 {
		var e indexEntry
		e, b = unmarshalIndexEntry(b)
		if e.key == "" || e.offset < 0 || e.offset >= indexOffset || e.size == 0 {
			return errors.Errorf("ddc: pak cache %q corrupted (bad index entry)", r.filename)
		}
		entries[backend.Key(e.key)] = e
	}
	if uint32(len(entries)) != numEntries {
		return errors.Errorf("ddc: pak cache %q corrupted (index count mismatch)", r.filename)
	}

	r.index = entries
	return nil
}

func (r *Reader) IsWritable() bool { return false }

// BackfillLowerLevels is false: hierarchical fan-down must not write into
// nor through a read-only pak (spec.md §4.4).
func (r *Reader) BackfillLowerLevels() bool { return false }

func (r *Reader) ProbablyExists(key backend.Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[key]
	r.stats.RecordExists(ok)
	return ok
}

func (r *Reader) Get(key backend.Key) ([]byte, bool) {
	r.mu.RLock()
	e, ok := r.index[key]
	r.mu.RUnlock()
	if !ok {
		r.stats.RecordGet(false, 0)
		return nil, false
	}

	buf := make([]byte, e.size)
	if _, err := r.f.ReadAt(buf, e.offset); err != nil {
		level.Warn(r.logger).Log("msg", "pak read failed", "filename", r.filename, "key", key, "err", err)
		r.stats.RecordGet(false, 0)
		return nil, false
	}
	if crc32.ChecksumIEEE(buf) != e.crc {
		level.Warn(r.logger).Log("msg", "pak entry crc mismatch", "filename", r.filename, "key", key)
		r.stats.RecordGet(false, 0)
		return nil, false
	}

	r.stats.RecordGet(true, len(buf))
	return buf, true
}

// Put is rejected: a read-mode pak never accepts writes.
func (r *Reader) Put(backend.Key, []byte, bool) {}

// Remove only unlinks the in-memory index entry (it will reappear on the
// next open, since a read pak is never resaved); transient removes are
// ignored, as in the memory backend and the pak writer.
func (r *Reader) Remove(key backend.Key, transient bool) {
	if transient {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.index, key)
	r.stats.RecordRemove()
}

func (r *Reader) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": PakFile."+r.filename] = r.stats
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Keys returns a snapshot of every key currently indexed, in the order
// their payloads appear in the file; used by MergeCache and SortAndCopy.
func (r *Reader) Keys() []backend.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]backend.Key, 0, len(r.index))
	for k := range r.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return r.index[keys[i]].offset < r.index[keys[j]].offset })
	return keys
}

// Filename returns the path this reader was opened from.
func (r *Reader) Filename() string { return r.filename }
