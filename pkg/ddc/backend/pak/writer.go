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

// Writer is the write-mode pak backend: Put appends bytes and records them
// in an in-memory index; Close serializes that index plus a trailer and
// makes the backend permanently closed (spec.md §4.4).
type Writer struct {
	filename string
	logger   log.Logger

	mu     sync.Mutex
	f      *os.File
	offset int64
	index  map[backend.Key]indexEntry
	closed bool

	stats *usagestats.Counter
}

var _ backend.Backend = (*Writer)(nil)

// CreateWriter opens filename for exclusive creation (pak writers never
// append to an existing file — SortAndCopy/MergeCache produce a fresh one).
func CreateWriter(filename string, logger log.Logger) (*Writer, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "ddc: opening pak file %q for writing", filename)
	}
	level.Info(logger).Log("msg", "pak cache opened for writing", "filename", filename)
	return &Writer{
		filename: filename,
		logger:   logger,
		f:        f,
		index:    make(map[backend.Key]indexEntry),
		stats:    usagestats.NewCounter(),
	}, nil
}

func (w *Writer) IsWritable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed
}

func (w *Writer) BackfillLowerLevels() bool { return true }

func (w *Writer) ProbablyExists(key backend.Key) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.index[key]
	w.stats.RecordExists(ok)
	return ok
}

// Get always misses: a write-mode pak is not readable (spec.md §4.4).
func (w *Writer) Get(backend.Key) ([]byte, bool) {
	w.stats.RecordGet(false, 0)
	return nil, false
}

func (w *Writer) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if len(value) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if _, exists := w.index[key]; exists {
		return
	}

	crc := crc32.ChecksumIEEE(value)
	n, err := w.f.Write(value)
	if err != nil || n != len(value) {
		level.Error(w.logger).Log("msg", "pak write failed, closing writer", "filename", w.filename, "err", err)
		w.closeLocked(false)
		return
	}

	w.index[key] = indexEntry{key: string(key), offset: w.offset, size: int64(len(value)), crc: crc}
	w.offset += int64(len(value))
	w.stats.RecordPut(len(value))
}

// Remove unlinks only the in-memory index entry; the bytes already written
// to the pak are not reclaimed (spec.md §4.4).
func (w *Writer) Remove(key backend.Key, transient bool) {
	if transient {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	delete(w.index, key)
	w.stats.RecordRemove()
}

func (w *Writer) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": PakFile."+w.filename] = w.stats
}

// Close serializes the index and trailer and makes the writer permanently
// closed; subsequent operations are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked(true)
}

func (w *Writer) closeLocked(writeIndex bool) error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.f.Close()

	if !writeIndex {
		return nil
	}

	indexOffset := w.offset

	entries := make([]indexEntry, 0, len(w.index))
	for _, e := range w.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	var indexBuf []byte
	for _, e := range entries {
		indexBuf = marshalIndexEntry(indexBuf, e)
	}

	var out []byte
	out = writeUint32(out, indexMagic)
	out = writeUint32(out, crc32.ChecksumIEEE(indexBuf))
	out = writeUint32(out, uint32(len(w.index)))
	out = writeUint32(out, uint32(len(indexBuf)))
	out = append(out, indexBuf...)
	out = writeUint32(out, indexMagic)
	out = writeInt64(out, indexOffset)

	if _, err := w.f.Write(out); err != nil {
		return errors.Wrap(err, "ddc: writing pak index")
	}
	return nil
}

// Filename returns the path this writer targets (test/admin helper).
func (w *Writer) Filename() string { return w.filename }
