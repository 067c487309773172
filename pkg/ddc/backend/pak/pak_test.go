package pak

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
)

// TestPakWriteCloseRead is scenario E: write three entries, close, reopen
// for read, and verify each round-trips.
func TestPakWriteCloseRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.pak")

	w, err := CreateWriter(path, nil)
	require.NoError(t, err)
	w.Put("A", []byte{1}, false)
	w.Put("C", []byte{3, 3, 3}, false)
	w.Put("B", []byte{2, 2}, false)
	require.NoError(t, w.Close())

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()

	v, ok := r.Get("A")
	require.True(t, ok)
	assert.Equal(t, []byte{1}, v)

	v, ok = r.Get("B")
	require.True(t, ok)
	assert.Equal(t, []byte{2, 2}, v)

	v, ok = r.Get("C")
	require.True(t, ok)
	assert.Equal(t, []byte{3, 3, 3}, v)
}

func TestPakGetMissOnUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.pak")
	w, err := CreateWriter(path, nil)
	require.NoError(t, err)
	w.Put("A", []byte{1}, false)
	require.NoError(t, w.Close())

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Get("NOPE")
	assert.False(t, ok)
}

func TestPakWriterIsWritableUntilClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.pak")
	w, err := CreateWriter(path, nil)
	require.NoError(t, err)
	assert.True(t, w.IsWritable())

	require.NoError(t, w.Close())
	assert.False(t, w.IsWritable())

	// Operations on a closed writer are no-ops, not errors.
	w.Put("K", []byte{1}, false)
	assert.False(t, w.ProbablyExists("K"))
}

func TestPakReaderRejectsCorruptedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.pak")
	w, err := CreateWriter(path, nil)
	require.NoError(t, err)
	w.Put("A", []byte{1, 2, 3, 4}, false)
	require.NoError(t, w.Close())

	// Flip a bit in the raw entry bytes (offset 0, before the index).
	flipByteAt(t, path, 0)

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Get("A")
	assert.False(t, ok, "a CRC mismatch on a pak entry must report a miss")
}

func TestPakReaderRejectsBadTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.pak")
	w, err := CreateWriter(path, nil)
	require.NoError(t, err)
	w.Put("A", []byte{1}, false)
	require.NoError(t, w.Close())

	flipByteAt(t, path, -1) // high byte of the trailer's index_offset field

	_, err = OpenReader(path, nil)
	assert.Error(t, err)
}

func TestSortAndCopyOrdersKeysLexicographically(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pak")
	out := filepath.Join(dir, "out.pak")

	w, err := CreateWriter(in, nil)
	require.NoError(t, err)
	w.Put("ZEBRA", []byte{1}, false)
	w.Put("APPLE", []byte{2}, false)
	w.Put("MANGO", []byte{3}, false)
	require.NoError(t, w.Close())

	require.NoError(t, SortAndCopy(in, out, nil))

	r, err := OpenReader(out, nil)
	require.NoError(t, err)
	defer r.Close()

	keys := r.Keys()
	ordered := make([]string, len(keys))
	for i, k := range keys {
		ordered[i] = string(k)
	}
	sortedCopy := append([]string(nil), ordered...)
	sort.Strings(sortedCopy)
	assert.Equal(t, sortedCopy, ordered, "SortAndCopy must write entries in lexicographic key order")

	for _, k := range []backend.Key{"APPLE", "MANGO", "ZEBRA"} {
		_, ok := r.Get(k)
		assert.True(t, ok, "key %s must survive the sort-and-copy", k)
	}

	manifest := filepath.Join(dir, "out.csv")
	assert.FileExists(t, manifest)
}

func TestMergeCacheCopiesOnlyMissingKeys(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.pak")
	dstPath := filepath.Join(dir, "dst.pak")

	src, err := CreateWriter(srcPath, nil)
	require.NoError(t, err)
	src.Put("A", []byte{1}, false)
	src.Put("B", []byte{2}, false)
	require.NoError(t, src.Close())
	srcReader, err := OpenReader(srcPath, nil)
	require.NoError(t, err)
	defer srcReader.Close()

	dst, err := CreateWriter(dstPath, nil)
	require.NoError(t, err)
	dst.Put("A", []byte{99}, false) // already present, must not be overwritten

	copied := MergeCache(dst, srcReader)
	assert.Equal(t, 1, copied)

	require.NoError(t, dst.Close())
	dstReader, err := OpenReader(dstPath, nil)
	require.NoError(t, err)
	defer dstReader.Close()

	v, ok := dstReader.Get("A")
	require.True(t, ok)
	assert.Equal(t, []byte{99}, v)

	v, ok = dstReader.Get("B")
	require.True(t, ok)
	assert.Equal(t, []byte{2}, v)
}

func TestCompressedPakRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compressed.pak")
	w, err := CreateWriter(path, nil)
	require.NoError(t, err)
	cw := NewCompressedWriter(w)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	cw.Put("K", payload, false)
	require.NoError(t, w.Close())

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()
	cr := NewCompressedReader(r)

	v, ok := cr.Get("K")
	require.True(t, ok)
	assert.Equal(t, payload, v)
}

func TestPakReaderIsNotWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.pak")
	w, err := CreateWriter(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.IsWritable())
	assert.False(t, r.BackfillLowerLevels())
	r.Put("K", []byte{1}, false)
	_, ok := r.Get("K")
	assert.False(t, ok)
}

// flipByteAt flips one bit at the given byte offset in path. A negative
// offset counts from the end of the file.
func flipByteAt(t *testing.T, path string, offset int) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx := offset
	if idx < 0 {
		idx = len(data) + idx
	}
	data[idx] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
