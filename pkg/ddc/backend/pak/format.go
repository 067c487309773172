// Package pak implements the append-only pak-file cache backend: entries
// are appended as raw bytes and a sorted index plus trailer is written once
// on Close. Grounded on friggdb/backend/appender.go (sorted-insert-on-
// append index) and friggdb/backend/finder.go + friggdb/encoding/record.go
// (binary-search lookup over a sorted, fixed-width record slice), adapted
// from frigg's 128-bit trace-ID records to spec.md §4.4's variable-length
// string keys with an offset/size/CRC32 index entry. Byte layout and
// constants cross-checked against original_source/.../PakFileDerivedDataBackend.cpp.
package pak

import "encoding/binary"

// indexMagic is PakCache_Magic from the original implementation.
const indexMagic uint32 = 0x0c7c0ddc

// indexEntry is one row of the on-disk index table.
type indexEntry struct {
	key    string
	offset int64
	size   int64
	crc    uint32
}

func writeUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func writeInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func writeIndexString(buf []byte, s string) []byte {
	buf = writeUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readUint32(b []byte) (uint32, []byte) {
	return binary.LittleEndian.Uint32(b[:4]), b[4:]
}

func readInt64(b []byte) (int64, []byte) {
	return int64(binary.LittleEndian.Uint64(b[:8])), b[8:]
}

func readIndexString(b []byte) (string, []byte) {
	n, rest := readUint32(b)
	return string(rest[:n]), rest[n:]
}

// marshalIndexEntry appends one index_table row: key, offset, size, crc.
func marshalIndexEntry(buf []byte, e indexEntry) []byte {
	buf = writeIndexString(buf, e.key)
	buf = writeInt64(buf, e.offset)
	buf = writeInt64(buf, e.size)
	buf = writeUint32(buf, e.crc)
	return buf
}

func unmarshalIndexEntry(b []byte) (indexEntry, []byte) {
	var e indexEntry
	e.key, b = readIndexString(b)
	e.offset, b = readInt64(b)
	e.size, b = readInt64(b)
	e.crc, b = readUint32(b)
	return e, b
}
