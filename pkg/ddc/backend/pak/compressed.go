package pak

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
)

// zlibMemoryBiasedLevel favors smaller memory footprint over ratio, mirroring
// the original's memory-biased compression preset for a backend expected to
// run alongside a whole editor/cook process.
const zlibMemoryBiasedLevel = zlib.BestSpeed

// CompressedWriter wraps a Writer, zlib-compressing each payload and
// prefixing it with its uncompressed size. Compressed and uncompressed pak
// files are not interoperable (spec.md §4.4) — the flag must match on open,
// which in this API means choosing CompressedWriter/CompressedReader
// consistently with how the file was produced.
type CompressedWriter struct {
	*Writer
}

// NewCompressedWriter wraps an already-open Writer.
func NewCompressedWriter(w *Writer) *CompressedWriter {
	return &CompressedWriter{Writer: w}
}

func (c *CompressedWriter) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if len(value) == 0 {
		return
	}

	var compressed bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(value)))
	compressed.Write(header[:])

	zw, _ := zlib.NewWriterLevel(&compressed, zlibMemoryBiasedLevel)
	if _, err := zw.Write(value); err != nil {
		return
	}
	if err := zw.Close(); err != nil {
		return
	}

	c.Writer.Put(key, compressed.Bytes(), putEvenIfExists)
}

// CompressedReader wraps a Reader, transparently decompressing on Get.
type CompressedReader struct {
	*Reader
}

// NewCompressedReader wraps an already-open Reader.
func NewCompressedReader(r *Reader) *CompressedReader {
	return &CompressedReader{Reader: r}
}

func (c *CompressedReader) Get(key backend.Key) ([]byte, bool) {
	raw, ok := c.Reader.Get(key)
	if !ok || len(raw) < 4 {
		return nil, false
	}

	uncompressedSize := binary.LittleEndian.Uint32(raw[:4])
	zr, err := zlib.NewReader(bytes.NewReader(raw[4:]))
	if err != nil {
		return nil, false
	}
	defer zr.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, false
	}
	return out, true
}

var (
	_ backend.Backend = (*CompressedWriter)(nil)
	_ backend.Backend = (*CompressedReader)(nil)
)
