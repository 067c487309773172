package memory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
)

// Snapshot magic values. 0x0cac0ddc is the legacy 32-bit-size footer,
// 0x0cac1ddc the current 64-bit-size footer — both accepted on load so an
// older boot cache on disk still loads cleanly. Values taken verbatim from
// spec.md §4.2 / MemoryDerivedDataBackend.cpp's MemCache_Magic constants.
const (
	magicLegacy32 uint32 = 0x0cac0ddc
	magicCurrent64 uint32 = 0x0cac1ddc
)

// SaveSnapshot writes the current contents to w in the §4.2 layout using
// the current (64-bit size) magic.
func (m *Memory) SaveSnapshot(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	if err := writeUint32(&buf, magicCurrent64); err != nil {
		return err
	}
	for _, key := range m.orderedKeysLocked() {
		e := m.items[key]
		if err := writeString(&buf, string(key)); err != nil {
			return err
		}
		if err := writeInt32(&buf, e.age); err != nil {
			return err
		}
		if err := writeBytes(&buf, e.value); err != nil {
			return err
		}
	}

	dataSize := int64(buf.Len())
	if err := writeInt64(&buf, dataSize); err != nil {
		return err
	}
	if err := writeUint32(&buf, magicCurrent64); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// LoadSnapshot reads a snapshot of total size fileSize from r and merges it
// into m. Every loaded entry's age is incremented by one first; entries
// whose age then reaches MaxAge are dropped — giving each entry three boot
// cycles of grace since it was last Get. Rejects files with the wrong
// magic, a size field that disagrees with the footer, or whose declared
// size exceeds twice the configured MaxCacheSize.
func (m *Memory) LoadSnapshot(r io.ReaderAt, fileSize int64) error {
	if fileSize < 12 {
		return fmt.Errorf("ddc: memory snapshot corrupted (short): %d bytes", fileSize)
	}

	head := make([]byte, 4)
	if _, err := r.ReadAt(head, 0); err != nil {
		return fmt.Errorf("ddc: reading memory snapshot magic: %w", err)
	}
	magic := binary.LittleEndian.Uint32(head)
	if magic != magicLegacy32 && magic != magicCurrent64 {
		return fmt.Errorf("ddc: memory snapshot corrupted (bad magic %#x)", magic)
	}

	footerLen := int64(12) // int64 size + uint32 crc, current layout
	if magic == magicLegacy32 {
		footerLen = 8 // uint32 size + uint32 crc, legacy layout
	}
	if fileSize < footerLen {
		return fmt.Errorf("ddc: memory snapshot corrupted (short): %d bytes", fileSize)
	}
	if m.cfg.MaxCacheSize > 0 && fileSize > 2*m.cfg.MaxCacheSize {
		return fmt.Errorf("ddc: refusing to load snapshot: size %d exceeds 2x max cache size %d", fileSize, m.cfg.MaxCacheSize)
	}

	footer := make([]byte, footerLen)
	if _, err := r.ReadAt(footer, fileSize-footerLen); err != nil {
		return fmt.Errorf("ddc: reading memory snapshot footer: %w", err)
	}

	var declaredSize int64
	var crc uint32
	if magic == magicCurrent64 {
		declaredSize = int64(binary.LittleEndian.Uint64(footer[0:8]))
		crc = binary.LittleEndian.Uint32(footer[8:12])
	} else {
		declaredSize = int64(binary.LittleEndian.Uint32(footer[0:4]))
		crc = binary.LittleEndian.Uint32(footer[4:8])
	}

	dataSize := fileSize - footerLen
	if declaredSize != dataSize {
		return fmt.Errorf("ddc: memory snapshot corrupted (size mismatch: declared %d, data %d)", declaredSize, dataSize)
	}
	if crc != magic {
		return fmt.Errorf("ddc: memory snapshot corrupted (trailer crc %#x != magic %#x)", crc, magic)
	}

	body := make([]byte, dataSize-4)
	if _, err := r.ReadAt(body, 4); err != nil {
		return fmt.Errorf("ddc: reading memory snapshot body: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	br := bytes.NewReader(body)
	for br.Len() > 0 {
		key, err := readString(br)
		if err != nil {
			return fmt.Errorf("ddc: reading memory snapshot entry key: %w", err)
		}
		age, err := readInt32(br)
		if err != nil {
			return fmt.Errorf("ddc: reading memory snapshot entry age: %w", err)
		}
		value, err := readBytes(br)
		if err != nil {
			return fmt.Errorf("ddc: reading memory snapshot entry value: %w", err)
		}

		age++
		if age >= MaxAge {
			continue
		}
		m.items[backend.Key(key)] = &entry{age: age, value: value}
		m.currentSize += int64(len(value))
		m.recency.Add(backend.Key(key), struct{}{})
	}

	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeInt32(w io.Writer, v int32) error {
	return writeUint32(w, uint32(v))
}

func writeInt64(w io.Writer, v int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
