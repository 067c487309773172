package memory

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	m := New(Config{}, nil)
	m.Put("A", []byte{1, 2, 3}, false)
	m.Put("B", []byte{4, 5}, false)

	var buf bytes.Buffer
	require.NoError(t, m.SaveSnapshot(&buf))

	data := buf.Bytes()
	assert.Equal(t, magicCurrent64, binary.LittleEndian.Uint32(data[:4]))

	m2 := New(Config{}, nil)
	require.NoError(t, m2.LoadSnapshot(bytes.NewReader(data), int64(len(data))))

	v, ok := m2.Get("A")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, v)
	v, ok = m2.Get("B")
	require.True(t, ok)
	assert.Equal(t, []byte{4, 5}, v)
}

func TestSnapshotRejectsBadMagic(t *testing.T) {
	m := New(Config{}, nil)
	m.Put("A", []byte{1}, false)

	var buf bytes.Buffer
	require.NoError(t, m.SaveSnapshot(&buf))
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[:4], 0xdeadbeef)

	m2 := New(Config{}, nil)
	err := m2.LoadSnapshot(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestSnapshotRejectsOversizedCap(t *testing.T) {
	m := New(Config{}, nil)
	m.Put("A", make([]byte, 100), false)

	var buf bytes.Buffer
	require.NoError(t, m.SaveSnapshot(&buf))
	data := buf.Bytes()

	m2 := New(Config{MaxCacheSize: 10}, nil)
	err := m2.LoadSnapshot(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err, "declared size exceeding 2x the configured cap must be rejected")
}

// TestSnapshotAgeGrace exercises invariant #7: across repeated boot cycles
// (load, optionally touch, save, reload elsewhere), an entry never touched
// by an intervening Get ages out once MaxAge (3) loads have passed without
// a touch; a Get in between resets its age and the entry survives.
func TestSnapshotAgeGrace(t *testing.T) {
	seed := New(Config{}, nil)
	seed.Put("STALE", []byte{1}, false)
	seed.Put("TOUCHED", []byte{2}, false)
	var data bytes.Buffer
	require.NoError(t, seed.SaveSnapshot(&data))

	cur := data.Bytes()
	for i := 0; i < MaxAge; i++ {
		m := New(Config{}, nil)
		require.NoError(t, m.LoadSnapshot(bytes.NewReader(cur), int64(len(cur))))
		// Touch only TOUCHED between loads, resetting its age to 0 before
		// the next save.
		m.Get("TOUCHED")

		var next bytes.Buffer
		require.NoError(t, m.SaveSnapshot(&next))
		cur = next.Bytes()
	}

	final := New(Config{}, nil)
	require.NoError(t, final.LoadSnapshot(bytes.NewReader(cur), int64(len(cur))))

	_, ok := final.Get("STALE")
	assert.False(t, ok, "an entry never touched across MaxAge load/save cycles must be dropped")

	_, ok = final.Get("TOUCHED")
	assert.True(t, ok, "a touched entry's age is reset by Get and should survive")
}

func TestSnapshotEmptyMemoryRoundTrip(t *testing.T) {
	m := New(Config{}, nil)
	var buf bytes.Buffer
	require.NoError(t, m.SaveSnapshot(&buf))

	m2 := New(Config{}, nil)
	require.NoError(t, m2.LoadSnapshot(bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	assert.Equal(t, 0, m2.Len())
}
