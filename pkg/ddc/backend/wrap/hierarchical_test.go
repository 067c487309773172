package wrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
)

// TestHierarchicalBackfillsUpward is scenario C: a miss on the fast tier
// followed by a hit on the slow tier backfills the fast tier.
func TestHierarchicalBackfillsUpward(t *testing.T) {
	pool := newTestPool()
	fast := newFakeBackend()
	slow := newFakeBackend()
	slow.Put("K", []byte{0x42, 0x42}, false)

	h := NewHierarchicalWrapper([]backend.Backend{fast, slow}, pool, nil)

	v, ok := h.Get("K")
	require.True(t, ok)
	assert.Equal(t, []byte{0x42, 0x42}, v)

	waitUntil(t, time.Second, func() bool { return fast.has("K") })
	v, ok = fast.Get("K")
	require.True(t, ok)
	assert.Equal(t, []byte{0x42, 0x42}, v)
}

func TestHierarchicalGetMissWhenNoChildHasKey(t *testing.T) {
	pool := newTestPool()
	h := NewHierarchicalWrapper([]backend.Backend{newFakeBackend(), newFakeBackend()}, pool, nil)
	_, ok := h.Get("NOPE")
	assert.False(t, ok)
}

// TestHierarchicalReadPakAuthority is invariant #10: when a non-writable,
// non-backfilling child (a read pak stand-in) already contains the key, no
// writable child lower in the chain may receive a put for it.
func TestHierarchicalReadPakAuthority(t *testing.T) {
	pool := newTestPool()
	fast := newFakeBackend()
	readPak := newFakeBackend()
	readPak.Put("K", []byte{1}, false) // seed while still writable
	readPak.writable = false
	readPak.backfill = false
	lower := newFakeBackend()

	h := NewHierarchicalWrapper([]backend.Backend{fast, readPak, lower}, pool, nil)

	h.Put("K", []byte{2}, false)
	waitUntil(t, time.Second, func() bool { return fast.has("K") })

	assert.False(t, lower.has("K"), "a writable child below a read-pak-authoritative child must not receive the put")
}

func TestHierarchicalPutWritesFirstChildSynchronously(t *testing.T) {
	pool := newTestPool()
	first := newFakeBackend()
	second := newFakeBackend()
	h := NewHierarchicalWrapper([]backend.Backend{first, second}, pool, nil)

	h.Put("K", []byte{5}, false)

	// The first writable child is written synchronously: no need to wait.
	assert.True(t, first.has("K"))
}

func TestHierarchicalRemoveBroadcastsToAllChildren(t *testing.T) {
	pool := newTestPool()
	a := newFakeBackend()
	b := newFakeBackend()
	a.Put("K", []byte{1}, false)
	b.Put("K", []byte{1}, false)

	h := NewHierarchicalWrapper([]backend.Backend{a, b}, pool, nil)
	h.Remove("K", false)

	waitUntil(t, time.Second, func() bool { return !a.has("K") && !b.has("K") })
}

func TestHierarchicalIsWritableIsOrOfChildren(t *testing.T) {
	pool := newTestPool()
	ro := newFakeBackend()
	ro.writable = false
	h := NewHierarchicalWrapper([]backend.Backend{ro}, pool, nil)
	assert.False(t, h.IsWritable())

	rw := newFakeBackend()
	h2 := NewHierarchicalWrapper([]backend.Backend{ro, rw}, pool, nil)
	assert.True(t, h2.IsWritable())
}

func TestHierarchicalAddAndRemoveChild(t *testing.T) {
	pool := newTestPool()
	h := NewHierarchicalWrapper([]backend.Backend{newFakeBackend()}, pool, nil)

	extra := newFakeBackend()
	h.AddChild(extra)
	extra.Put("K", []byte{1}, false)

	v, ok := h.Get("K")
	require.True(t, ok)
	assert.Equal(t, []byte{1}, v)

	removed, ok := h.RemoveChild(func(b backend.Backend) bool { return b == extra })
	require.True(t, ok)
	assert.Equal(t, backend.Backend(extra), removed)
}
