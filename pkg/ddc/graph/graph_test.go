package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend/wrap"
	"github.com/tempo-ddc/ddc/pkg/ddc/internal/workerpool"
)

var testBuilderPoolSeq = atomic.NewInt64(0)

func newTestBuilder() *Builder {
	subsystem := fmt.Sprintf("graph_%d", testBuilderPoolSeq.Inc())
	pool := workerpool.New("ddc_test", subsystem, workerpool.Config{MaxWorkers: 2, QueueDepth: 10})
	return NewBuilder(pool, atomic.NewInt64(0), nil)
}

// TestBuildSynthesizesRootAsyncPutKeyLength exercises ensureRootWrappers: a
// bare Memory root must come back wrapped in AsyncPut(KeyLength(...)).
func TestBuildSynthesizesRootAsyncPutKeyLength(t *testing.T) {
	b := newTestBuilder()
	root, err := b.Build(NodeDesc{Kind: KindMemory})
	require.NoError(t, err)

	_, ok := root.(*wrap.AsyncPutWrapper)
	require.True(t, ok, "root must be wrapped in AsyncPut")

	root.Put("K", []byte{1}, false)
	v, hit := root.Get("K")
	require.True(t, hit)
	assert.Equal(t, []byte{1}, v)
}

// TestBuildDoesNotDoubleWrapAlreadyCorrectRoot covers the no-op branch of
// ensureRootWrappers: a description already shaped AsyncPut(KeyLength(...))
// passes through unchanged.
func TestBuildDoesNotDoubleWrapAlreadyCorrectRoot(t *testing.T) {
	b := newTestBuilder()
	mem := NodeDesc{Kind: KindMemory}
	keyLen := NodeDesc{Kind: KindKeyLength, Length: 32, Inner: &mem}
	desc := NodeDesc{Kind: KindAsyncPut, Inner: &keyLen}

	root, err := b.Build(desc)
	require.NoError(t, err)

	_, ok := root.(*wrap.AsyncPutWrapper)
	require.True(t, ok, "an already AsyncPut(KeyLength(...)) root must not be double-wrapped")

	root.Put("K", []byte{1}, false)
	v, hit := root.Get("K")
	require.True(t, hit)
	assert.Equal(t, []byte{1}, v)
}

func TestBuildHierarchicalWithMultipleMemoryChildren(t *testing.T) {
	b := newTestBuilder()
	desc := NodeDesc{
		Kind: KindHierarchical,
		Children: []NodeDesc{
			{Kind: KindMemory},
			{Kind: KindMemory},
		},
	}

	root, err := b.Build(desc)
	require.NoError(t, err)

	root.Put("K", []byte{5}, false)
	v, hit := root.Get("K")
	require.True(t, hit)
	assert.Equal(t, []byte{5}, v)
}

func TestBuildRejectsHierarchicalWithNoChildren(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build(NodeDesc{Kind: KindHierarchical})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no children")
}

func TestBuildRejectsFileSystemMissingPath(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build(NodeDesc{Kind: KindFileSystem})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing path")
}

func TestBuildRejectsBootOverCacheSizeCap(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build(NodeDesc{Kind: KindBoot, Filename: "snap.bin", MaxCacheSize: maxBootCacheSizeMiB + 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds cap")
}

func TestBuildRejectsKeyLengthOutOfRange(t *testing.T) {
	b := newTestBuilder()
	inner := NodeDesc{Kind: KindMemory}
	_, err := b.Build(NodeDesc{Kind: KindKeyLength, Length: wrap.DefaultMaxKeyLength + 1, Inner: &inner})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestBuildAccumulatesMultipleErrorsAtOnce(t *testing.T) {
	b := newTestBuilder()
	desc := NodeDesc{
		Kind: KindHierarchical,
		Children: []NodeDesc{
			{Kind: KindFileSystem},
			{Kind: KindBoot},
		},
	}
	_, err := b.Build(desc)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "missing path")
	assert.Contains(t, msg, "missing filename")
}

func TestBuildRejectsUnrecognizedKind(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build(NodeDesc{Kind: "Nonsense"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized")
}

func TestParseDescriptionRoundTrips(t *testing.T) {
	yamlDoc := []byte(`
kind: AsyncPut
inner:
  kind: KeyLength
  length: 64
  inner:
    kind: Hierarchical
    children:
      - kind: Memory
      - kind: FileSystem
        file_system:
          path: /var/cache/ddc
`)
	desc, err := ParseDescription(yamlDoc)
	require.NoError(t, err)

	assert.Equal(t, KindAsyncPut, desc.Kind)
	require.NotNil(t, desc.Inner)
	assert.Equal(t, KindKeyLength, desc.Inner.Kind)
	assert.Equal(t, 64, desc.Inner.Length)
	require.NotNil(t, desc.Inner.Inner)
	assert.Equal(t, KindHierarchical, desc.Inner.Inner.Kind)
	require.Len(t, desc.Inner.Inner.Children, 2)
	assert.Equal(t, "/var/cache/ddc", desc.Inner.Inner.Children[1].FileSystem.Path)
}

func TestBuildFromParsedDescription(t *testing.T) {
	b := newTestBuilder()
	yamlDoc := []byte(`
kind: Memory
`)
	desc, err := ParseDescription(yamlDoc)
	require.NoError(t, err)

	root, err := b.Build(desc)
	require.NoError(t, err)
	require.NotNil(t, root)
}
