// Package graph builds a Backend tree from a declarative description
// (spec.md §6's BackendGraph), the way cmd/tempo/app wires together a
// Config struct into running components — except here the "component" is
// always a backend.Backend and the tree shape comes from a parsed
// description rather than a fixed set of modules.
package graph

import (
	"fmt"
	"strconv"

	"github.com/go-kit/log"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/local"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/wrap"
	"github.com/tempo-ddc/ddc/pkg/ddc/internal/workerpool"
)

// Kind names one of the node types recognized by the graph description
// (spec.md §6).
type Kind string

const (
	KindFileSystem   Kind = "FileSystem"
	KindBoot         Kind = "Boot"
	KindMemory       Kind = "Memory"
	KindHierarchical Kind = "Hierarchical"
	KindKeyLength    Kind = "KeyLength"
	KindAsyncPut     Kind = "AsyncPut"
	KindVerify       Kind = "Verify"
	KindReadPak      Kind = "ReadPak"
	KindWritePak     Kind = "WritePak"
)

// maxBootCacheSizeMiB is the spec's hard cap on a Boot node's max_cache_size
// option (spec.md §6).
const maxBootCacheSizeMiB = 2048

// NodeDesc is one node of the declarative graph description. The core
// accepts an already-parsed tree of these; ParseDescription (yaml.go) is the
// one parser this package provides.
type NodeDesc struct {
	Kind Kind `yaml:"kind"`

	// FileSystem
	FileSystem local.Config `yaml:"file_system,omitempty"`

	// Boot / Memory / ReadPak / WritePak
	Filename     string `yaml:"filename,omitempty"`
	MaxCacheSize int64  `yaml:"max_cache_size_mib,omitempty"` // MiB, capped at 2048

	// Hierarchical: ordered, fastest first
	Children []NodeDesc `yaml:"children,omitempty"`

	// KeyLength / AsyncPut / Verify: single child
	Inner *NodeDesc `yaml:"inner,omitempty"`

	// KeyLength
	Length int `yaml:"length,omitempty"`

	// Verify
	Fix      bool   `yaml:"fix,omitempty"`
	DebugDir string `yaml:"debug_dir,omitempty"`

	// ReadPak / WritePak
	Compressed bool `yaml:"compressed,omitempty"`
}

// Builder constructs backend.Backend trees from NodeDesc trees, sharing one
// worker pool and one top-level async-completion counter across every
// AsyncPut node it creates at the root.
type Builder struct {
	pool    *workerpool.Pool
	pending *atomic.Int64
	logger  log.Logger
}

// NewBuilder returns a Builder whose root-level AsyncPut wrapper dispatches
// onto pool and reports outstanding work through pending.
func NewBuilder(pool *workerpool.Pool, pending *atomic.Int64, logger log.Logger) *Builder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Builder{pool: pool, pending: pending, logger: logger}
}

// Build validates root, synthesizes the mandatory AsyncPut(KeyLength(...))
// wrapping if absent, and constructs the resulting backend.Backend tree.
func (b *Builder) Build(root NodeDesc) (backend.Backend, error) {
	var errs *multierror.Error
	validate(root, &errs, "Root")
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	root = ensureRootWrappers(root)
	return b.build(root)
}

// ensureRootWrappers synthesizes an AsyncPut wrapping a KeyLength around
// root unless it already terminates in exactly that shape (spec.md §6).
func ensureRootWrappers(root NodeDesc) NodeDesc {
	if root.Kind == KindAsyncPut && root.Inner != nil && root.Inner.Kind == KindKeyLength {
		return root
	}
	keyLength := NodeDesc{Kind: KindKeyLength, Length: wrap.DefaultMaxKeyLength, Inner: &root}
	return NodeDesc{Kind: KindAsyncPut, Inner: &keyLength}
}

// validate walks desc accumulating structural errors into errs — missing
// required fields, zero-child hierarchies, wrapper nodes with no inner
// child — using go-multierror so a single Build call reports every problem
// at once instead of stopping at the first.
func validate(desc NodeDesc, errs **multierror.Error, path string) {
	switch desc.Kind {
	case KindFileSystem:
		if desc.FileSystem.Path == "" {
			*errs = multierror.Append(*errs, errorf("%s: FileSystem node missing path", path))
		}
	case KindBoot:
		if desc.Filename == "" {
			*errs = multierror.Append(*errs, errorf("%s: Boot node missing filename", path))
		}
		if desc.MaxCacheSize > maxBootCacheSizeMiB {
			*errs = multierror.Append(*errs, errorf("%s: Boot max_cache_size_mib %d exceeds cap of %d", path, desc.MaxCacheSize, maxBootCacheSizeMiB))
		}
	case KindMemory:
		// Filename is optional; nothing to validate.
	case KindHierarchical:
		if len(desc.Children) == 0 {
			*errs = multierror.Append(*errs, errorf("%s: Hierarchical node has no children", path))
		}
		for i, child := range desc.Children {
			validate(child, errs, childPath(path, i))
		}
	case KindKeyLength, KindAsyncPut:
		if desc.Inner == nil {
			*errs = multierror.Append(*errs, errorf("%s: %s node has no inner child", path, desc.Kind))
			return
		}
		if desc.Kind == KindKeyLength && (desc.Length < 0 || desc.Length > wrap.DefaultMaxKeyLength) {
			*errs = multierror.Append(*errs, errorf("%s: KeyLength length %d out of range [0, %d]", path, desc.Length, wrap.DefaultMaxKeyLength))
		}
		validate(*desc.Inner, errs, path+".inner")
	case KindVerify:
		if desc.Inner == nil {
			*errs = multierror.Append(*errs, errorf("%s: Verify node has no inner child", path))
			return
		}
		validate(*desc.Inner, errs, path+".inner")
	case KindReadPak, KindWritePak:
		if desc.Filename == "" {
			*errs = multierror.Append(*errs, errorf("%s: %s node missing filename", path, desc.Kind))
		}
	default:
		*errs = multierror.Append(*errs, errorf("%s: unrecognized node kind %q", path, desc.Kind))
	}
}

func childPath(parent string, i int) string {
	return parent + "." + strconv.Itoa(i)
}

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
