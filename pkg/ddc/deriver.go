// Package ddc is the public facade: the top-level Cache that routes
// GetSynchronous/GetAsynchronous/Put/Exists calls either straight to a
// backend graph's root or through a rollup aggregator, and owns the handle
// table async callers poll against (spec.md §4.7).
package ddc

import "github.com/tempo-ddc/ddc/pkg/ddc/backend"

// Deriver is supplied by the client to (re)compute a cache entry's payload
// on a miss. Name and Version must be stable across runs for equivalent
// computations; KeySuffix encodes the specific inputs (spec.md §3, §6).
type Deriver interface {
	Name() string
	Version() string
	KeySuffix() string

	// IsDeterministic gates the verify_ddc re-build-and-compare check in
	// GetSynchronous.
	IsDeterministic() bool

	// IsBuildThreadSafe, if false, forces GetAsynchronous to run Build on
	// the calling goroutine instead of the worker pool.
	IsBuildThreadSafe() bool

	// Build produces the payload. A false return means the build failed;
	// the cache reports a miss and writes nothing.
	Build() ([]byte, bool)
}

// CacheKey composes the full backend.Key for a Deriver (spec.md §3).
func CacheKey(d Deriver) backend.Key {
	return backend.Key(d.Name() + d.Version() + d.KeySuffix())
}
