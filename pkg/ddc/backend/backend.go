// Package backend defines the storage-backend contract shared by every
// concrete cache (memory, filesystem, pak) and every wrapper that decorates
// one (corruption, key-length, async-put, hierarchical, verify).
package backend

import (
	"fmt"
	"strings"

	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// Key is an opaque cache key. Per spec it is composed of ASCII
// alphanumerics, underscore and '$', and must be shorter than whatever
// maximum the innermost backend enforces.
type Key string

// Valid reports whether k satisfies the core key-character contract.
// It does not enforce any backend-specific length limit.
func (k Key) Valid() bool {
	if len(k) == 0 {
		return false
	}
	for _, r := range string(k) {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '$':
		default:
			return false
		}
	}
	return true
}

// Upper returns the key uppercased. The filesystem backend normalizes keys
// this way before hashing them to a path; other layers preserve spelling.
func (k Key) Upper() Key {
	return Key(strings.ToUpper(string(k)))
}

func (k Key) String() string {
	return string(k)
}

// Backend is the contract every storage tier and wrapper implements.
// A miss is always represented as a nil/empty payload, never an error;
// Get/Put/Remove never return errors to keep the fan-out/backfill logic in
// the hierarchical wrapper simple, per spec.md §7 (errors do not cross the
// backend interface).
type Backend interface {
	// IsWritable reports whether Put/Remove have any effect on this backend.
	IsWritable() bool

	// BackfillLowerLevels reports whether the hierarchical wrapper may write
	// into (or fan a write down past) this backend when it sits above a hit.
	// Defaults to true; a read-only pak returns false.
	BackfillLowerLevels() bool

	// ProbablyExists may have false positives but must not have false
	// negatives for durably committed entries.
	ProbablyExists(key Key) bool

	// Get returns the payload for key, or (nil, false) on miss. An empty
	// payload is never returned as a hit — empty means miss.
	Get(key Key) ([]byte, bool)

	// Put is fire-and-forget at this layer. If putEvenIfExists is false the
	// backend may skip the write when ProbablyExists(key) is already true.
	// A no-op if IsWritable() is false. value must be non-empty.
	Put(key Key, value []byte, putEvenIfExists bool)

	// Remove deletes key from this backend. transient hints the entry was a
	// speculative in-flight copy; some backends ignore transient removes.
	Remove(key Key, transient bool)

	// GatherUsageStats appends this node's counters (and recursively its
	// children's) into stats, keyed by a dotted graphPath such as "0. 1. 0".
	GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string)
}

// ErrEmptyPayload is returned by callers (not by Backend methods — see the
// interface doc) when a caller attempts to put a zero-length buffer, which
// spec.md §3 calls a contract violation.
var ErrEmptyPayload = fmt.Errorf("ddc: empty payload is not a valid cache entry")
