package wrap

import (
	"crypto/sha1" //nolint:gosec // matches the original's FSHA1, not used for any security property here
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"unicode/utf16"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/usagestats"
)

// DefaultMaxKeyLength is the default max_key_length (spec.md §4.5).
const DefaultMaxKeyLength = 120

// legacyBugPrefix is the key prefix that triggers the "old bug" fixup path:
// some historically-written entries embed a trailing copy of the
// (unshortened) key even though the key never needed shortening.
const legacyBugPrefix = "TEXTURE2D_0002"

// KeyLengthWrapper rewrites any key over maxKeyLength into a fixed-width
// hashed form and verifies the embedded original key on read as a collision
// guard (spec.md §4.5).
type KeyLengthWrapper struct {
	inner        backend.Backend
	maxKeyLength int
	logger       log.Logger
	stats        *usagestats.Counter
}

var _ backend.Backend = (*KeyLengthWrapper)(nil)

// NewKeyLengthWrapper decorates inner. A maxKeyLength of zero or less, or
// above DefaultMaxKeyLength (120), is replaced by DefaultMaxKeyLength.
func NewKeyLengthWrapper(inner backend.Backend, maxKeyLength int, logger log.Logger) *KeyLengthWrapper {
	if maxKeyLength <= 0 || maxKeyLength > DefaultMaxKeyLength {
		maxKeyLength = DefaultMaxKeyLength
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &KeyLengthWrapper{inner: inner, maxKeyLength: maxKeyLength, logger: logger, stats: usagestats.NewCounter()}
}

// shorten returns the rewritten key and whether shortening was needed.
func (k *KeyLengthWrapper) shorten(key backend.Key) (backend.Key, bool) {
	if len(key) <= k.maxKeyLength {
		return key, false
	}

	utf16Key := utf16.Encode([]rune(string(key)))
	payload := make([]byte, len(utf16Key)*2)
	for i, u := range utf16Key {
		binary.LittleEndian.PutUint16(payload[i*2:], u)
	}
	crc := crc32.ChecksumIEEE(payload)

	h := sha1.New() //nolint:gosec
	var lengthField [4]byte
	binary.LittleEndian.PutUint32(lengthField[:], uint32(len(key)))
	h.Write(lengthField[:])
	var crcField [4]byte
	binary.LittleEndian.PutUint32(crcField[:], crc)
	h.Write(crcField[:])
	h.Write(payload)
	digest := fmt.Sprintf("%X", h.Sum(nil))

	// The full digest is kept whenever max_key_length leaves room for it;
	// when the budget is too tight (max_key_length below ~42), the digest
	// is cut down to a short 2-hex-character suffix instead so the result
	// still lands on exactly max_key_length. Correctness never depends on
	// the digest alone — Get re-checks the embedded original key — so a
	// short suffix here only trades away collision-bucket spread, not
	// safety.
	const minDigestLen = 2
	digestLen := len(digest)
	if k.maxKeyLength-digestLen-2 < 0 {
		digestLen = minDigestLen
		if digestLen > k.maxKeyLength-2 {
			digestLen = k.maxKeyLength - 2
		}
		if digestLen < 0 {
			digestLen = 0
		}
		digest = digest[:digestLen]
	}

	originalPart := k.maxKeyLength - digestLen - 2
	if originalPart < 0 {
		originalPart = 0
	}
	if originalPart > len(key) {
		originalPart = len(key)
	}
	shortened := string(key)[:originalPart] + "__" + digest
	return backend.Key(shortened), true
}

func (k *KeyLengthWrapper) IsWritable() bool          { return k.inner.IsWritable() }
func (k *KeyLengthWrapper) BackfillLowerLevels() bool { return k.inner.BackfillLowerLevels() }

func (k *KeyLengthWrapper) ProbablyExists(key backend.Key) bool {
	shortKey, _ := k.shorten(key)
	ok := k.inner.ProbablyExists(shortKey)
	k.stats.RecordExists(ok)
	return ok
}

func (k *KeyLengthWrapper) Get(key backend.Key) ([]byte, bool) {
	shortKey, shortened := k.shorten(key)

	if !shortened {
		raw, ok := k.inner.Get(key)
		if !ok {
			k.stats.RecordGet(false, 0)
			return nil, false
		}
		// Legacy bug fixup: some old entries embed a trailing
		// null-terminated copy of the key even though it never needed
		// shortening; strip it if present.
		if strings.HasPrefix(string(key), legacyBugPrefix) {
			keyLen := len(key) + 1
			if len(raw) > keyLen && raw[len(raw)-1] == 0 {
				embedded := raw[len(raw)-keyLen : len(raw)-1]
				if string(embedded) == string(key) {
					level.Warn(k.logger).Log("msg", "fixed legacy embedded-key bug", "key", key)
					raw = raw[:len(raw)-keyLen]
				}
			}
		}
		k.stats.RecordGet(true, len(raw))
		return raw, true
	}

	raw, ok := k.inner.Get(shortKey)
	if !ok {
		k.stats.RecordGet(false, 0)
		return nil, false
	}

	keyLen := len(key) + 1
	if len(raw) < keyLen {
		level.Warn(k.logger).Log("msg", "short file or hash collision, deleting", "key", key)
		k.inner.Remove(shortKey, false)
		k.stats.RecordGet(false, 0)
		return nil, false
	}

	embedded := raw[len(raw)-keyLen : len(raw)-1]
	payload := raw[:len(raw)-keyLen]
	if string(embedded) != string(key) {
		level.Warn(k.logger).Log("msg", "hash collision, deleting", "key", key)
		k.inner.Remove(shortKey, false)
		k.stats.RecordGet(false, 0)
		return nil, false
	}

	k.stats.RecordGet(true, len(payload))
	return payload, true
}

func (k *KeyLengthWrapper) Put(key backend.Key, value []byte, putEvenIfExists bool) {
	if !k.inner.IsWritable() || len(value) == 0 {
		return
	}

	shortKey, shortened := k.shorten(key)
	if !shortened {
		k.inner.Put(key, value, putEvenIfExists)
		k.stats.RecordPut(len(value))
		return
	}

	framed := make([]byte, 0, len(value)+len(key)+1)
	framed = append(framed, value...)
	framed = append(framed, key...)
	framed = append(framed, 0)

	k.inner.Put(shortKey, framed, putEvenIfExists)
	k.stats.RecordPut(len(value))
}

func (k *KeyLengthWrapper) Remove(key backend.Key, transient bool) {
	if !k.inner.IsWritable() {
		return
	}
	shortKey, _ := k.shorten(key)
	k.inner.Remove(shortKey, transient)
	k.stats.RecordRemove()
}

func (k *KeyLengthWrapper) GatherUsageStats(stats map[string]*usagestats.Counter, graphPath string) {
	stats[graphPath+": LimitKeyLength"] = k.stats
	k.inner.GatherUsageStats(stats, graphPath+". 0")
}
