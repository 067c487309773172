package pak

import (
	"github.com/go-kit/log/level"
)

// MergeCache copies into w every key present in other that w does not
// already contain, using the raw Get/Put paths so no compression
// transcoding is ever performed (spec.md §4.4) — callers merging
// compressed paks must pass the underlying Writer/Reader, not a
// CompressedWriter/CompressedReader.
func MergeCache(w *Writer, other *Reader) int {
	copied := 0
	skipped := 0
	for _, key := range other.Keys() {
		if w.ProbablyExists(key) {
			skipped++
			continue
		}
		value, ok := other.Get(key)
		if !ok {
			continue
		}
		w.Put(key, value, false)
		copied++
	}
	level.Info(w.logger).Log("msg", "merged pak cache", "source", other.Filename(), "copied", copied, "skipped", skipped)
	return copied
}
