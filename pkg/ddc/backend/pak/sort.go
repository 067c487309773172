package pak

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
)

// SortAndCopy opens inputPath as a read-pak, copies every entry into a
// fresh write-pak at outputPath in lexicographic key order, and writes a
// CSV manifest (Asset,Size) alongside the output — grounded on
// PakFileDerivedDataBackend::SortAndCopy in original_source/.
func SortAndCopy(inputPath, outputPath string, logger log.Logger) error {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	in, err := OpenReader(inputPath, logger)
	if err != nil {
		return errors.Wrap(err, "ddc: opening input pak for sort")
	}
	defer in.Close()

	out, err := CreateWriter(outputPath, logger)
	if err != nil {
		return errors.Wrap(err, "ddc: opening output pak for sort")
	}

	keys := in.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	sizes := make(map[backend.Key]int, len(keys))
	for _, key := range keys {
		value, ok := in.Get(key)
		if !ok {
			continue
		}
		out.Put(key, value, false)
		sizes[key] = len(value)
	}

	if err := out.Close(); err != nil {
		return errors.Wrap(err, "ddc: closing sorted output pak")
	}

	manifestPath := csvManifestPath(outputPath)
	if err := writeManifest(manifestPath, keys, sizes); err != nil {
		return errors.Wrap(err, "ddc: writing pak sort manifest")
	}

	level.Info(logger).Log("msg", "sorted pak cache", "source", inputPath, "dest", outputPath, "entries", len(keys), "manifest", manifestPath)
	return nil
}

// csvManifestPath mirrors the original's Combine(GetPath(output),
// GetBaseFilename(output)+".csv") naming convention.
func csvManifestPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return filepath.Join(dir, base+".csv")
}

func writeManifest(path string, keys []backend.Key, sizes map[backend.Key]int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Asset", "Size"}); err != nil {
		return err
	}
	for _, key := range keys {
		if err := w.Write([]string{string(key), strconv.Itoa(sizes[key])}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
