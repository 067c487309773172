package local

import (
	"flag"
	"time"
)

// Config configures a filesystem backend, grounded on
// friggdb/backend/cache/config.go's yaml-tagged, flag-registered shape.
type Config struct {
	Path string `yaml:"path"`

	ReadOnly bool `yaml:"read_only,omitempty"`

	// TouchOnExists forces an mtime bump on every ProbablyExists hit,
	// independent of the file's age. See probablyExists in local.go.
	TouchOnExists bool `yaml:"touch,omitempty"`

	// UnusedFileAge is the age past which a file becomes eligible for the
	// cleanup sweep, and a quarter of which defines the "resist cleanup"
	// touch threshold.
	UnusedFileAge time.Duration `yaml:"unused_file_age,omitempty"`

	// FoldersToClean bounds how many shard folders the cleanup sweep visits
	// per pass.
	FoldersToClean int `yaml:"folders_to_clean,omitempty"`

	// MaxFileChecksPerSec throttles the cleanup sweep's stat() rate.
	MaxFileChecksPerSec int `yaml:"max_file_checks_per_sec,omitempty"`

	DeleteUnused bool `yaml:"delete_unused,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers flags under prefix, matching the
// convention used throughout cmd/tempo/app.Config.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.UnusedFileAge = 10 * 24 * time.Hour
	c.FoldersToClean = 10
	c.MaxFileChecksPerSec = 1000

	f.StringVar(&c.Path, prefix+"path", "", "Root directory of the filesystem cache.")
	f.BoolVar(&c.ReadOnly, prefix+"read-only", false, "Open the filesystem cache read-only.")
	f.BoolVar(&c.TouchOnExists, prefix+"touch", false, "Touch mtime on every existence check, not just aging ones.")
	f.DurationVar(&c.UnusedFileAge, prefix+"unused-file-age", c.UnusedFileAge, "Age after which an entry is eligible for cleanup.")
	f.IntVar(&c.FoldersToClean, prefix+"folders-to-clean", c.FoldersToClean, "Shard folders visited per cleanup pass.")
	f.IntVar(&c.MaxFileChecksPerSec, prefix+"max-file-checks-per-sec", c.MaxFileChecksPerSec, "Cleanup sweep stat() rate limit.")
	f.BoolVar(&c.DeleteUnused, prefix+"delete-unused", true, "Run the age-based cleanup sweep.")
}
