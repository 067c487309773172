// Package cleanup implements the age-based filesystem sweep that the local
// backend registers itself with when writable (spec.md §4.3). It is
// grounded on friggdb/backend/cache/disk_cache.go's janitor: a ticker
// driving a godirwalk pass that prunes the oldest files once a threshold is
// exceeded, generalized here from a total-size trigger to per-spec
// (max_age_days, max_folders_per_sweep, max_files_per_sec).
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/karrick/godirwalk"

	utillog "github.com/tempo-ddc/ddc/pkg/util/log"
)

// removeWarnRatePerSec caps per-file remove-failure warnings at this many
// per second (with an equal burst); a stale NFS mount or permissions problem
// touches every file in a shard, and without a cap that turns one sweep
// into thousands of identical log lines.
const removeWarnRatePerSec = 5

// Config parameterizes one filesystem root's cleanup sweep.
type Config struct {
	Root                string
	MaxAge              time.Duration
	MaxFoldersPerSweep  int
	MaxFileChecksPerSec int
	// SweepInterval controls how often a full sweep runs. Defaults to
	// MaxAge/24, but never less than one minute, if zero.
	SweepInterval time.Duration
}

// Sweeper periodically deletes files under Root older than MaxAge.
type Sweeper struct {
	cfg       Config
	logger    log.Logger
	removeLog log.Logger
	stopCh    chan struct{}
}

// Register starts a Sweeper for cfg and returns it; callers that need to
// stop it hold onto the returned value and call Stop.
func Register(cfg Config, logger log.Logger) *Sweeper {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.MaxAge / 24
		if cfg.SweepInterval < time.Minute {
			cfg.SweepInterval = time.Minute
		}
	}
	if cfg.MaxFoldersPerSweep <= 0 {
		cfg.MaxFoldersPerSweep = 10
	}

	s := &Sweeper{
		cfg:       cfg,
		logger:    logger,
		removeLog: utillog.NewRateLimitedLogger(removeWarnRatePerSec, logger),
		stopCh:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Stop halts the sweep goroutine.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				level.Warn(s.logger).Log("msg", "cleanup sweep failed", "root", s.cfg.Root, "err", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// sweep walks at most MaxFoldersPerSweep top-level shard folders and
// removes any file older than MaxAge, throttled to MaxFileChecksPerSec
// stat() calls.
func (s *Sweeper) sweep() error {
	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	checked := 0
	removed := 0
	minInterval := time.Duration(0)
	if s.cfg.MaxFileChecksPerSec > 0 {
		minInterval = time.Second / time.Duration(s.cfg.MaxFileChecksPerSec)
	}

	visited := 0
	for _, top := range entries {
		if !top.IsDir() {
			continue
		}
		if visited >= s.cfg.MaxFoldersPerSweep {
			break
		}
		visited++

		err := godirwalk.Walk(filepath.Join(s.cfg.Root, top.Name()), &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if de.IsDir() {
					return nil
				}
				checked++
				if minInterval > 0 {
					time.Sleep(minInterval)
				}
				info, statErr := os.Stat(path)
				if statErr != nil {
					return nil
				}
				if info.ModTime().Before(cutoff) {
					if rmErr := os.Remove(path); rmErr == nil {
						removed++
					} else {
						level.Warn(s.removeLog).Log("msg", "failed to remove aged cache entry", "path", path, "err", rmErr)
					}
				}
				return nil
			},
		})
		if err != nil {
			level.Warn(s.logger).Log("msg", "cleanup walk failed", "dir", top.Name(), "err", err)
		}
	}

	if removed > 0 {
		level.Info(s.logger).Log("msg", "cleanup sweep removed aged entries", "root", s.cfg.Root, "checked", checked, "removed", removed)
	}
	return nil
}
