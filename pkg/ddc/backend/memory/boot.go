package memory

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Boot wraps a Memory backend with a snapshot filename. It is loaded once
// at graph construction and, on NotifyBootComplete, saves its current
// contents back to disk and disables itself for the rest of the process
// (spec.md §4.7): the boot tier only ever warms the cache, it never grows
// past what the snapshot is willing to hold.
type Boot struct {
	*Memory
	filename string
	logger   log.Logger
}

// NewBoot constructs a Boot tier and attempts to load filename if it
// exists. A missing file is not an error — the cache simply starts cold.
func NewBoot(filename string, cfg Config, logger log.Logger) (*Boot, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	b := &Boot{
		Memory:   New(cfg, logger),
		filename: filename,
		logger:   logger,
	}

	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if err := b.Memory.LoadSnapshot(f, info.Size()); err != nil {
		level.Warn(logger).Log("msg", "failed to load boot cache, starting cold", "filename", filename, "err", err)
		return b, nil
	}

	level.Info(logger).Log("msg", "loaded boot cache", "filename", filename, "entries", b.Memory.Len())
	return b, nil
}

// NotifyBootComplete persists the current contents to disk (unless
// suppressed by the caller, e.g. a command-line flag) and disables the
// backend so it stops accumulating further state this session.
func (b *Boot) NotifyBootComplete(save bool) error {
	if save {
		tmp := b.filename + ".tmp"
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := b.Memory.SaveSnapshot(f); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmp, b.filename); err != nil {
			return err
		}
		level.Info(b.logger).Log("msg", "saved boot cache", "filename", b.filename)
	}
	b.Memory.Disable()
	return nil
}
