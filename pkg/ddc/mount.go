package ddc

import (
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/pak"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/wrap"
)

// filenamed is implemented by pak.Reader and pak.CompressedReader, letting
// MountPak/UnmountPak identify a hierarchical child by the path it was
// opened from.
type filenamed interface {
	Filename() string
}

// errNoHierarchical is returned by MountPak/UnmountPak when the graph has
// no Hierarchical node to attach or detach a pak from.
var errNoHierarchical = errors.New("ddc: graph has no hierarchical node")

// SetHierarchical records the graph's Hierarchical node, if any, so the
// administrative MountPak/UnmountPak commands have somewhere to attach and
// detach pak children.
func (c *Cache) SetHierarchical(h *wrap.HierarchicalWrapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hier = h
}

// MountPak opens a read-pak at path and adds it as the slowest child of the
// hierarchical node (spec.md §6). It fails if no hierarchical node exists.
func (c *Cache) MountPak(path string) error {
	c.mu.Lock()
	hier := c.hier
	c.mu.Unlock()
	if hier == nil {
		return errNoHierarchical
	}

	r, err := pak.OpenReader(path, c.logger)
	if err != nil {
		return errors.Wrapf(err, "ddc: mounting pak %q", path)
	}
	hier.AddChild(r)
	level.Info(c.logger).Log("msg", "mounted pak", "path", path)
	return nil
}

// UnmountPak waits for quiescence, then removes and closes the read-pak
// previously mounted at path.
func (c *Cache) UnmountPak(path string) error {
	c.mu.Lock()
	hier := c.hier
	c.mu.Unlock()
	if hier == nil {
		return errNoHierarchical
	}

	if err := c.WaitForQuiescence(false); err != nil {
		return err
	}

	child, ok := hier.RemoveChild(func(b backend.Backend) bool {
		f, ok := b.(filenamed)
		return ok && f.Filename() == path
	})
	if !ok {
		return errors.Errorf("ddc: pak %q is not mounted", path)
	}

	if closer, ok := child.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return errors.Wrapf(err, "ddc: closing unmounted pak %q", path)
		}
	}
	level.Info(c.logger).Log("msg", "unmounted pak", "path", path)
	return nil
}
