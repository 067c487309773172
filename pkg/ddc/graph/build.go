package graph

import (
	"github.com/pkg/errors"

	"github.com/tempo-ddc/ddc/pkg/ddc/backend"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/local"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/memory"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/pak"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/wrap"
)

const bytesPerMiB = 1 << 20

// build constructs the backend.Backend for one (already-validated) NodeDesc,
// recursing into children/inner as needed.
func (b *Builder) build(desc NodeDesc) (backend.Backend, error) {
	switch desc.Kind {
	case KindFileSystem:
		fs, err := local.New(desc.FileSystem, wrap.DefaultMaxKeyLength, b.logger)
		if err != nil {
			return nil, err
		}
		return fs, nil

	case KindBoot:
		cfg := memory.Config{MaxCacheSize: desc.MaxCacheSize * bytesPerMiB, Name: desc.Filename}
		boot, err := memory.NewBoot(desc.Filename, cfg, b.logger)
		if err != nil {
			return nil, err
		}
		return boot, nil

	case KindMemory:
		cfg := memory.Config{Name: desc.Filename}
		return memory.New(cfg, b.logger), nil

	case KindHierarchical:
		children := make([]backend.Backend, 0, len(desc.Children))
		for _, childDesc := range desc.Children {
			child, err := b.build(childDesc)
			if err != nil {
				return nil, errors.Wrap(err, "ddc: building hierarchical child")
			}
			children = append(children, child)
		}
		return wrap.NewHierarchicalWrapper(children, b.pool, b.logger), nil

	case KindKeyLength:
		inner, err := b.build(*desc.Inner)
		if err != nil {
			return nil, errors.Wrap(err, "ddc: building KeyLength inner")
		}
		return wrap.NewKeyLengthWrapper(inner, desc.Length, b.logger), nil

	case KindAsyncPut:
		inner, err := b.build(*desc.Inner)
		if err != nil {
			return nil, errors.Wrap(err, "ddc: building AsyncPut inner")
		}
		return wrap.NewAsyncPutWrapper(inner, b.pool, b.pending, true, b.logger), nil

	case KindVerify:
		inner, err := b.build(*desc.Inner)
		if err != nil {
			return nil, errors.Wrap(err, "ddc: building Verify inner")
		}
		return wrap.NewVerifyWrapper(inner, desc.DebugDir, desc.Fix, b.logger), nil

	case KindReadPak:
		r, err := pak.OpenReader(desc.Filename, b.logger)
		if err != nil {
			return nil, err
		}
		if desc.Compressed {
			return pak.NewCompressedReader(r), nil
		}
		return r, nil

	case KindWritePak:
		w, err := pak.CreateWriter(desc.Filename, b.logger)
		if err != nil {
			return nil, err
		}
		if desc.Compressed {
			return pak.NewCompressedWriter(w), nil
		}
		return w, nil

	default:
		return nil, errors.Errorf("ddc: unrecognized node kind %q", desc.Kind)
	}
}
