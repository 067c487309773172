// Command ddc-pakctl is a thin administrative CLI around the pak backend
// and a running cache's MountPak/UnmountPak surface (spec.md §6), in the
// style of cmd/tempo-cli's flag-per-subcommand dispatch.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"go.uber.org/atomic"

	"github.com/tempo-ddc/ddc/pkg/ddc"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/pak"
	"github.com/tempo-ddc/ddc/pkg/ddc/backend/wrap"
	"github.com/tempo-ddc/ddc/pkg/ddc/graph"
	"github.com/tempo-ddc/ddc/pkg/ddc/internal/workerpool"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "sort-and-copy":
		err = runSortAndCopy(os.Args[2:])
	case "merge":
		err = runMerge(os.Args[2:])
	case "mount":
		err = runMountOrUnmount(os.Args[2:], true)
	case "unmount":
		err = runMountOrUnmount(os.Args[2:], false)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "ddc-pakctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ddc-pakctl <command> [flags]

commands:
  sort-and-copy -in <path> -out <path>        rewrite a pak with lexicographically sorted keys
  merge         -into <path> -from <path>     copy entries from one pak into another writer, skipping existing keys
  mount         -graph <path> -pak <path>     attach a read-pak as the slowest hierarchical child
  unmount       -graph <path> -pak <path>     wait for quiescence, then detach and close a mounted pak`)
}

func runSortAndCopy(args []string) error {
	fs := flag.NewFlagSet("sort-and-copy", flag.ExitOnError)
	in := fs.String("in", "", "input pak path")
	out := fs.String("out", "", "output pak path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("sort-and-copy requires -in and -out")
	}
	return pak.SortAndCopy(*in, *out, log.NewLogfmtLogger(os.Stderr))
}

func runMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	into := fs.String("into", "", "writable pak to merge entries into")
	from := fs.String("from", "", "read-only pak to merge entries from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *into == "" || *from == "" {
		return fmt.Errorf("merge requires -into and -from")
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	w, err := pak.CreateWriter(*into, logger)
	if err != nil {
		return err
	}
	r, err := pak.OpenReader(*from, logger)
	if err != nil {
		return err
	}
	copied := pak.MergeCache(w, r)
	fmt.Fprintf(os.Stdout, "merged %d entries into %s\n", copied, *into)
	return w.Close()
}

// runMountOrUnmount loads a BackendGraph description from -graph, builds it,
// and attaches (or detaches) the read-pak at -pak on its root hierarchical
// node. The graph's root node must itself be Hierarchical; nested
// hierarchical nodes are out of scope for this thin CLI.
func runMountOrUnmount(args []string, mount bool) error {
	name := "unmount"
	if mount {
		name = "mount"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to a YAML BackendGraph description")
	pakPath := fs.String("pak", "", "path to the read-pak to mount/unmount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *graphPath == "" || *pakPath == "" {
		return fmt.Errorf("%s requires -graph and -pak", name)
	}

	data, err := os.ReadFile(*graphPath)
	if err != nil {
		return err
	}
	desc, err := graph.ParseDescription(data)
	if err != nil {
		return err
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	pool := workerpool.New("ddc", "pakctl", workerpool.DefaultConfig())
	pending := atomic.NewInt64(0)
	builder := graph.NewBuilder(pool, pending, logger)

	root, err := builder.Build(desc)
	if err != nil {
		return err
	}
	hier, ok := root.(*wrap.HierarchicalWrapper)
	if !ok {
		return fmt.Errorf("%s: graph root is not Hierarchical (got %T)", name, root)
	}

	c := ddc.New(root, pool, pending, nil, false, logger)
	c.SetHierarchical(hier)

	if mount {
		return c.MountPak(*pakPath)
	}
	return c.UnmountPak(*pakPath)
}
