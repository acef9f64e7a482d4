package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tis3d.dev/internal/persistence/archive"
	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/tag"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state", "snapshot", "input", "region", "events":
			httpCmd(os.Args[1], os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listData(os.Stdout, *dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
}

// listData prints the snapshots in dataDir and the archived epochs.
func listData(w io.Writer, dataDir string) error {
	snapDir := filepath.Join(dataDir, "snapshots")
	ticks, err := snapshot.List(snapDir)
	if err != nil {
		return err
	}
	for _, t := range ticks {
		fmt.Fprintf(w, "snapshot %d %s\n", t, snapshot.PathFor(snapDir, t))
	}

	ents, err := os.ReadDir(filepath.Join(dataDir, "archives"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range ents {
		n, ok := strings.CutPrefix(e.Name(), "epoch_")
		if !e.IsDir() || !ok {
			continue
		}
		epoch, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		meta, err := archive.ReadMeta(dataDir, epoch)
		if err != nil {
			fmt.Fprintf(w, "epoch %d (no meta: %v)\n", epoch, err)
			continue
		}
		fmt.Fprintf(w, "epoch %d end_tick=%d casings=%d digest=%s\n", meta.Epoch, meta.EndTick, meta.Casings, meta.Digest)
	}
	return nil
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest in -data)")
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		p, _, err := snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest snapshot:", err)
			os.Exit(2)
		}
		path = p
	}
	if err := inspect(os.Stdout, path); err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
}

// inspect prints a snapshot header and the top-level shape of its state.
func inspect(w io.Writer, path string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	h := snap.Header
	fmt.Fprintf(w, "snapshot v%d tick=%d seed=%d casings=%d tick_rate_hz=%d digest=%s\n",
		h.Version, h.Tick, h.Seed, h.Casings, h.TickRate, h.Digest)
	for _, k := range snap.State.Keys() {
		switch v := snap.State[k].(type) {
		case tag.Compound:
			fmt.Fprintf(w, "  %s: %d entries\n", k, len(v))
		case map[string]any:
			fmt.Fprintf(w, "  %s: %d entries\n", k, len(v))
		default:
			fmt.Fprintf(w, "  %s: %v\n", k, v)
		}
	}
	return nil
}
