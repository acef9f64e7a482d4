package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tis3d.dev/internal/metrics"
	"tis3d.dev/internal/persistence/archive"
	"tis3d.dev/internal/persistence/eventlog"
	"tis3d.dev/internal/persistence/indexdb"
	"tis3d.dev/internal/persistence/mirror"
	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/layout"
	"tis3d.dev/internal/sim/tuning"
	"tis3d.dev/internal/transport/ws"
)

type serverConfig struct {
	Addr        string
	ConfigPath  string
	LayoutPath  string
	DataDir     string
	Snapshot    string
	LoadLatest  bool
	DisableDB   bool
	EnableAdmin bool
}

func main() {
	var cfg serverConfig
	flag.StringVar(&cfg.Addr, "addr", ":8080", "http listen address")
	flag.StringVar(&cfg.ConfigPath, "config", "./configs/tuning.yaml", "path to tuning.yaml")
	flag.StringVar(&cfg.LayoutPath, "layout", "./configs/layouts/demo.yaml", "layout to build on a fresh grid (empty for none)")
	flag.StringVar(&cfg.DataDir, "data", "./data", "runtime data directory")
	flag.StringVar(&cfg.Snapshot, "snapshot", "", "path to snapshot to load (optional)")
	flag.BoolVar(&cfg.LoadLatest, "load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	flag.BoolVar(&cfg.DisableDB, "disable_db", false, "disable the sqlite index (tick events + snapshot metadata)")
	flag.Parse()
	cfg.EnableAdmin = envBool("TIS3D_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())

	tune, err := tuning.Load(cfg.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		tune = tuning.Default()
		err = nil
	}
	if err == nil {
		applyEnvOverrides(&tune)
		err = tune.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}

	logger, err := newLogger(tune.Log, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, tune, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(c tuning.Log, w io.Writer) (*slog.Logger, error) {
	level, err := tuning.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.Format)
}

func run(ctx context.Context, cfg serverConfig, tune tuning.Tuning, log *slog.Logger) error {
	snapDir := filepath.Join(cfg.DataDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return err
	}

	var idx *indexdb.SQLiteIndex
	if !cfg.DisableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index", "tis3d.sqlite"))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertConfig(ctx, "tuning", tune); err != nil {
			log.Warn("index: upsert tuning", "err", err)
		}
	}

	snapPath := strings.TrimSpace(cfg.Snapshot)
	if snapPath == "" && cfg.LoadLatest {
		p, _, err := snapshot.Latest(snapDir)
		switch {
		case err == nil:
			snapPath = p
		case !errors.Is(err, snapshot.ErrNoSnapshot):
			return fmt.Errorf("find latest snapshot: %w", err)
		}
	}

	g, err := buildGrid(tune, cfg.LayoutPath, snapPath, log)
	if err != nil {
		return err
	}

	mir, err := buildMirror(ctx, cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("init s3 mirror: %w", err)
	}
	defer mir.Close()

	tickLog := eventlog.NewTickLogger(cfg.DataDir)
	defer tickLog.Close()
	faultLog := eventlog.NewFaultLogger(cfg.DataDir)
	defer faultLog.Close()

	loggers := multiTickLogger{tickLog}
	if idx != nil {
		loggers = append(loggers, idx)
	}
	g.SetTickLogger(loggers)
	g.Bus().Subscribe(func(e events.Event) {
		if e.Type != events.TypeModuleFault {
			return
		}
		if err := faultLog.WriteFault(e); err != nil {
			log.Warn("fault log write failed", "err", err)
		}
	})

	snapCh := make(chan snapshot.Snapshot, 2)
	g.SetSnapshotSink(snapCh)

	obs := ws.NewServer(g, log)
	defer obs.Close()

	src := metrics.Sources{Grid: g.Metrics, Observers: obs.Stats}
	if idx != nil {
		src.Index = idx.Stats
	}
	if mir != nil {
		src.Mirror = mir.Stats
	}

	var query eventQuerier
	if idx != nil {
		query = idx
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(g, query, obs, metrics.NewRegistry(src), cfg.EnableAdmin, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := g.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	sw := &snapshotWriter{
		dataDir:      cfg.DataDir,
		dir:          snapDir,
		keep:         tune.SnapshotKeep,
		archiveEvery: uint64(tune.ArchiveEveryTicks),
		idx:          idx,
		mir:          mir,
		log:          log,
	}
	eg.Go(func() error {
		sw.run(ctx, snapCh)
		return nil
	})
	eg.Go(func() error {
		log.Info("listening", "addr", cfg.Addr, "tick", g.CurrentTick(), "casings", len(g.Casings()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return eg.Wait()
}

// buildGrid resumes from snapPath when set, otherwise builds the layout on
// a fresh grid.
func buildGrid(tune tuning.Tuning, layoutPath, snapPath string, log *slog.Logger) (*grid.Grid, error) {
	cfg := tune.GridConfig()
	if snapPath != "" {
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		cfg.Seed = snap.Header.Seed
		g := grid.New(cfg, log)
		g.ImportState(snap.State)
		log.Info("resumed from snapshot", "snapshot", filepath.Base(snapPath), "tick", g.CurrentTick(), "casings", snap.Header.Casings)
		return g, nil
	}

	g := grid.New(cfg, log)
	if strings.TrimSpace(layoutPath) == "" {
		return g, nil
	}
	l, err := layout.Load(layoutPath)
	if err != nil {
		return nil, fmt.Errorf("load layout: %w", err)
	}
	if err := layout.Apply(g, l); err != nil {
		return nil, fmt.Errorf("apply layout %s: %w", l.Name, err)
	}
	log.Info("layout applied", "layout", l.Name, "casings", len(g.Casings()), "controllers", len(g.Controllers()))
	return g, nil
}

// snapshotWriter persists snapshots handed over by the grid, then archives
// epoch boundaries and prunes old files.
type snapshotWriter struct {
	dataDir      string
	dir          string
	keep         int
	archiveEvery uint64
	idx          *indexdb.SQLiteIndex
	mir          *mirror.Mirror
	log          *slog.Logger
}

func (w *snapshotWriter) run(ctx context.Context, in <-chan snapshot.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-in:
			w.write(snap)
		}
	}
}

func (w *snapshotWriter) write(snap snapshot.Snapshot) {
	path := snapshot.PathFor(w.dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		w.log.Error("snapshot write", "tick", snap.Header.Tick, "err", err)
		return
	}
	w.log.Info("snapshot written", "path", path, "tick", snap.Header.Tick)
	if w.idx != nil {
		w.idx.RecordSnapshot(path, snap.Header)
	}
	w.mir.Enqueue(path)

	epoch, archived, ok, err := archive.Epoch(w.dataDir, path, snap.Header, w.archiveEvery)
	switch {
	case err != nil:
		w.log.Warn("snapshot archive", "tick", snap.Header.Tick, "err", err)
	case ok:
		w.log.Info("snapshot archived", "epoch", epoch, "path", archived)
		w.mir.Enqueue(archived)
	}
	removed, err := archive.Prune(w.dir, w.keep)
	if err != nil {
		w.log.Warn("snapshot prune", "err", err)
	}
	if len(removed) > 0 {
		w.log.Debug("snapshots pruned", "count", len(removed))
	}
}

type multiTickLogger []grid.TickLogger

func (m multiTickLogger) WriteTick(entry grid.TickLogEntry) error {
	var errs []error
	for _, l := range m {
		if err := l.WriteTick(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
