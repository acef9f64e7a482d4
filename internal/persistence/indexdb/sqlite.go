// Package indexdb keeps a queryable sqlite index of ticks, state events and
// snapshots. The JSONL tick logs stay the source of truth; the index may
// drop entries when it falls behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
)

type SQLiteIndex struct {
	db  *sql.DB
	log *slog.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind     reqKind
	tick     grid.TickLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick    uint64
	Path    string
	Seed    int64
	Casings int
	Digest  string
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTickTotal     uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newIndex(db, queue, slog.Default().With("component", "indexdb")), nil
}

func newIndex(db *sql.DB, queue int, log *slog.Logger) *SQLiteIndex {
	s := &SQLiteIndex{db: db, log: log, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			events INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS state_events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			enabled INTEGER NOT NULL,
			state TEXT NOT NULL,
			validity TEXT NOT NULL,
			face TEXT NOT NULL,
			kind TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_state_events_pos_tick ON state_events(x, z, y, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_state_events_type_tick ON state_events(type, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			casings INTEGER NOT NULL,
			digest TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// WriteTick queues a tick entry. It never blocks the simulation.
func (s *SQLiteIndex) WriteTick(entry grid.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{Tick: h.Tick, Path: path, Seed: h.Seed, Casings: h.Casings, Digest: h.Digest}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertConfig stores the configuration actually applied, as canonical JSON.
func (s *SQLiteIndex) UpsertConfig(ctx context.Context, name string, v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		name, hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// EventsAt returns the state events recorded for p, newest first.
func (s *SQLiteIndex) EventsAt(ctx context.Context, p machine.Pos, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_json FROM state_events WHERE x=? AND y=? AND z=? ORDER BY tick DESC, seq DESC LIMIT ?`,
		p.X, p.Y, p.Z, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []events.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e events.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the path and tick of the newest indexed snapshot.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (string, uint64, error) {
	var (
		path string
		tick int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT path, tick FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&path, &tick)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, snapshot.ErrNoSnapshot
	}
	if err != nil {
		return "", 0, err
	}
	return path, uint64(tick), nil
}

// loop applies queued requests in batched transactions. A request that
// cannot be written is counted as dropped; the first failure is logged.
func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	warned := false
	warnOnce := func(msg string, err error) {
		if warned {
			return
		}
		warned = true
		s.log.Warn(msg, "err", err)
	}
	drop := func(r req) {
		if r.kind == reqSnapshot {
			s.dropSnapshot.Add(1)
			return
		}
		s.dropTick.Add(1)
	}
	prepare := func(q string) *sql.Stmt {
		st, err := s.db.Prepare(q)
		if err != nil {
			warnOnce("sqlite index prepare failed; dropping writes", err)
			return nil
		}
		return st
	}

	insertTick := prepare(`INSERT OR REPLACE INTO ticks(tick,digest,events) VALUES(?,?,?)`)
	insertEvent := prepare(`INSERT OR REPLACE INTO state_events(tick,seq,type,x,y,z,enabled,state,validity,face,kind,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot := prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,casings,digest) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEvent, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			warnOnce("sqlite index begin failed; dropping writes", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			warnOnce("sqlite index commit failed", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	fail := func(r req, err error) {
		warnOnce("sqlite index write failed", err)
		rollback()
		drop(r)
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		// The single connection is shared with readers; release it once
		// the queue is drained.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	for r := range s.ch {
		switch r.kind {
		case reqTick:
			if insertTick == nil || insertEvent == nil {
				drop(r)
				continue
			}
		case reqSnapshot:
			if insertSnapshot == nil {
				drop(r)
				continue
			}
		}
		begin()
		if tx == nil {
			drop(r)
			continue
		}
		switch r.kind {
		case reqTick:
			if _, err := tx.Stmt(insertTick).Exec(int64(r.tick.Tick), r.tick.Digest, len(r.tick.Events)); err != nil {
				fail(r, err)
				continue
			}
			opCount++
			for i, e := range r.tick.Events {
				raw, _ := json.Marshal(e)
				if _, err := tx.Stmt(insertEvent).Exec(
					int64(r.tick.Tick), i, string(e.Type),
					e.Pos.X, e.Pos.Y, e.Pos.Z,
					e.Enabled, e.State, e.Validity, e.Face, e.Kind,
					string(raw),
				); err != nil {
					fail(r, err)
					break
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if _, err := tx.Stmt(insertSnapshot).Exec(int64(sn.Tick), sn.Path, sn.Seed, sn.Casings, sn.Digest); err != nil {
				fail(r, err)
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
