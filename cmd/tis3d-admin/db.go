package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"tis3d.dev/internal/sim/machine"
)

type dbQuery struct {
	Name     string
	Limit    int
	FromTick uint64
	Pos      string
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/tis3d.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	fromTick := fs.Uint64("from_tick", 0, "first tick (ticks)")
	pos := fs.String("pos", "", "block position x,y,z (events)")
	_ = fs.Parse(args)

	q := dbQuery{Name: "snapshots", Limit: *limit, FromTick: *fromTick, Pos: *pos}
	if fs.NArg() > 0 {
		q.Name = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "tis3d.sqlite")
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(os.Stdout, db, q); err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}
}

// runQuery prints one JSON object per row.
func runQuery(w io.Writer, db *sql.DB, q dbQuery) error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	switch q.Name {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,seed,casings,digest FROM snapshots ORDER BY tick DESC LIMIT ?`, q.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Path    string `json:"path"`
				Seed    int64  `json:"seed"`
				Casings int    `json:"casings"`
				Digest  string `json:"digest"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Seed, &r.Casings, &r.Digest); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,events FROM ticks WHERE tick>=? ORDER BY tick LIMIT ?`, q.FromTick, q.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64  `json:"tick"`
				Digest string `json:"digest"`
				Events int    `json:"events"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Events); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "events":
		p, err := machine.ParsePos(q.Pos)
		if err != nil {
			return fmt.Errorf("events needs -pos: %w", err)
		}
		rows, err := db.Query(`SELECT raw_json FROM state_events WHERE x=? AND y=? AND z=? ORDER BY tick DESC, seq DESC LIMIT ?`,
			p.X, p.Y, p.Z, q.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			fmt.Fprintln(w, raw)
		}
		return rows.Err()

	case "config":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM config ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()
	}
	return fmt.Errorf("unknown query %q (snapshots, ticks, events, config)", q.Name)
}

func printJSON(w io.Writer, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(w, string(b))
}
