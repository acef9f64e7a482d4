package indexdb

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: grid.TickLogEntry{Tick: 1}}

	require.NoError(t, s.WriteTick(grid.TickLogEntry{Tick: 2}))
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.Header{Tick: 2})

	st := s.Stats()
	assert.Equal(t, uint64(1), st.DropTickTotal)
	assert.Equal(t, uint64(1), st.DropSnapshotTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestSQLiteIndex_UnwritableRequestsAreCountedAndLoggedOnce(t *testing.T) {
	// No schema: every statement against the index tables fails.
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "bare.sqlite"))
	require.NoError(t, err)
	var buf bytes.Buffer
	s := newIndex(db, 8, slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, s.WriteTick(grid.TickLogEntry{Tick: 1, Digest: "a"}))
	require.NoError(t, s.WriteTick(grid.TickLogEntry{Tick: 2, Digest: "b"}))
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.Header{Tick: 2})
	require.NoError(t, s.Close())

	st := s.Stats()
	assert.Equal(t, uint64(2), st.DropTickTotal)
	assert.Equal(t, uint64(1), st.DropSnapshotTotal)
	assert.Equal(t, 1, strings.Count(buf.String(), "level=WARN"), buf.String())
	assert.Contains(t, buf.String(), "sqlite index")
}

func TestSQLiteIndex_IndexesTicksAndSnapshots(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index", "tis3d.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	p := machine.Pos{X: 1, Y: 2, Z: 3}
	require.NoError(t, s.WriteTick(grid.TickLogEntry{
		Tick:   1,
		Digest: "d1",
		Events: []events.Event{
			{Type: events.TypeCasingState, Tick: 1, Pos: p, Enabled: true},
			{Type: events.TypeControllerState, Tick: 1, Pos: machine.Pos{}, State: "VALID", Validity: "VALID", Casings: 1},
		},
	}))
	require.NoError(t, s.WriteTick(grid.TickLogEntry{
		Tick:   2,
		Digest: "d2",
		Events: []events.Event{{Type: events.TypeCasingState, Tick: 2, Pos: p}},
	}))
	s.RecordSnapshot("/data/1.snap.zst", snapshot.Header{Tick: 1, Seed: 4, Casings: 1, Digest: "d1"})
	s.RecordSnapshot("/data/2.snap.zst", snapshot.Header{Tick: 2, Seed: 4, Casings: 1, Digest: "d2"})
	require.NoError(t, s.UpsertConfig(ctx, "tuning", map[string]int{"tick_rate_hz": 20}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.NoError(t, s.WriteTick(grid.TickLogEntry{Tick: 3}), "writes after close are ignored")

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.EventsAt(ctx, p, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Tick)
	assert.False(t, got[0].Enabled)
	assert.True(t, got[1].Enabled)

	sp, tick, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/data/2.snap.zst", sp)
	assert.Equal(t, uint64(2), tick)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLiteIndex_LatestSnapshotEmpty(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "i.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	_, _, err = s.LatestSnapshot(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}
