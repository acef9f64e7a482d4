package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
)

func TestTickLogger_RotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	first := grid.TickLogEntry{
		Tick:   1,
		Digest: "aa",
		Events: []events.Event{{Type: events.TypeCasingState, Tick: 1, Pos: machine.Pos{X: 1, Y: -2, Z: 3}, Enabled: true}},
	}
	require.NoError(t, l.WriteTick(first))
	require.NoError(t, l.WriteTick(grid.TickLogEntry{Tick: 2, Digest: "bb"}))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, l.WriteTick(grid.TickLogEntry{Tick: 3, Digest: "cc"}))
	require.NoError(t, l.Close())

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "ticks-2026-03-01-10.jsonl.zst", filepath.Base(files[0]))

	got, err := ReadTicks(files[0])
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, "bb", got[1].Digest)

	got, err = ReadTicks(files[1])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Tick)
}

func TestTickLogger_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	for tick := uint64(1); tick <= 2; tick++ {
		l := NewTickLogger(dir)
		l.w.now = clock
		require.NoError(t, l.WriteTick(grid.TickLogEntry{Tick: tick}))
		require.NoError(t, l.Close())
	}
	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	got, err := ReadTicks(files[0])
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFaultLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewFaultLogger(dir)
	require.NoError(t, l.WriteFault(events.Event{Type: events.TypeModuleFault, Kind: "display", Op: "render", Err: "boom"}))
	require.NoError(t, l.Close())
	paths, err := filepath.Glob(filepath.Join(dir, "faults", "faults-*.jsonl.zst"))
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}
