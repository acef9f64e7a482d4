package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/persistence/eventlog"
	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/layout"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tuning"
)

// smallRegions splits the demo structure across two regions: the
// controller and first casing in region 0, the second casing in region 1.
func smallRegions() tuning.Tuning {
	tune := tuning.Default()
	tune.RegionSize = 2
	return tune
}

// liveRun runs the demo layout the way the server does: one grid logs every
// tick, writes a snapshot after warmup ticks, then keeps running for after
// ticks while stim feeds it inputs. It returns the snapshot path.
func liveRun(t *testing.T, tune tuning.Tuning, dir string, warmup, after int, stim func(g *grid.Grid, i int)) string {
	t.Helper()
	g := grid.New(tune.GridConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	l, err := layout.Load("../../configs/layouts/demo.yaml")
	require.NoError(t, err)
	require.NoError(t, layout.Apply(g, l))

	tl := eventlog.NewTickLogger(dir)
	g.SetTickLogger(tl)
	var digest string
	for i := 0; i < warmup; i++ {
		_, digest = g.Step()
	}
	path := snapshot.PathFor(filepath.Join(dir, "snapshots"), g.CurrentTick())
	require.NoError(t, snapshot.WriteSnapshot(path, g.Snapshot(digest)))

	for i := 0; i < after; i++ {
		if stim != nil {
			stim(g, i)
		}
		g.Step()
	}
	require.NoError(t, tl.Close())
	return path
}

func redstoneEvery4(t *testing.T) func(g *grid.Grid, i int) {
	return func(g *grid.Grid, i int) {
		if i%4 != 0 {
			return
		}
		_, err := g.Apply(grid.Input{Kind: grid.InputRedstone, Pos: machine.Pos{X: 1}, Face: machine.ZNeg, Value: int16(i % 16)})
		require.NoError(t, err)
	}
}

func replayFrom(t *testing.T, tune tuning.Tuning, dir, snapPath string) (*grid.Grid, []string) {
	t.Helper()
	files, err := eventlog.Files(dir)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	snap, err := snapshot.ReadSnapshot(snapPath)
	require.NoError(t, err)
	return gridFromSnapshot(tune, snap), files
}

func TestReplay_MatchesLiveRun(t *testing.T) {
	dir := t.TempDir()
	tune := tuning.Default()
	snapPath := liveRun(t, tune, dir, 5, 20, redstoneEvery4(t))

	g, files := replayFrom(t, tune, dir, snapPath)
	checked, err := replay(g, files, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), checked)
}

// Snapshots taken at different points of the program all resume exactly,
// including ones with writes still waiting for a reader.
func TestReplay_SnapshotAtAnyTick(t *testing.T) {
	tune := tuning.Default()
	for _, warmup := range []int{1, 2, 3, 4, 7, 11} {
		dir := t.TempDir()
		snapPath := liveRun(t, tune, dir, warmup, 12, redstoneEvery4(t))
		g, files := replayFrom(t, tune, dir, snapPath)
		checked, err := replay(g, files, 0, 0)
		require.NoError(t, err, "warmup %d", warmup)
		assert.Equal(t, uint64(12), checked)
	}
}

func TestReplay_RegionUnloadMidLog(t *testing.T) {
	dir := t.TempDir()
	tune := smallRegions()
	far := grid.Region{X: 1}
	snapPath := liveRun(t, tune, dir, 5, 24, func(g *grid.Grid, i int) {
		var in grid.Input
		switch i {
		case 6:
			in = grid.Input{Kind: grid.InputRegion, Region: far.String(), Loaded: false}
		case 15:
			in = grid.Input{Kind: grid.InputRegion, Region: far.String(), Loaded: true}
		default:
			return
		}
		ok, err := g.Apply(in)
		require.NoError(t, err)
		require.True(t, ok)
	})

	g, files := replayFrom(t, tune, dir, snapPath)
	checked, err := replay(g, files, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(24), checked)
	assert.True(t, g.RegionLoaded(far))
}

func TestReplay_ToTickAndVerifyFrom(t *testing.T) {
	dir := t.TempDir()
	tune := tuning.Default()
	snapPath := liveRun(t, tune, dir, 5, 10, redstoneEvery4(t))

	// Snapshot is at tick 5; entries 6..15 follow it.
	g, files := replayFrom(t, tune, dir, snapPath)
	checked, err := replay(g, files, 9, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), checked)
	assert.Equal(t, uint64(12), g.CurrentTick())
}

func TestReplay_DetectsDivergence(t *testing.T) {
	dir := t.TempDir()
	tune := tuning.Default()
	snapPath := liveRun(t, tune, dir, 5, 10, redstoneEvery4(t))

	g, files := replayFrom(t, tune, dir, snapPath)
	g.SetRedstoneInput(machine.Pos{X: 2}, machine.YNeg, 9)
	_, err := replay(g, files, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestReplay_MissingRegionInputDiverges(t *testing.T) {
	dir := t.TempDir()
	tune := smallRegions()
	snapPath := liveRun(t, tune, dir, 5, 10, nil)

	g, files := replayFrom(t, tune, dir, snapPath)
	g.UnloadRegion(grid.Region{X: 1})
	_, err := replay(g, files, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}
