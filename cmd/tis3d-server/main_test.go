package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/persistence/snapshot"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
)

func TestSnapshotWriter_ArchivesAndPrunes(t *testing.T) {
	dataDir := t.TempDir()
	w := &snapshotWriter{
		dataDir:      dataDir,
		dir:          filepath.Join(dataDir, "snapshots"),
		keep:         2,
		archiveEvery: 20,
		log:          quietLog(),
	}

	g := grid.New(grid.Config{}, quietLog())
	_, err := g.PlaceController(machine.Pos{})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		for j := 0; j < 10; j++ {
			g.Step()
		}
		w.write(g.Snapshot(""))
	}

	ticks, err := snapshot.List(w.dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{30, 40}, ticks)

	for _, p := range []string{
		filepath.Join(dataDir, "archives", "epoch_001", "20.snap.zst"),
		filepath.Join(dataDir, "archives", "epoch_002", "40.snap.zst"),
	} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	snap, err := snapshot.ReadSnapshot(filepath.Join(dataDir, "archives", "epoch_002", "40.snap.zst"))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), snap.Header.Tick)
}
