package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/sim/tag"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	st := tag.New()
	st.SetLong("tick", 42)
	c := tag.New()
	c.SetBool("enabled", true)
	st.SetCompound("casing", c)

	path := PathFor(dir, 42)
	require.NoError(t, WriteSnapshot(path, Snapshot{Header: Header{Tick: 42, Seed: 7, Casings: 1}, State: st}))

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, Version, got.Header.Version)
	assert.Equal(t, uint64(42), got.Header.Tick)
	assert.Equal(t, int64(7), got.Header.Seed)
	assert.Equal(t, int64(42), got.State.Long("tick"))
	assert.True(t, got.State.Compound("casing").Bool("enabled"))
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Latest(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrNoSnapshot)

	for _, tick := range []uint64{9, 100, 20} {
		require.NoError(t, WriteSnapshot(PathFor(dir, tick), Snapshot{Header: Header{Tick: tick}, State: tag.New()}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	path, tick, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), tick)
	assert.Equal(t, PathFor(dir, 100), path)
}
