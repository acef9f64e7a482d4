package nbtstate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/sim/tag"
)

func TestRoundTrip(t *testing.T) {
	mod := tag.New()
	mod.SetShorts("stack", []int16{1, -2, 300})
	mod.SetBytes("memory", []byte{0, 255, 7})
	mod.SetString("code", "MOV UP, ACC")

	root := tag.New()
	root.SetBool("enabled", true)
	root.SetShort("acc", -5)
	root.SetInt("pc", 3)
	root.SetLong("tick", 1<<40)
	root.SetDouble("px", 1.25)
	root.SetCompound("module", mod)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, root))
	got, err := Read(&buf)
	require.NoError(t, err)

	assert.True(t, got.Bool("enabled"))
	assert.Equal(t, int16(-5), got.Short("acc"))
	assert.Equal(t, 3, got.Int("pc"))
	assert.Equal(t, int64(1<<40), got.Long("tick"))
	assert.InDelta(t, 1.25, got.Double("px"), 0)

	m := got.Compound("module")
	assert.Equal(t, []int16{1, -2, 300}, m.Shorts("stack"))
	assert.Equal(t, []byte{0, 255, 7}, m.Bytes("memory"))
	assert.Equal(t, "MOV UP, ACC", m.Text("code"))
}

func TestNormalize(t *testing.T) {
	n := normalize(map[string]any{"b": true, "i": 7, "s": []int16{4}}).(map[string]any)
	assert.Equal(t, int8(1), n["b"])
	assert.Equal(t, int64(7), n["i"])
	assert.Equal(t, []int32{4}, n["s"])
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00})
	assert.Error(t, err)
}
