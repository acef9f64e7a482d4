package layout

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/sim/casing"
	"tis3d.dev/internal/sim/grid"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
)

const pipeline = `
name: pipeline
controllers:
  - [0, 0, 0]
casings:
  - pos: [1, 0, 0]
    lock: 0b9e7f0c-6a1f-4a58-9a3e-2f0d6b1c4e77
    modules:
      Y_POS:
        kind: execution
        program: |
          MOV 1, ACC
          ADD 2
          MOV ACC, RIGHT
  - pos: [2, 0, 0]
    modules:
      Y_POS:
        kind: stack
solids:
  - [0, 3, 0]
redstone:
  - pos: [1, 0, 0]
    face: Z_NEG
    value: 7
`

func load(t *testing.T, body string) Layout {
	t.Helper()
	p := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	l, err := Load(p)
	require.NoError(t, err)
	return l
}

func newGrid() *grid.Grid {
	return grid.New(grid.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApply_BuildsRunnableStructure(t *testing.T) {
	l := load(t, pipeline)
	assert.Equal(t, "pipeline", l.Name)

	g := newGrid()
	require.NoError(t, Apply(g, l))
	assert.Len(t, g.Casings(), 2)
	assert.Equal(t, int16(7), g.RedstoneInput(machine.Pos{X: 1}, machine.ZNeg))

	c, ok := g.CasingAt(machine.Pos{X: 1})
	require.True(t, ok)
	assert.True(t, c.Locked())
	_, err := g.RemoveModule(machine.Pos{X: 1}, machine.YPos)
	assert.ErrorIs(t, err, casing.ErrLocked)

	for i := 0; i < 4; i++ {
		g.Step()
	}
	m, err := g.Module(machine.Pos{X: 2}, machine.YPos)
	require.NoError(t, err)
	assert.Equal(t, []int16{3}, m.(*module.Stack).Items())
}

func TestApply_Errors(t *testing.T) {
	cases := map[string]string{
		"occupied":     "controllers: [[0,0,0]]\ncasings:\n  - pos: [0,0,0]\n",
		"bad face":     "casings:\n  - pos: [1,0,0]\n    modules:\n      UP: {kind: stack}\n",
		"unknown kind": "casings:\n  - pos: [1,0,0]\n    modules:\n      Y_POS: {kind: toaster}\n",
		"bad program":  "casings:\n  - pos: [1,0,0]\n    modules:\n      Y_POS: {kind: execution, program: \"FLY 3\"}\n",
		"bad lock":     "casings:\n  - pos: [1,0,0]\n    lock: nope\n",
		"redstone":     "redstone:\n  - {pos: [1,0,0], face: SIDEWAYS, value: 1}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Apply(newGrid(), load(t, body)))
		})
	}
}

func TestApply_DemoLayout(t *testing.T) {
	l, err := Load(filepath.Join("..", "..", "..", "configs", "layouts", "demo.yaml"))
	require.NoError(t, err)
	g := newGrid()
	require.NoError(t, Apply(g, l))
	for i := 0; i < 20; i++ {
		g.Step()
	}
	assert.Equal(t, 1, g.Metrics().ControllersByState["VALID"])
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
