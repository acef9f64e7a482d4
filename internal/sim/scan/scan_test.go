package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/sim/machine"
)

type mapGraph map[machine.Pos]Kind

func (g mapGraph) KindAt(p machine.Pos) Kind { return g[p] }

// line places a controller at x=0 and n casings along +X.
func line(n int) mapGraph {
	g := mapGraph{{}: Controller}
	for i := 1; i <= n; i++ {
		g[machine.Pos{X: i}] = Casing
	}
	return g
}

func TestStructure_ValidLineInDiscoveryOrder(t *testing.T) {
	r := Structure(line(3), machine.Pos{}, 16)
	assert.Equal(t, ResultValid, r.Outcome)
	assert.Equal(t, []machine.Pos{{X: 1}, {X: 2}, {X: 3}}, r.Casings)
}

func TestStructure_CycleVisitedOnce(t *testing.T) {
	g := mapGraph{{}: Controller}
	for _, p := range []machine.Pos{{X: 1}, {X: 1, Z: 1}, {Z: 1}, {X: 2}, {X: 2, Z: 1}} {
		g[p] = Casing
	}
	r := Structure(g, machine.Pos{}, 16)
	assert.Equal(t, ResultValid, r.Outcome)
	assert.Len(t, r.Casings, 5)
}

func TestStructure_TooManyCasings(t *testing.T) {
	r := Structure(line(65), machine.Pos{}, 64)
	assert.Equal(t, ResultTooManyCasings, r.Outcome)
	assert.Len(t, r.Casings, 65)

	r = Structure(line(64), machine.Pos{}, 64)
	assert.Equal(t, ResultValid, r.Outcome)
}

func TestStructure_SecondControllerWins(t *testing.T) {
	g := line(3)
	g[machine.Pos{X: 4}] = Controller
	g[machine.Pos{Y: 1}] = Unloaded
	r := Structure(g, machine.Pos{}, 16)
	assert.Equal(t, ResultMultipleControllers, r.Outcome)
	assert.Len(t, r.Casings, 3)
}

func TestStructure_BoundaryIsNotAnError(t *testing.T) {
	g := line(2)
	g[machine.Pos{X: 2, Y: 1}] = Unloaded
	r := Structure(g, machine.Pos{}, 16)
	assert.Equal(t, ResultBoundary, r.Outcome)
	assert.Equal(t, "BOUNDARY", r.Outcome.String())
}

func TestFindController(t *testing.T) {
	g := line(5)
	r := FindController(g, machine.Pos{X: 5}, 16)
	require.Equal(t, ResultController, r.Outcome)
	assert.Equal(t, machine.Pos{}, r.Controller)

	delete(g, machine.Pos{})
	r = FindController(g, machine.Pos{X: 5}, 16)
	assert.Equal(t, ResultNoController, r.Outcome)
	assert.Len(t, r.Casings, 5)

	r = FindController(g, machine.Pos{X: 5}, 3)
	assert.Equal(t, ResultTooManyCasings, r.Outcome)

	g[machine.Pos{X: 3, Z: -1}] = Unloaded
	r = FindController(g, machine.Pos{X: 5}, 16)
	assert.Equal(t, ResultBoundary, r.Outcome)
}
