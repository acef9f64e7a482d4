package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrientation_PortsArePerpendicularAndInvertible(t *testing.T) {
	for _, f := range Faces {
		seen := map[Face]bool{}
		for _, p := range Ports {
			d := Direction(f, p)
			require.NotEqual(t, f, d, "%s/%s points along the normal", f, p)
			require.NotEqual(t, f.Opposite(), d, "%s/%s points along the normal", f, p)
			require.False(t, seen[d], "%s has two ports pointing %s", f, d)
			seen[d] = true

			back, ok := PortToward(f, d)
			require.True(t, ok)
			assert.Equal(t, p, back)
			assert.Equal(t, Direction(f, p.Opposite()), d.Opposite())
		}
		_, ok := PortToward(f, f)
		assert.False(t, ok)
	}
}

func TestOrientation_SideFacesShareUp(t *testing.T) {
	for _, f := range []Face{ZNeg, ZPos, XNeg, XPos} {
		assert.Equal(t, YPos, Direction(f, Up), f.String())
	}
}

func TestPos_OrderAndParse(t *testing.T) {
	ps := []Pos{{1, 0, 0}, {0, 2, 0}, {0, 1, 5}, {0, 1, -1}}
	SortPositions(ps)
	assert.Equal(t, []Pos{{0, 1, -1}, {0, 1, 5}, {0, 2, 0}, {1, 0, 0}}, ps)

	p, err := ParsePos("3,-4,5")
	require.NoError(t, err)
	assert.Equal(t, Pos{3, -4, 5}, p)
	assert.Equal(t, "3,-4,5", p.String())

	_, err = ParsePos("1,2")
	assert.Error(t, err)
}

func TestFace_OffsetAndOpposite(t *testing.T) {
	p := Pos{}
	for _, f := range Faces {
		assert.Equal(t, p, p.Offset(f).Offset(f.Opposite()))
		parsed, err := ParseFace(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	assert.InDelta(t, 1.0, Pos{}.FaceCenter(XPos).X(), 1e-9)
}
