package infrared

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"tis3d.dev/internal/sim/machine"
)

// nudge moves ray origins off block boundaries so a packet leaving a face,
// or bouncing off one, does not hit the block it came from.
const nudge = 1e-9

// Hit is the first solid block on a ray.
type Hit struct {
	Pos machine.Pos
	// Face is the side of Pos the ray entered through.
	Face  machine.Face
	Point mgl64.Vec3
}

// Raycast walks the blocks on the segment from..to in order (Amanatides-Woo
// traversal) and returns the first one for which solid reports true. The
// block containing the start point is tested too.
func Raycast(from, to mgl64.Vec3, solid func(machine.Pos) bool) (Hit, bool) {
	d := to.Sub(from)
	length := d.Len()
	if length < nudge {
		return Hit{}, false
	}
	dir := d.Mul(1 / length)
	start := from.Add(dir.Mul(nudge))

	var cell, step [3]int
	var tMax, tDelta [3]float64
	for i := 0; i < 3; i++ {
		cell[i] = int(math.Floor(start[i]))
		switch {
		case dir[i] > 0:
			step[i] = 1
			tMax[i] = (float64(cell[i]+1) - start[i]) / dir[i]
			tDelta[i] = 1 / dir[i]
		case dir[i] < 0:
			step[i] = -1
			tMax[i] = (start[i] - float64(cell[i])) / -dir[i]
			tDelta[i] = -1 / dir[i]
		default:
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
		}
	}

	entry := entryFace(dominantAxis(dir), dir)
	t := 0.0
	for {
		p := machine.Pos{X: cell[0], Y: cell[1], Z: cell[2]}
		if solid(p) {
			return Hit{Pos: p, Face: entry, Point: start.Add(dir.Mul(t))}, true
		}
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t = tMax[axis]
		if t > length-nudge {
			return Hit{}, false
		}
		cell[axis] += step[axis]
		tMax[axis] += tDelta[axis]
		entry = entryFace(axis, dir)
	}
}

func dominantAxis(v mgl64.Vec3) int {
	axis := 0
	for i := 1; i < 3; i++ {
		if math.Abs(v[i]) > math.Abs(v[axis]) {
			axis = i
		}
	}
	return axis
}

// entryFace is the face a ray moving along dir crosses into a block on axis.
func entryFace(axis int, dir mgl64.Vec3) machine.Face {
	neg := [3]machine.Face{machine.XNeg, machine.YNeg, machine.ZNeg}
	pos := [3]machine.Face{machine.XPos, machine.YPos, machine.ZPos}
	if dir[axis] > 0 {
		return neg[axis]
	}
	return pos[axis]
}

// BlockAt is the block containing a world-space point.
func BlockAt(v mgl64.Vec3) machine.Pos {
	return machine.Pos{
		X: int(math.Floor(v[0])),
		Y: int(math.Floor(v[1])),
		Z: int(math.Floor(v[2])),
	}
}
