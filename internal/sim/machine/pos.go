package machine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

type Vec3i struct{ X, Y, Z int }

func (v Vec3i) Neg() Vec3i { return Vec3i{-v.X, -v.Y, -v.Z} }

func (v Vec3i) Cross(o Vec3i) Vec3i {
	return Vec3i{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Pos is a block position in the world.
type Pos struct{ X, Y, Z int }

func (p Pos) Offset(f Face) Pos {
	v := f.Vec()
	return Pos{p.X + v.X, p.Y + v.Y, p.Z + v.Z}
}

// Less orders positions by X, then Y, then Z.
func (p Pos) Less(o Pos) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.Z < o.Z
}

func (p Pos) String() string { return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z) }

func (p Pos) ToArray() [3]int { return [3]int{p.X, p.Y, p.Z} }

func PosFromArray(a [3]int) Pos { return Pos{a[0], a[1], a[2]} }

// Center is the world-space centre of the block.
func (p Pos) Center() mgl64.Vec3 {
	return mgl64.Vec3{float64(p.X) + 0.5, float64(p.Y) + 0.5, float64(p.Z) + 0.5}
}

// FaceCenter is the centre of the given face of the block.
func (p Pos) FaceCenter(f Face) mgl64.Vec3 {
	return p.Center().Add(f.Normal().Mul(0.5))
}

func (f Face) Normal() mgl64.Vec3 {
	v := f.Vec()
	return mgl64.Vec3{float64(v.X), float64(v.Y), float64(v.Z)}
}

// MarshalJSON encodes a position as [x, y, z].
func (p Pos) MarshalJSON() ([]byte, error) { return json.Marshal(p.ToArray()) }

func (p *Pos) UnmarshalJSON(b []byte) error {
	var a [3]int
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = PosFromArray(a)
	return nil
}

func ParsePos(s string) (Pos, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Pos{}, fmt.Errorf("bad pos %q", s)
	}
	var a [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Pos{}, fmt.Errorf("bad pos %q: %w", s, err)
		}
		a[i] = n
	}
	return PosFromArray(a), nil
}

func SortPositions(ps []Pos) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}
