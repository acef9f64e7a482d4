package machine

import "fmt"

// Port addresses one of the four in-plane neighbours of a module, relative
// to the module's orientation on its face.
type Port uint8

const (
	Up Port = iota
	Down
	Left
	Right
)

const PortCount = 4

var Ports = [PortCount]Port{Up, Down, Left, Right}

var portNames = [PortCount]string{"UP", "DOWN", "LEFT", "RIGHT"}

func (p Port) Valid() bool { return p < PortCount }

func (p Port) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Port(%d)", uint8(p))
	}
	return portNames[p]
}

func (p Port) Opposite() Port { return p ^ 1 }

func ParsePort(s string) (Port, error) {
	for i, n := range portNames {
		if n == s {
			return Port(i), nil
		}
	}
	return 0, fmt.Errorf("unknown port %q", s)
}

// Orientation tables, computed once. The viewer looks at a face from outside;
// "up" is world +Y for side faces and -Z/+Z for the top/bottom.
var (
	portDir    [FaceCount][PortCount]Face
	portToward [FaceCount][FaceCount]int8
)

func init() {
	for _, f := range Faces {
		for i := range portToward[f] {
			portToward[f][i] = -1
		}
		up := YPos.Vec()
		switch f {
		case YPos:
			up = ZNeg.Vec()
		case YNeg:
			up = ZPos.Vec()
		}
		forward := f.Vec().Neg()
		right := forward.Cross(up)
		dirs := [PortCount]Vec3i{up, up.Neg(), right.Neg(), right}
		for _, p := range Ports {
			d, ok := faceFromVec(dirs[p])
			if !ok {
				panic(fmt.Sprintf("machine: bad orientation for %s/%s", f, p))
			}
			portDir[f][p] = d
			portToward[f][d] = int8(p)
		}
	}
}

// Direction returns the world direction a port on the given face points to.
func Direction(f Face, p Port) Face { return portDir[f][p] }

// PortToward returns the port on face f that points in world direction d.
// It reports false when d is parallel to the face normal.
func PortToward(f Face, d Face) (Port, bool) {
	p := portToward[f][d]
	if p < 0 {
		return 0, false
	}
	return Port(p), true
}
