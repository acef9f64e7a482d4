package machine

import "fmt"

// Face is one of the six sides of a casing. The declaration order is the
// stable enumeration used everywhere modules are iterated.
type Face uint8

const (
	YNeg Face = iota
	YPos
	ZNeg
	ZPos
	XNeg
	XPos
)

const FaceCount = 6

// Faces lists all faces in enumeration order.
var Faces = [FaceCount]Face{YNeg, YPos, ZNeg, ZPos, XNeg, XPos}

var faceNames = [FaceCount]string{"Y_NEG", "Y_POS", "Z_NEG", "Z_POS", "X_NEG", "X_POS"}

var faceVecs = [FaceCount]Vec3i{
	{0, -1, 0},
	{0, 1, 0},
	{0, 0, -1},
	{0, 0, 1},
	{-1, 0, 0},
	{1, 0, 0},
}

func (f Face) Valid() bool { return f < FaceCount }

func (f Face) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Face(%d)", uint8(f))
	}
	return faceNames[f]
}

// Opposite returns the face pointing the other way.
func (f Face) Opposite() Face { return f ^ 1 }

// Vec returns the outward unit normal of the face.
func (f Face) Vec() Vec3i { return faceVecs[f] }

func ParseFace(s string) (Face, error) {
	for i, n := range faceNames {
		if n == s {
			return Face(i), nil
		}
	}
	return 0, fmt.Errorf("unknown face %q", s)
}

func faceFromVec(v Vec3i) (Face, bool) {
	for i, fv := range faceVecs {
		if fv == v {
			return Face(i), true
		}
	}
	return 0, false
}

func (f Face) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Face) UnmarshalText(b []byte) error {
	v, err := ParseFace(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
