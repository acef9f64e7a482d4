package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes everything that affects future ticks. Two grids that
// report the same digest at the same tick will keep doing so.
func (g *Grid) stateDigest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, g.now)
	digestWriteI64(h, &tmp, g.cfg.Seed)
	g.digestCasings(h, &tmp)
	g.digestControllers(h, &tmp)
	g.digestPackets(h, &tmp)
	g.digestSignals(h, &tmp)

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWritePos(h hashWriter, tmp *[8]byte, p machine.Pos) {
	digestWriteI64(h, tmp, int64(p.X))
	digestWriteI64(h, tmp, int64(p.Y))
	digestWriteI64(h, tmp, int64(p.Z))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (g *Grid) digestCasings(h hashWriter, tmp *[8]byte) {
	for _, p := range g.Casings() {
		c := g.casings[p]
		digestWritePos(h, tmp, p)
		t := tag.New()
		c.WriteState(t)
		digestTag(h, tmp, t)
		for _, f := range machine.Faces {
			for _, port := range machine.Ports {
				h.Write([]byte{boolByte(c.IsWriting(f, port))})
			}
		}
	}
}

func (g *Grid) digestControllers(h hashWriter, tmp *[8]byte) {
	for _, p := range g.Controllers() {
		c := g.controllers[p]
		digestWritePos(h, tmp, p)
		h.Write([]byte{byte(c.State()), byte(c.Validity())})
		digestWriteU64(h, tmp, c.Tick())
		digestWriteU64(h, tmp, uint64(len(c.Members())))
	}
}

// Packet ids are random and left out.
func (g *Grid) digestPackets(h hashWriter, tmp *[8]byte) {
	for _, pk := range g.router.Packets() {
		digestWriteI64(h, tmp, int64(pk.Value))
		for i := 0; i < 3; i++ {
			digestWriteF64(h, tmp, pk.Position[i])
			digestWriteF64(h, tmp, pk.Direction[i])
		}
		digestWriteI64(h, tmp, int64(pk.Lifetime))
	}
}

func (g *Grid) digestSignals(h hashWriter, tmp *[8]byte) {
	keys := make([]string, 0, len(g.redstoneIn)+len(g.bundledIn))
	for k := range g.redstoneIn {
		keys = append(keys, "r"+sideKey(k))
	}
	for k := range g.bundledIn {
		keys = append(keys, "b"+sideKey(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		s, _ := parseSideKey(k[1:])
		if k[0] == 'r' {
			digestWriteI64(h, tmp, int64(g.redstoneIn[s]))
			continue
		}
		for _, v := range g.bundledIn[s] {
			digestWriteI64(h, tmp, int64(v))
		}
	}
}

// digestTag walks a tag tree in key order.
func digestTag(h hashWriter, tmp *[8]byte, v any) {
	switch x := v.(type) {
	case tag.Compound:
		keys := x.Keys()
		digestWriteU64(h, tmp, uint64(len(keys)))
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{0})
			digestTag(h, tmp, x[k])
		}
	case map[string]any:
		digestTag(h, tmp, tag.Compound(x))
	case bool:
		h.Write([]byte{'z', boolByte(x)})
	case int8:
		digestWriteI64(h, tmp, int64(x))
	case int16:
		digestWriteI64(h, tmp, int64(x))
	case int32:
		digestWriteI64(h, tmp, int64(x))
	case int64:
		digestWriteI64(h, tmp, x)
	case int:
		digestWriteI64(h, tmp, int64(x))
	case float64:
		digestWriteF64(h, tmp, x)
	case float32:
		digestWriteF64(h, tmp, float64(x))
	case string:
		h.Write([]byte(x))
		h.Write([]byte{0})
	case []byte:
		digestWriteU64(h, tmp, uint64(len(x)))
		h.Write(x)
	case []int16:
		digestWriteU64(h, tmp, uint64(len(x)))
		for _, n := range x {
			digestWriteI64(h, tmp, int64(n))
		}
	case []int32:
		digestWriteU64(h, tmp, uint64(len(x)))
		for _, n := range x {
			digestWriteI64(h, tmp, int64(n))
		}
	case []any:
		digestWriteU64(h, tmp, uint64(len(x)))
		for _, e := range x {
			digestTag(h, tmp, e)
		}
	}
}
