package infrared

import (
	"strconv"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"tis3d.dev/internal/sim/tag"
)

type verdict uint8

const (
	verdictNone verdict = iota
	verdictConsumed
	verdictRedirected
)

// Packet is a packet in flight. Receivers see it through
// module.InfraredPacket while it is being delivered.
type Packet struct {
	id       uuid.UUID
	value    int16
	pos, dir mgl64.Vec3
	lifetime int

	// travelled is the distance covered in the current tick.
	travelled float64

	verdict  verdict
	redirect struct {
		pos, dir mgl64.Vec3
		added    int
	}
}

func (p *Packet) Value() int16          { return p.value }
func (p *Packet) Direction() mgl64.Vec3 { return p.dir }

func (p *Packet) Consume() { p.verdict = verdictConsumed }

// Redirect continues the flight from pos towards dir. A zero direction is
// treated as consumption.
func (p *Packet) Redirect(pos, dir mgl64.Vec3, addedLifetime int) {
	if dir.Len() == 0 {
		p.verdict = verdictConsumed
		return
	}
	p.verdict = verdictRedirected
	p.redirect.pos = pos
	p.redirect.dir = dir.Normalize()
	p.redirect.added = addedLifetime
}

// PacketView is a read-only copy of a packet.
type PacketView struct {
	ID        uuid.UUID
	Value     int16
	Position  mgl64.Vec3
	Direction mgl64.Vec3
	Lifetime  int
	Travelled float64
}

func (p *Packet) View() PacketView {
	return PacketView{
		ID:        p.id,
		Value:     p.value,
		Position:  p.pos,
		Direction: p.dir,
		Lifetime:  p.lifetime,
		Travelled: p.travelled,
	}
}

func indexKey(i int) string { return strconv.Itoa(i) }

func (p *Packet) writeState(t tag.Compound) {
	t.SetString("id", p.id.String())
	t.SetShort("value", p.value)
	t.SetInt("lifetime", p.lifetime)
	for i, k := range [3]string{"px", "py", "pz"} {
		t.SetDouble(k, p.pos[i])
	}
	for i, k := range [3]string{"dx", "dy", "dz"} {
		t.SetDouble(k, p.dir[i])
	}
}

func readPacket(t tag.Compound) (*Packet, bool) {
	id, err := uuid.Parse(t.Text("id"))
	if err != nil {
		return nil, false
	}
	p := &Packet{id: id, value: t.Short("value"), lifetime: t.Int("lifetime")}
	for i, k := range [3]string{"px", "py", "pz"} {
		p.pos[i] = t.Double(k)
	}
	for i, k := range [3]string{"dx", "dy", "dz"} {
		p.dir[i] = t.Double(k)
	}
	// Directions are saved normalised and restored bit for bit.
	if p.lifetime <= 0 || p.dir.Len() == 0 {
		return nil, false
	}
	return p, true
}
