package module

import (
	"github.com/go-gl/mathgl/mgl64"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

// Infrared emits every value it reads as a packet leaving its face, and
// offers received packet values on all ports in arrival order.
type Infrared struct {
	Base
	size     int
	received []int16
}

func newInfrared(b Base, p Params) Module { return &Infrared{Base: b, size: p.InfraredQueueSize} }

func (m *Infrared) Capabilities() Caps { return Caps{InfraredReceiver: m} }

func (m *Infrared) Received() []int16 { return append([]int16(nil), m.received...) }

func (m *Infrared) OnInfraredPacket(p InfraredPacket, _ mgl64.Vec3) {
	if len(m.received) < m.size {
		m.received = append(m.received, p.Value())
	}
	p.Consume()
}

func (m *Infrared) Step() {
	if v, _, ok := m.readAny(); ok {
		m.host.EmitInfrared(m.face, v)
	}
	if len(m.received) > 0 {
		m.writeAll(m.received[0])
	}
}

func (m *Infrared) OnWriteComplete(machine.Port) {
	if len(m.received) > 0 {
		m.received = m.received[1:]
	}
	m.cancelAll()
}

func (m *Infrared) OnDisabled() { m.received = nil }

func (m *Infrared) ReadState(t tag.Compound) {
	m.received = t.Shorts("received")
	if len(m.received) > m.size {
		m.received = m.received[:m.size]
	}
}

func (m *Infrared) WriteState(t tag.Compound) { t.SetShorts("received", m.received) }

// Mirror reflects infrared packets about its face normal. It has no ports
// and never steps.
type Mirror struct{ Base }

func newMirror(b Base, _ Params) Module { return &Mirror{Base: b} }

func (m *Mirror) Capabilities() Caps { return Caps{InfraredReceiver: m} }

func (m *Mirror) OnInfraredPacket(p InfraredPacket, hit mgl64.Vec3) {
	n := m.face.Normal()
	d := p.Direction()
	p.Redirect(hit, Reflect(d, n), 0)
}

// Reflect mirrors d about the plane with unit normal n.
func Reflect(d, n mgl64.Vec3) mgl64.Vec3 {
	return d.Sub(n.Mul(2 * d.Dot(n)))
}
