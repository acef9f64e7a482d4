package casing

import (
	"tis3d.dev/internal/sim/machine"
)

// endpoint addresses one (face, port) slot of a casing.
type endpoint struct {
	c    *Casing
	face machine.Face
	port machine.Port
}

// partner resolves the endpoint linked to (f, p). Ports pointing at an
// adjacent casing link to the same face over there; otherwise they wrap
// around the edge onto the neighbouring face of this casing.
func (c *Casing) partner(f machine.Face, p machine.Port) endpoint {
	d := machine.Direction(f, p)
	if n := c.neighbors[d]; n != nil {
		back, _ := machine.PortToward(f, d.Opposite())
		return endpoint{c: n, face: f, port: back}
	}
	q, _ := machine.PortToward(d, f)
	return endpoint{c: c, face: d, port: q}
}

func (c *Casing) Write(f machine.Face, p machine.Port, v int16) error {
	return c.fabric.Write(f, p, v, c.env.Tick())
}

// Read takes the value the linked endpoint wrote on an earlier tick and
// notifies its module.
func (c *Casing) Read(f machine.Face, p machine.Port) (int16, error) {
	e := c.partner(f, p)
	v, err := e.c.fabric.Take(e.face, e.port, c.env.Tick())
	if err != nil {
		return 0, err
	}
	if m := e.c.modules[e.face]; m != nil {
		m.OnWriteComplete(e.port)
	}
	return v, nil
}

func (c *Casing) Peek(f machine.Face, p machine.Port) (int16, error) {
	e := c.partner(f, p)
	return e.c.fabric.Peek(e.face, e.port, c.env.Tick())
}

func (c *Casing) CancelWrite(f machine.Face, p machine.Port) { c.fabric.Cancel(f, p) }

func (c *Casing) IsWriting(f machine.Face, p machine.Port) bool { return c.fabric.Pending(f, p) }

func (c *Casing) EmitInfrared(f machine.Face, v int16) { c.env.EmitInfrared(c.pos, f, v) }

func (c *Casing) NotifyRedstoneChanged(f machine.Face) { c.env.NotifyRedstone(c.pos, f) }
