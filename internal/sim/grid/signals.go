package grid

import (
	"github.com/go-gl/mathgl/mgl64"

	"tis3d.dev/internal/sim/infrared"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
)

// SetRedstoneInput sets the signal arriving at face f of the block at p.
func (g *Grid) SetRedstoneInput(p machine.Pos, f machine.Face, v int16) {
	k := side{p, f}
	if g.redstoneIn[k] == v {
		return
	}
	if v == 0 {
		delete(g.redstoneIn, k)
	} else {
		g.redstoneIn[k] = v
	}
	if c := g.casings[p]; c != nil {
		c.MarkRedstoneDirty()
	}
}

func (g *Grid) SetBundledRedstoneInput(p machine.Pos, f machine.Face, channel int, v int16) {
	if channel < 0 || channel >= module.BundledChannels {
		return
	}
	k := side{p, f}
	ch := g.bundledIn[k]
	if ch[channel] == v {
		return
	}
	ch[channel] = v
	if ch == ([module.BundledChannels]int16{}) {
		delete(g.bundledIn, k)
	} else {
		g.bundledIn[k] = ch
	}
	if c := g.casings[p]; c != nil {
		c.MarkRedstoneDirty()
	}
}

func (g *Grid) RedstoneInput(p machine.Pos, f machine.Face) int16 { return g.redstoneIn[side{p, f}] }

func (g *Grid) BundledRedstoneInput(p machine.Pos, f machine.Face, channel int) int16 {
	if channel < 0 || channel >= module.BundledChannels {
		return 0
	}
	return g.bundledIn[side{p, f}][channel]
}

// RedstoneOutput is the signal the module at (p, f) emits, or 0.
func (g *Grid) RedstoneOutput(p machine.Pos, f machine.Face) int16 {
	c := g.casings[p]
	if c == nil || c.Module(f) == nil {
		return 0
	}
	if r := c.Module(f).Capabilities().Redstone; r != nil {
		return r.RedstoneOutput()
	}
	return 0
}

func (g *Grid) BundledRedstoneOutput(p machine.Pos, f machine.Face, channel int) int16 {
	c := g.casings[p]
	if c == nil || c.Module(f) == nil {
		return 0
	}
	if r := c.Module(f).Capabilities().BundledRedstone; r != nil {
		return r.BundledRedstoneOutput(channel)
	}
	return 0
}

// NotifyRedstone records that a module changed its output. The block in
// front of the face is told about it.
func (g *Grid) NotifyRedstone(p machine.Pos, f machine.Face) {
	g.redstoneUpdates++
	q := p.Offset(f)
	if c := g.casings[q]; c != nil {
		c.OnNeighborBlockChange(p)
	}
}

// Infrared world.

func (g *Grid) Raycast(from, to mgl64.Vec3) (infrared.Hit, bool) {
	return infrared.Raycast(from, to, g.opaque)
}

func (g *Grid) opaque(p machine.Pos) bool {
	return !g.Loaded(p) || g.casings[p] != nil || g.controllers[p] != nil || g.solids[p]
}

// Receiver is the infrared receiver on face f of the casing at p, if any.
func (g *Grid) Receiver(p machine.Pos, f machine.Face) module.InfraredReceiver {
	c := g.casings[p]
	if c == nil {
		return nil
	}
	m := c.Module(f)
	if m == nil {
		return nil
	}
	return m.Capabilities().InfraredReceiver
}
