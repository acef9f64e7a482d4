package grid

import (
	"fmt"

	"tis3d.dev/internal/sim/casing"
	"tis3d.dev/internal/sim/controller"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
)

func (g *Grid) checkFree(p machine.Pos) error {
	if !g.Loaded(p) {
		return fmt.Errorf("%w: %s", ErrUnloaded, p)
	}
	if g.casings[p] != nil || g.controllers[p] != nil || g.solids[p] {
		return fmt.Errorf("%w: %s", ErrOccupied, p)
	}
	return nil
}

func (g *Grid) PlaceCasing(p machine.Pos) (*casing.Casing, error) {
	if err := g.checkFree(p); err != nil {
		return nil, err
	}
	c := casing.New(p, g, g.reg)
	g.casings[p] = c
	g.link(c)
	g.notifyNeighbors(p)
	c.OnLoad()
	return c, nil
}

func (g *Grid) PlaceController(p machine.Pos) (*controller.Controller, error) {
	if err := g.checkFree(p); err != nil {
		return nil, err
	}
	c := controller.New(p, g, g.controllerConfig(), g.faults, g.log)
	g.controllers[p] = c
	g.notifyNeighbors(p)
	return c, nil
}

// PlaceSolid puts down an inert block. It blocks infrared and nothing else.
func (g *Grid) PlaceSolid(p machine.Pos) error {
	if err := g.checkFree(p); err != nil {
		return err
	}
	g.solids[p] = true
	g.notifyNeighbors(p)
	return nil
}

// Remove breaks whatever block is at p. A removed casing is disabled
// before it is disposed; a removed controller disables its members.
func (g *Grid) Remove(p machine.Pos) error {
	if !g.Loaded(p) {
		return fmt.Errorf("%w: %s", ErrUnloaded, p)
	}
	switch {
	case g.casings[p] != nil:
		c := g.casings[p]
		c.Disable()
		c.Dispose()
		delete(g.casings, p)
		g.unlink(c)
		delete(g.lookups, p)
	case g.controllers[p] != nil:
		g.controllers[p].Dispose(true)
		delete(g.controllers, p)
	case g.solids[p]:
		delete(g.solids, p)
	default:
		return fmt.Errorf("%w: %s", ErrNoBlock, p)
	}
	g.notifyNeighbors(p)
	return nil
}

// link connects c with every adjacent casing. Modules on faces that become
// shared are ejected by the casings themselves.
func (g *Grid) link(c *casing.Casing) {
	for _, f := range machine.Faces {
		n := g.casings[c.Pos().Offset(f)]
		if n == nil {
			continue
		}
		if m := c.Link(f, n); m != nil {
			g.log.Info("module ejected", "pos", c.Pos().String(), "face", f.String(), "kind", string(m.Kind()))
		}
		if m := n.Link(f.Opposite(), c); m != nil {
			g.log.Info("module ejected", "pos", n.Pos().String(), "face", f.Opposite().String(), "kind", string(m.Kind()))
		}
	}
}

func (g *Grid) unlink(c *casing.Casing) {
	for _, f := range machine.Faces {
		if n := c.Neighbor(f); n != nil {
			n.Link(f.Opposite(), nil)
			c.Link(f, nil)
		}
	}
}

// notifyNeighbors tells the blocks around p that p changed.
func (g *Grid) notifyNeighbors(p machine.Pos) {
	for _, f := range machine.Faces {
		q := p.Offset(f)
		if c := g.casings[q]; c != nil {
			c.OnNeighborBlockChange(p)
		}
		if c := g.controllers[q]; c != nil {
			c.ScheduleScan()
		}
	}
}

func (g *Grid) findCasing(p machine.Pos) (*casing.Casing, error) {
	c, ok := g.casings[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCasing, p)
	}
	return c, nil
}

func (g *Grid) InstallModule(p machine.Pos, f machine.Face, k module.Kind) (module.Module, error) {
	c, err := g.findCasing(p)
	if err != nil {
		return nil, err
	}
	return c.InstallModule(f, k)
}

func (g *Grid) RemoveModule(p machine.Pos, f machine.Face) (module.Module, error) {
	c, err := g.findCasing(p)
	if err != nil {
		return nil, err
	}
	return c.RemoveModule(f)
}

func (g *Grid) Module(p machine.Pos, f machine.Face) (module.Module, error) {
	c, err := g.findCasing(p)
	if err != nil {
		return nil, err
	}
	m := c.Module(f)
	if m == nil {
		return nil, fmt.Errorf("%w: %s %s", casing.ErrNoModule, p, f)
	}
	return m, nil
}

// LoadProgram assembles src into the execution node at (p, f).
func (g *Grid) LoadProgram(p machine.Pos, f machine.Face, src string) error {
	m, err := g.Module(p, f)
	if err != nil {
		return err
	}
	n, ok := m.(*module.ExecutionNode)
	if !ok {
		return fmt.Errorf("%w: %s is %s", ErrWrongModule, f, m.Kind())
	}
	return n.Load(src)
}

// KeypadInput types v into the keypad at (p, f). It reports false when the
// keypad still holds an unread value.
func (g *Grid) KeypadInput(p machine.Pos, f machine.Face, v int16) (bool, error) {
	m, err := g.Module(p, f)
	if err != nil {
		return false, err
	}
	k, ok := m.(*module.Keypad)
	if !ok {
		return false, fmt.Errorf("%w: %s is %s", ErrWrongModule, f, m.Kind())
	}
	return k.SetValue(v), nil
}

// TerminalInput submits a line to the terminal at (p, f).
func (g *Grid) TerminalInput(p machine.Pos, f machine.Face, line string) (bool, error) {
	m, err := g.Module(p, f)
	if err != nil {
		return false, err
	}
	t, ok := m.(*module.Terminal)
	if !ok {
		return false, fmt.Errorf("%w: %s is %s", ErrWrongModule, f, m.Kind())
	}
	return t.Submit(line), nil
}
