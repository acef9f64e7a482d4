// Package casing implements the block that carries up to six modules and
// the port fabric between them.
package casing

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"tis3d.dev/internal/sim/events"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/mathx"
	"tis3d.dev/internal/sim/module"
	"tis3d.dev/internal/sim/pipe"
)

var (
	ErrLocked         = errors.New("casing: locked")
	ErrWrongKey       = errors.New("casing: wrong key")
	ErrFaceOccupied   = errors.New("casing: face occupied")
	ErrFaceObstructed = errors.New("casing: face obstructed")
	ErrNoModule       = errors.New("casing: no module on face")
)

// ControllerHandle is what a casing may ask of its controller.
type ControllerHandle interface {
	ScheduleScan()
	HaltAndCatchFire()
}

// Env is the world around a casing.
type Env interface {
	Tick() uint64
	Seed() int64
	Bus() *events.Bus
	// ControllerAt returns the live controller at p, if any.
	ControllerAt(p machine.Pos) (ControllerHandle, bool)
	// RequestLookup queues a controller search starting at p for the next tick.
	RequestLookup(p machine.Pos)
	EmitInfrared(from machine.Pos, face machine.Face, v int16)
	NotifyRedstone(p machine.Pos, face machine.Face)
}

type Casing struct {
	pos machine.Pos
	env Env
	reg *module.Registry

	modules   [machine.FaceCount]module.Module
	neighbors [machine.FaceCount]*Casing
	fabric    pipe.Fabric
	pcg       *rand.PCG
	rng       *rand.Rand

	enabled       bool
	lockKey       uuid.UUID
	redstoneDirty bool

	controller    machine.Pos
	hasController bool
}

func New(pos machine.Pos, env Env, reg *module.Registry) *Casing {
	h := mathx.Hash3(env.Seed(), pos.X, pos.Y, pos.Z)
	pcg := rand.NewPCG(h, h^0x9e3779b97f4a7c15)
	return &Casing{
		pos:           pos,
		env:           env,
		reg:           reg,
		pcg:           pcg,
		rng:           rand.New(pcg),
		redstoneDirty: true,
	}
}

func (c *Casing) Pos() machine.Pos { return c.pos }
func (c *Casing) Tick() uint64     { return c.env.Tick() }
func (c *Casing) Rand() *rand.Rand { return c.rng }
func (c *Casing) Enabled() bool    { return c.enabled }
func (c *Casing) Locked() bool     { return c.lockKey != uuid.Nil }

func (c *Casing) Module(f machine.Face) module.Module { return c.modules[f] }

// Modules returns the installed modules in face order.
func (c *Casing) Modules() []module.Module {
	var out []module.Module
	for _, m := range c.modules {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Enable is idempotent; modules are notified only on a transition.
func (c *Casing) Enable() {
	if c.enabled {
		return
	}
	c.enabled = true
	c.redstoneDirty = true
	for _, m := range c.Modules() {
		m.OnEnabled()
	}
	c.publish()
}

// Disable is idempotent. Pending port values are discarded.
func (c *Casing) Disable() {
	if !c.enabled {
		return
	}
	c.enabled = false
	c.fabric.Reset()
	for _, m := range c.Modules() {
		m.OnDisabled()
	}
	c.publish()
}

func (c *Casing) publish() {
	c.env.Bus().Publish(events.Event{
		Type:    events.TypeCasingState,
		Pos:     c.pos,
		Enabled: c.enabled,
		Locked:  c.Locked(),
	})
}

func (c *Casing) Lock(key uuid.UUID) error {
	if c.Locked() {
		return ErrLocked
	}
	if key == uuid.Nil {
		return fmt.Errorf("casing: lock key must not be nil")
	}
	c.lockKey = key
	c.publish()
	return nil
}

func (c *Casing) Unlock(key uuid.UUID) error {
	if !c.Locked() {
		return nil
	}
	if key != c.lockKey {
		return ErrWrongKey
	}
	c.lockKey = uuid.Nil
	c.publish()
	return nil
}

// Obstructed reports whether face f touches another casing.
func (c *Casing) Obstructed(f machine.Face) bool { return c.neighbors[f] != nil }

func (c *Casing) InstallModule(f machine.Face, k module.Kind) (module.Module, error) {
	switch {
	case c.Locked():
		return nil, ErrLocked
	case c.modules[f] != nil:
		return nil, ErrFaceOccupied
	case c.Obstructed(f):
		return nil, ErrFaceObstructed
	}
	m, err := c.reg.New(k, c, f)
	if err != nil {
		return nil, err
	}
	c.fabric.ResetFace(f)
	c.modules[f] = m
	m.OnInstalled()
	if c.enabled {
		m.OnEnabled()
	}
	c.redstoneDirty = true
	return m, nil
}

func (c *Casing) RemoveModule(f machine.Face) (module.Module, error) {
	if c.Locked() {
		return nil, ErrLocked
	}
	if c.modules[f] == nil {
		return nil, ErrNoModule
	}
	return c.detach(f), nil
}

func (c *Casing) detach(f machine.Face) module.Module {
	m := c.modules[f]
	if c.enabled {
		m.OnDisabled()
	}
	m.OnUninstalled()
	c.modules[f] = nil
	c.fabric.ResetFace(f)
	return m
}

// Link records the casing adjacent on face f (nil to unlink). A module on
// a face that becomes shared is ejected and returned.
func (c *Casing) Link(f machine.Face, n *Casing) module.Module {
	c.neighbors[f] = n
	if n == nil || c.modules[f] == nil {
		return nil
	}
	m := c.detach(f)
	c.env.Bus().Publish(events.Event{
		Type: events.TypeModuleEjected,
		Pos:  c.pos,
		Face: f.String(),
		Kind: string(m.Kind()),
	})
	return m
}

func (c *Casing) Neighbor(f machine.Face) *Casing { return c.neighbors[f] }

// SetController records the owning controller by position. Controller
// revalidates it on every use.
func (c *Casing) SetController(p machine.Pos) { c.controller, c.hasController = p, true }
func (c *Casing) ClearController()            { c.hasController = false }

func (c *Casing) ControllerPos() (machine.Pos, bool) { return c.controller, c.hasController }

func (c *Casing) Controller() (ControllerHandle, bool) {
	if !c.hasController {
		return nil, false
	}
	h, ok := c.env.ControllerAt(c.controller)
	if !ok {
		c.hasController = false
	}
	return h, ok
}

// ScheduleScan asks the owning controller to rescan, or queues a lookup
// when the casing has no valid controller.
func (c *Casing) ScheduleScan() {
	if h, ok := c.Controller(); ok {
		h.ScheduleScan()
		return
	}
	c.env.RequestLookup(c.pos)
}

// Host events.

func (c *Casing) OnNeighborBlockChange(neighbor machine.Pos) {
	c.redstoneDirty = true
	for _, m := range c.Modules() {
		if bc := m.Capabilities().BlockChangeAware; bc != nil {
			bc.OnNeighborBlockChange(neighbor)
		}
	}
	c.ScheduleScan()
}

func (c *Casing) OnLoad()       { c.ScheduleScan() }
func (c *Casing) OnInvalidate() { c.ScheduleScan() }

// Dispose releases the casing when its block goes away. The caller
// disables it first when the block was removed (not merely unloaded).
func (c *Casing) Dispose() {
	if h, ok := c.Controller(); ok {
		h.ScheduleScan()
	}
	c.hasController = false
	for _, f := range machine.Faces {
		if m := c.modules[f]; m != nil {
			m.OnUninstalled()
			c.modules[f] = nil
		}
	}
	c.fabric.Reset()
}

func (c *Casing) RedstoneDirty() bool { return c.redstoneDirty }
func (c *Casing) MarkRedstoneDirty()  { c.redstoneDirty = true }
func (c *Casing) ClearRedstoneDirty() { c.redstoneDirty = false }

func (c *Casing) HaltAndCatchFire() {
	if h, ok := c.Controller(); ok {
		h.HaltAndCatchFire()
	}
}
