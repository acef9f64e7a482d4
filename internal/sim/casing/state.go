package casing

import (
	"github.com/google/uuid"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/module"
	"tis3d.dev/internal/sim/tag"
)

// Tag keys.
const (
	keyEnabled = "enabled"
	keyLock    = "lock"
	keyModules = "modules"
	keyKind    = "kind"
	keyState   = "state"
	keyPorts   = "ports"
	keyRand    = "rand"
	keyOwner   = "controller"
	keyDirty   = "redstone_dirty"
)

// WriteState saves everything the next tick depends on: the enabled flag,
// lock, modules, pending port writes, random source and the position of
// the owning controller.
func (c *Casing) WriteState(t tag.Compound) {
	t.SetBool(keyEnabled, c.enabled)
	if c.Locked() {
		t.SetString(keyLock, c.lockKey.String())
	}
	t.SetBool(keyDirty, c.redstoneDirty)
	if c.hasController {
		t.SetString(keyOwner, c.controller.String())
	}
	if b, err := c.pcg.MarshalBinary(); err == nil {
		t.SetBytes(keyRand, b)
	}
	ports := tag.New()
	c.fabric.WriteState(ports)
	t.SetCompound(keyPorts, ports)
	mods := tag.New()
	for _, f := range machine.Faces {
		m := c.modules[f]
		if m == nil {
			continue
		}
		mt := tag.New()
		mt.SetString(keyKind, string(m.Kind()))
		st := tag.New()
		m.WriteState(st)
		mt.SetCompound(keyState, st)
		mods.SetCompound(f.String(), mt)
	}
	t.SetCompound(keyModules, mods)
}

// ReadState replaces the casing state. Missing keys read as defaults and
// unknown module kinds are dropped. Modules are installed without
// lifecycle notifications so their saved state is kept as is. A missing
// random source keeps the one seeded from the position.
func (c *Casing) ReadState(t tag.Compound) {
	for _, f := range machine.Faces {
		if m := c.modules[f]; m != nil {
			m.OnUninstalled()
			c.modules[f] = nil
		}
	}
	c.fabric.ReadState(t.Compound(keyPorts))
	if b := t.Bytes(keyRand); len(b) > 0 {
		_ = c.pcg.UnmarshalBinary(b)
	}
	c.hasController = false
	if s := t.Text(keyOwner); s != "" {
		if p, err := machine.ParsePos(s); err == nil {
			c.controller, c.hasController = p, true
		}
	}

	c.enabled = t.Bool(keyEnabled)
	c.lockKey = uuid.Nil
	if s := t.Text(keyLock); s != "" {
		if k, err := uuid.Parse(s); err == nil {
			c.lockKey = k
		}
	}
	mods := t.Compound(keyModules)
	for _, name := range mods.Keys() {
		f, err := machine.ParseFace(name)
		if err != nil || c.Obstructed(f) {
			continue
		}
		mt := mods.Compound(name)
		m, err := c.reg.New(module.Kind(mt.Text(keyKind)), c, f)
		if err != nil {
			continue
		}
		m.ReadState(mt.Compound(keyState))
		c.modules[f] = m
	}
	for _, f := range machine.Faces {
		if c.modules[f] == nil {
			c.fabric.ResetFace(f)
		}
	}
	c.redstoneDirty = !t.Has(keyDirty) || t.Bool(keyDirty)
}
