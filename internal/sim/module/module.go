// Package module holds the contract every face module implements and the
// built-in variants.
//
// A module is bound to one face of one casing and talks to the rest of the
// structure only through its Host. Step is called at most once per tick;
// a port that is not ready (empty on read, busy on write) only defers that
// one operation to a later step.
package module

import (
	"math/rand/v2"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

type Kind string

const (
	KindExecution       Kind = "execution"
	KindMemory          Kind = "memory"
	KindStack           Kind = "stack"
	KindQueue           Kind = "queue"
	KindRandom          Kind = "random"
	KindDisplay         Kind = "display"
	KindKeypad          Kind = "keypad"
	KindInfrared        Kind = "infrared"
	KindRedstone        Kind = "redstone"
	KindBundledRedstone Kind = "bundled_redstone"
	KindTerminal        Kind = "terminal"
	KindMirror          Kind = "mirror"
)

type Module interface {
	Kind() Kind
	Face() machine.Face

	Step()
	OnEnabled()
	OnDisabled()
	OnInstalled()
	OnUninstalled()
	// OnWriteComplete is called once when a value written on port has been
	// read by the linked endpoint.
	OnWriteComplete(port machine.Port)

	Capabilities() Caps

	ReadState(t tag.Compound)
	WriteState(t tag.Compound)
}

// Host is the casing side of a module. Port operations address the
// module's own face; the casing resolves the linked endpoint.
type Host interface {
	Pos() machine.Pos
	Tick() uint64

	Write(face machine.Face, port machine.Port, v int16) error
	Read(face machine.Face, port machine.Port) (int16, error)
	Peek(face machine.Face, port machine.Port) (int16, error)
	CancelWrite(face machine.Face, port machine.Port)
	IsWriting(face machine.Face, port machine.Port) bool

	Rand() *rand.Rand
	EmitInfrared(face machine.Face, v int16)
	HaltAndCatchFire()
	NotifyRedstoneChanged(face machine.Face)
}

// anyOrder is the order ports are polled when reading from "any" port.
var anyOrder = [machine.PortCount]machine.Port{machine.Left, machine.Right, machine.Up, machine.Down}

// Base carries identity and the no-op lifecycle. Variants embed it and
// override what they need.
type Base struct {
	host Host
	face machine.Face
	kind Kind
}

func NewBase(kind Kind, host Host, face machine.Face) Base {
	return Base{host: host, face: face, kind: kind}
}

func (b *Base) Kind() Kind         { return b.kind }
func (b *Base) Face() machine.Face { return b.face }
func (b *Base) Host() Host         { return b.host }

func (b *Base) Step()                        {}
func (b *Base) OnEnabled()                   {}
func (b *Base) OnDisabled()                  {}
func (b *Base) OnInstalled()                 {}
func (b *Base) OnUninstalled()               {}
func (b *Base) OnWriteComplete(machine.Port) {}
func (b *Base) Capabilities() Caps           { return Caps{} }
func (b *Base) ReadState(tag.Compound)       {}
func (b *Base) WriteState(tag.Compound)      {}

// writeAll offers v on every port that is not already writing.
func (b *Base) writeAll(v int16) {
	for _, p := range machine.Ports {
		if !b.host.IsWriting(b.face, p) {
			_ = b.host.Write(b.face, p, v)
		}
	}
}

func (b *Base) cancelAll() {
	for _, p := range machine.Ports {
		b.host.CancelWrite(b.face, p)
	}
}

// readAny returns the first value available in anyOrder.
func (b *Base) readAny() (int16, machine.Port, bool) {
	for _, p := range anyOrder {
		if v, err := b.host.Read(b.face, p); err == nil {
			return v, p, true
		}
	}
	return 0, 0, false
}
