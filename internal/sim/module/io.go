package module

import (
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

// Random offers a fresh random value on all ports; once one is taken the
// others are withdrawn so every reader sees a new value.
type Random struct{ Base }

func newRandom(b Base, _ Params) Module { return &Random{Base: b} }

func (r *Random) Step() {
	for _, p := range machine.Ports {
		if r.host.IsWriting(r.face, p) {
			return
		}
	}
	r.writeAll(int16(r.host.Rand().Uint32()))
}

func (r *Random) OnWriteComplete(machine.Port) { r.cancelAll() }

// Keypad offers a value entered from outside until some neighbour reads it.
type Keypad struct {
	Base
	value int16
	has   bool
}

func newKeypad(b Base, _ Params) Module { return &Keypad{Base: b} }

// SetValue reports false while a previous value is still unread.
func (k *Keypad) SetValue(v int16) bool {
	if k.has {
		return false
	}
	k.value, k.has = v, true
	return true
}

func (k *Keypad) Pending() (int16, bool) { return k.value, k.has }

func (k *Keypad) Step() {
	if k.has {
		k.writeAll(k.value)
	}
}

func (k *Keypad) OnWriteComplete(machine.Port) {
	k.cancelAll()
	k.has = false
}

func (k *Keypad) OnDisabled() { k.has = false }

func (k *Keypad) ReadState(t tag.Compound) {
	k.value = t.Short("value")
	k.has = t.Bool("has_value")
}

func (k *Keypad) WriteState(t tag.Compound) {
	t.SetShort("value", k.value)
	t.SetBool("has_value", k.has)
}

type memoryState uint8

const (
	memAddress memoryState = iota
	memAccess
)

// Memory is byte-addressed RAM. The first value read selects the address;
// while in access mode the module offers the stored byte and a second read
// overwrites it.
type Memory struct {
	Base
	mem     []byte
	state   memoryState
	address int
}

func newMemory(b Base, p Params) Module {
	return &Memory{Base: b, mem: make([]byte, p.MemorySize)}
}

func (m *Memory) Get(addr int) byte { return m.mem[addr%len(m.mem)] }

func (m *Memory) Step() {
	switch m.state {
	case memAddress:
		if v, _, ok := m.readAny(); ok {
			m.address = int(uint16(v)) % len(m.mem)
			m.state = memAccess
			m.writeAll(int16(m.mem[m.address]))
		}
	case memAccess:
		if v, _, ok := m.readAny(); ok {
			m.mem[m.address] = byte(v)
			m.cancelAll()
			m.state = memAddress
			return
		}
		m.writeAll(int16(m.mem[m.address]))
	}
}

func (m *Memory) OnWriteComplete(machine.Port) {
	m.cancelAll()
	m.state = memAddress
}

func (m *Memory) OnDisabled() {
	clear(m.mem)
	m.state = memAddress
	m.address = 0
}

func (m *Memory) ReadState(t tag.Compound) {
	clear(m.mem)
	copy(m.mem, t.Bytes("memory"))
	m.address = t.Int("address") % len(m.mem)
	if m.address < 0 {
		m.address = 0
	}
	m.state = memoryState(t.Int("state"))
	if m.state != memAccess {
		m.state = memAddress
	}
}

func (m *Memory) WriteState(t tag.Compound) {
	t.SetBytes("memory", m.mem)
	t.SetInt("address", m.address)
	t.SetInt("state", int(m.state))
}
