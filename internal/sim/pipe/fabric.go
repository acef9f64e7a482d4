// Package pipe implements the per-casing port mailboxes. Every (face, port)
// endpoint owns one outgoing slot; the endpoint it is linked to reads from
// that slot. A value becomes readable on the tick after it was written.
package pipe

import (
	"errors"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

var (
	// ErrPortBusy means the endpoint's previous write has not been read yet.
	ErrPortBusy = errors.New("pipe: port busy")
	// ErrPortEmpty means there is no value visible to the reader this tick.
	ErrPortEmpty = errors.New("pipe: port empty")
)

type slot struct {
	value int16
	stamp uint64
	full  bool
}

// Fabric holds the outgoing slots for the 24 endpoints of one casing.
// It is not safe for concurrent use; the simulation is single threaded.
type Fabric struct {
	slots [machine.FaceCount][machine.PortCount]slot
}

// Write stores v in the endpoint's slot, stamped with the current tick.
func (f *Fabric) Write(face machine.Face, port machine.Port, v int16, tick uint64) error {
	s := &f.slots[face][port]
	if s.full {
		return ErrPortBusy
	}
	*s = slot{value: v, stamp: tick, full: true}
	return nil
}

// Take removes and returns the endpoint's value if it was written before tick.
func (f *Fabric) Take(face machine.Face, port machine.Port, tick uint64) (int16, error) {
	v, err := f.Peek(face, port, tick)
	if err != nil {
		return 0, err
	}
	f.slots[face][port] = slot{}
	return v, nil
}

// Peek is Take without consuming the value.
func (f *Fabric) Peek(face machine.Face, port machine.Port, tick uint64) (int16, error) {
	s := f.slots[face][port]
	if !s.full || s.stamp >= tick {
		return 0, ErrPortEmpty
	}
	return s.value, nil
}

// Cancel drops a pending write. It reports whether there was one.
func (f *Fabric) Cancel(face machine.Face, port machine.Port) bool {
	s := &f.slots[face][port]
	was := s.full
	*s = slot{}
	return was
}

// Pending reports whether the endpoint has an unacknowledged write.
func (f *Fabric) Pending(face machine.Face, port machine.Port) bool {
	return f.slots[face][port].full
}

// ResetFace drops every pending write of one face.
func (f *Fabric) ResetFace(face machine.Face) {
	f.slots[face] = [machine.PortCount]slot{}
}

// Reset drops every pending write.
func (f *Fabric) Reset() {
	f.slots = [machine.FaceCount][machine.PortCount]slot{}
}

// WriteState saves every pending write, keyed by face then port. Stamps
// are absolute ticks, so a restored value becomes readable on the same
// tick it would have before saving.
func (f *Fabric) WriteState(t tag.Compound) {
	for _, face := range machine.Faces {
		var ft tag.Compound
		for _, port := range machine.Ports {
			s := f.slots[face][port]
			if !s.full {
				continue
			}
			if ft == nil {
				ft = tag.New()
			}
			st := tag.New()
			st.SetShort("value", s.value)
			st.SetLong("stamp", int64(s.stamp))
			ft.SetCompound(port.String(), st)
		}
		if ft != nil {
			t.SetCompound(face.String(), ft)
		}
	}
}

// ReadState replaces the pending writes. Unknown faces and ports are skipped.
func (f *Fabric) ReadState(t tag.Compound) {
	f.Reset()
	for _, fk := range t.Keys() {
		face, err := machine.ParseFace(fk)
		if err != nil {
			continue
		}
		ft := t.Compound(fk)
		for _, pk := range ft.Keys() {
			port, err := machine.ParsePort(pk)
			if err != nil {
				continue
			}
			st := ft.Compound(pk)
			f.slots[face][port] = slot{value: st.Short("value"), stamp: uint64(st.Long("stamp")), full: true}
		}
	}
}
