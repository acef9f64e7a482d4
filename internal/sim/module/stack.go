package module

import (
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

// Stack pushes whatever it reads and offers its top value on every port.
// A completed write pops.
type Stack struct {
	Base
	size  int
	items []int16
}

func newStack(b Base, p Params) Module { return &Stack{Base: b, size: p.StackSize} }

func (s *Stack) Items() []int16 { return append([]int16(nil), s.items...) }

func (s *Stack) Step() {
	pushed := false
	for _, p := range anyOrder {
		if len(s.items) >= s.size {
			break
		}
		if v, err := s.host.Read(s.face, p); err == nil {
			s.items = append(s.items, v)
			pushed = true
		}
	}
	if pushed {
		// The top changed; withdraw the stale offer.
		s.cancelAll()
	}
	if len(s.items) > 0 {
		s.writeAll(s.items[len(s.items)-1])
	}
}

func (s *Stack) OnWriteComplete(machine.Port) {
	if len(s.items) > 0 {
		s.items = s.items[:len(s.items)-1]
	}
	s.cancelAll()
}

func (s *Stack) OnDisabled() { s.items = s.items[:0] }

func (s *Stack) ReadState(t tag.Compound) {
	s.items = t.Shorts("stack")
	if len(s.items) > s.size {
		s.items = s.items[:s.size]
	}
}

func (s *Stack) WriteState(t tag.Compound) { t.SetShorts("stack", s.items) }

// Queue is the first-in first-out counterpart of Stack.
type Queue struct {
	Base
	size  int
	items []int16
}

func newQueue(b Base, p Params) Module { return &Queue{Base: b, size: p.QueueSize} }

func (q *Queue) Items() []int16 { return append([]int16(nil), q.items...) }

func (q *Queue) Step() {
	for _, p := range anyOrder {
		if len(q.items) >= q.size {
			break
		}
		if v, err := q.host.Read(q.face, p); err == nil {
			q.items = append(q.items, v)
		}
	}
	if len(q.items) > 0 {
		q.writeAll(q.items[0])
	}
}

func (q *Queue) OnWriteComplete(machine.Port) {
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.cancelAll()
}

func (q *Queue) OnDisabled() { q.items = nil }

func (q *Queue) ReadState(t tag.Compound) {
	q.items = t.Shorts("queue")
	if len(q.items) > q.size {
		q.items = q.items[:q.size]
	}
}

func (q *Queue) WriteState(t tag.Compound) { t.SetShorts("queue", q.items) }
