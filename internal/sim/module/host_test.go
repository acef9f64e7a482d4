package module

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/pipe"
)

// fakeHost stands in for a casing: "out" holds the module's pending writes,
// "in" holds values a neighbour has made available to it.
type fakeHost struct {
	tick     uint64
	out      map[machine.Port]int16
	in       map[machine.Port]int16
	rng      *rand.Rand
	emitted  []int16
	halted   int
	notified int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		out: map[machine.Port]int16{},
		in:  map[machine.Port]int16{},
		rng: rand.New(rand.NewPCG(1, 2)),
	}
}

func (h *fakeHost) Pos() machine.Pos { return machine.Pos{} }
func (h *fakeHost) Tick() uint64     { return h.tick }

func (h *fakeHost) Write(_ machine.Face, p machine.Port, v int16) error {
	if _, busy := h.out[p]; busy {
		return pipe.ErrPortBusy
	}
	h.out[p] = v
	return nil
}

func (h *fakeHost) Read(_ machine.Face, p machine.Port) (int16, error) {
	v, ok := h.in[p]
	if !ok {
		return 0, pipe.ErrPortEmpty
	}
	delete(h.in, p)
	return v, nil
}

func (h *fakeHost) Peek(_ machine.Face, p machine.Port) (int16, error) {
	v, ok := h.in[p]
	if !ok {
		return 0, pipe.ErrPortEmpty
	}
	return v, nil
}

func (h *fakeHost) CancelWrite(_ machine.Face, p machine.Port) { delete(h.out, p) }

func (h *fakeHost) IsWriting(_ machine.Face, p machine.Port) bool {
	_, ok := h.out[p]
	return ok
}

func (h *fakeHost) Rand() *rand.Rand                     { return h.rng }
func (h *fakeHost) EmitInfrared(_ machine.Face, v int16) { h.emitted = append(h.emitted, v) }
func (h *fakeHost) HaltAndCatchFire()                    { h.halted++ }
func (h *fakeHost) NotifyRedstoneChanged(machine.Face)   { h.notified++ }

// take plays the neighbour reading port p: the value leaves the slot and
// the module is told its write completed.
func (h *fakeHost) take(t *testing.T, m Module, p machine.Port) int16 {
	t.Helper()
	v, ok := h.out[p]
	require.True(t, ok, "nothing written on %s", p)
	delete(h.out, p)
	m.OnWriteComplete(p)
	return v
}

func newModule(t *testing.T, k Kind, h Host) Module {
	t.Helper()
	m, err := NewRegistry(DefaultParams()).New(k, h, machine.XPos)
	require.NoError(t, err)
	m.OnInstalled()
	m.OnEnabled()
	return m
}
