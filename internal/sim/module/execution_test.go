package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

func newNode(t *testing.T, h *fakeHost, src string) *ExecutionNode {
	t.Helper()
	n := newModule(t, KindExecution, h).(*ExecutionNode)
	require.NoError(t, n.Load(src))
	return n
}

func TestExecutionNode_OneInstructionPerStep(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "MOV 1, ACC\nADD 2\nMOV ACC, RIGHT")

	n.Step()
	assert.Equal(t, int16(1), n.ACC())
	n.Step()
	assert.Equal(t, int16(3), n.ACC())
	assert.Empty(t, h.out)
	n.Step()
	assert.Equal(t, map[machine.Port]int16{machine.Right: 3}, h.out)
	assert.Equal(t, 2, n.PC(), "node waits on the write")

	n.Step()
	n.Step()
	assert.Equal(t, 2, n.PC())

	assert.Equal(t, int16(3), h.take(t, n, machine.Right))
	assert.Equal(t, 0, n.PC(), "pc wraps after the write completes")
}

func TestExecutionNode_ReadStallsOnEmptyPort(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "MOV LEFT, ACC\nNEG")

	n.Step()
	n.Step()
	assert.Equal(t, 0, n.PC())

	h.in[machine.Left] = 5
	n.Step()
	assert.Equal(t, int16(5), n.ACC())
	n.Step()
	assert.Equal(t, int16(-5), n.ACC())
}

func TestExecutionNode_AnyWriteCompletesOnceAndSetsLast(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "MOV 7, ANY\nMOV LAST, ACC")

	n.Step()
	assert.Len(t, h.out, 4)

	assert.Equal(t, int16(7), h.take(t, n, machine.Up))
	assert.Empty(t, h.out, "other offers withdrawn")

	h.in[machine.Up] = 9
	h.in[machine.Left] = 1
	n.Step()
	assert.Equal(t, int16(9), n.ACC(), "LAST reads the port that took the value")
}

func TestExecutionNode_AnyReadOrder(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "MOV ANY, ACC")
	h.in[machine.Down] = 4
	h.in[machine.Right] = 2
	n.Step()
	assert.Equal(t, int16(2), n.ACC())
	n.Step()
	assert.Equal(t, int16(4), n.ACC())
}

func TestExecutionNode_ArithmeticAndJumps(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, `
		MOV 3, ACC
	L:	SUB 1
		JGZ L
		SAV
		MOV 0x7FFF, ACC
		ADD 1
		SWP
		HCF`)
	for i := 0; i < 12; i++ {
		n.Step()
	}
	assert.Equal(t, 1, h.halted)
	assert.Equal(t, int16(0), n.ACC())
	assert.Equal(t, int16(-32768), n.BAK(), "16-bit wraparound")
}

func TestExecutionNode_JROClamps(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "JRO -5\nNOP\nJRO 100")
	n.Step()
	assert.Equal(t, 0, n.PC())

	n2 := newNode(t, newFakeHost(), "NOP\nJRO 100\nNOP")
	n2.Step()
	n2.Step()
	assert.Equal(t, 2, n2.PC())
}

func TestExecutionNode_DisableDiscardsInFlightWrite(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "MOV 1, ACC\nMOV ACC, UP\nNOP")
	n.Step()
	n.Step()
	require.True(t, h.IsWriting(machine.XPos, machine.Up))

	n.OnDisabled()
	h.out = map[machine.Port]int16{} // the casing clears its fabric
	n.OnWriteComplete(machine.Up)
	assert.Equal(t, 0, n.PC(), "a late completion does not advance an idle node")
	assert.Equal(t, int16(0), n.ACC())

	n.OnEnabled()
	n.Step()
	assert.Equal(t, 1, n.PC())
	assert.Equal(t, int16(1), n.ACC())
}

func TestExecutionNode_StateRoundTrip(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "MOV 5, ACC\nSAV\nMOV 1, ANY\nNOP")
	n.Step()
	n.Step()
	n.Step()
	h.take(t, n, machine.Down)

	st := tag.New()
	n.WriteState(st)

	other := newModule(t, KindExecution, newFakeHost()).(*ExecutionNode)
	other.ReadState(st)
	assert.Equal(t, n.Source(), other.Source())
	assert.Equal(t, int16(5), other.ACC())
	assert.Equal(t, int16(5), other.BAK())
	assert.Equal(t, 3, other.PC())

	empty := newModule(t, KindExecution, newFakeHost()).(*ExecutionNode)
	empty.ReadState(tag.New())
	assert.Equal(t, "", empty.Source())
	assert.NotPanics(t, empty.Step)
}

func TestExecutionNode_StateKeepsPendingWrite(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "MOV 4, ANY\nMOV LAST, ACC")
	n.Step()
	require.Len(t, h.out, 4)

	st := tag.New()
	n.WriteState(st)

	// The restored node keeps waiting on its offer instead of writing again.
	h2 := newFakeHost()
	h2.out[machine.Left] = 4
	other := newModule(t, KindExecution, h2).(*ExecutionNode)
	other.ReadState(st)
	other.Step()
	assert.Equal(t, 0, other.PC())
	assert.Len(t, h2.out, 1)

	assert.Equal(t, int16(4), h2.take(t, other, machine.Left))
	assert.Equal(t, 1, other.PC())
	h2.in[machine.Left] = 11
	other.Step()
	assert.Equal(t, int16(11), other.ACC(), "write-any completion sets LAST")
}

func TestExecutionNode_LoadRejectsBadProgram(t *testing.T) {
	h := newFakeHost()
	n := newNode(t, h, "NOP")
	assert.Error(t, n.Load("BOGUS"))
	assert.Equal(t, "NOP", n.Source())
}
