package module

import (
	"tis3d.dev/internal/sim/asm"
	"tis3d.dev/internal/sim/machine"
	"tis3d.dev/internal/sim/tag"
)

// ExecutionNode runs one instruction per step. A MOV to a port parks the
// node until the value is read; a read from an empty port retries the
// same instruction next step.
type ExecutionNode struct {
	Base
	limits asm.Limits
	prog   *asm.Program
	source string

	acc, bak int16
	pc       int
	last     machine.Port
	hasLast  bool

	writing  bool
	writeAny bool
}

func newExecutionNode(b Base, p Params) Module {
	return &ExecutionNode{Base: b, limits: p.Program}
}

// Load assembles and installs a program, resetting the machine state.
// On error the previous program is kept.
func (n *ExecutionNode) Load(source string) error {
	prog, err := asm.Parse(source, n.limits)
	if err != nil {
		return err
	}
	n.prog = prog
	n.source = source
	n.reset()
	n.cancelAll()
	return nil
}

func (n *ExecutionNode) Source() string { return n.source }
func (n *ExecutionNode) ACC() int16     { return n.acc }
func (n *ExecutionNode) BAK() int16     { return n.bak }
func (n *ExecutionNode) PC() int        { return n.pc }

func (n *ExecutionNode) reset() {
	n.acc, n.bak, n.pc = 0, 0, 0
	n.hasLast = false
	n.writing, n.writeAny = false, false
}

func (n *ExecutionNode) OnDisabled() { n.reset() }

func (n *ExecutionNode) OnWriteComplete(port machine.Port) {
	if !n.writing {
		return
	}
	if n.writeAny {
		n.cancelAll()
		n.last, n.hasLast = port, true
	}
	n.writing, n.writeAny = false, false
	n.advance()
}

func (n *ExecutionNode) Step() {
	if n.prog == nil || len(n.prog.Instructions) == 0 || n.writing {
		return
	}
	ins := n.prog.Instructions[n.pc]
	switch ins.Op {
	case asm.NOP:
	case asm.MOV:
		v, ok := n.read(ins.Src)
		if !ok {
			return
		}
		if n.write(ins.Dst, v) {
			return
		}
	case asm.SWP:
		n.acc, n.bak = n.bak, n.acc
	case asm.SAV:
		n.bak = n.acc
	case asm.NEG:
		n.acc = -n.acc
	case asm.NOT:
		n.acc = ^n.acc
	case asm.ADD, asm.SUB, asm.AND, asm.OR, asm.XOR, asm.SHL, asm.SHR:
		v, ok := n.read(ins.Src)
		if !ok {
			return
		}
		n.acc = arith(ins.Op, n.acc, v)
	case asm.JMP:
		n.pc = ins.Jump
		return
	case asm.JEZ, asm.JNZ, asm.JGZ, asm.JLZ:
		if n.jumpTaken(ins.Op) {
			n.pc = ins.Jump
			return
		}
	case asm.JRO:
		v, ok := n.read(ins.Src)
		if !ok {
			return
		}
		target := n.pc + int(v)
		if target < 0 {
			target = 0
		}
		if end := len(n.prog.Instructions) - 1; target > end {
			target = end
		}
		n.pc = target
		return
	case asm.HCF:
		n.host.HaltAndCatchFire()
	}
	n.advance()
}

func (n *ExecutionNode) advance() {
	if n.prog == nil || len(n.prog.Instructions) == 0 {
		n.pc = 0
		return
	}
	n.pc = (n.pc + 1) % len(n.prog.Instructions)
}

func (n *ExecutionNode) jumpTaken(op asm.Op) bool {
	switch op {
	case asm.JEZ:
		return n.acc == 0
	case asm.JNZ:
		return n.acc != 0
	case asm.JGZ:
		return n.acc > 0
	case asm.JLZ:
		return n.acc < 0
	}
	return false
}

func arith(op asm.Op, acc, v int16) int16 {
	switch op {
	case asm.ADD:
		return acc + v
	case asm.SUB:
		return acc - v
	case asm.AND:
		return acc & v
	case asm.OR:
		return acc | v
	case asm.XOR:
		return acc ^ v
	case asm.SHL:
		if v < 0 || v > 15 {
			return 0
		}
		return acc << uint(v)
	case asm.SHR:
		if v < 0 || v > 15 {
			return 0
		}
		return int16(uint16(acc) >> uint(v))
	}
	return acc
}

func portOf(t asm.Target) machine.Port {
	switch t {
	case asm.UP:
		return machine.Up
	case asm.DOWN:
		return machine.Down
	case asm.LEFT:
		return machine.Left
	}
	return machine.Right
}

func (n *ExecutionNode) read(o asm.Operand) (int16, bool) {
	switch o.Target {
	case asm.Imm:
		return o.Value, true
	case asm.ACC:
		return n.acc, true
	case asm.NIL:
		return 0, true
	case asm.ANY:
		v, p, ok := n.readAny()
		if ok {
			n.last, n.hasLast = p, true
		}
		return v, ok
	case asm.LAST:
		if !n.hasLast {
			return 0, true
		}
		v, err := n.host.Read(n.face, n.last)
		return v, err == nil
	}
	v, err := n.host.Read(n.face, portOf(o.Target))
	return v, err == nil
}

// write stores v and reports whether the node now waits for a reader.
func (n *ExecutionNode) write(o asm.Operand, v int16) bool {
	switch o.Target {
	case asm.ACC:
		n.acc = v
		return false
	case asm.NIL, asm.Imm:
		return false
	case asm.ANY:
		n.writeAll(v)
		n.writing, n.writeAny = true, true
		return true
	case asm.LAST:
		if !n.hasLast {
			return false
		}
		_ = n.host.Write(n.face, n.last, v)
	default:
		_ = n.host.Write(n.face, portOf(o.Target), v)
	}
	n.writing = true
	return true
}

func (n *ExecutionNode) ReadState(t tag.Compound) {
	n.prog, n.source = nil, ""
	n.reset()
	if src := t.Text("code"); src != "" {
		if prog, err := asm.Parse(src, n.limits); err == nil {
			n.prog, n.source = prog, src
		}
	}
	n.acc = t.Short("acc")
	n.bak = t.Short("bak")
	if n.prog != nil {
		n.pc = t.Int("pc")
		if n.pc < 0 || n.pc >= len(n.prog.Instructions) {
			n.pc = 0
		}
	}
	if last := t.IntOr("last", -1); last >= 0 && last < machine.PortCount {
		n.last, n.hasLast = machine.Port(last), true
	}
	if n.prog != nil {
		n.writing = t.Bool("writing")
		n.writeAny = n.writing && t.Bool("write_any")
	}
}

func (n *ExecutionNode) WriteState(t tag.Compound) {
	t.SetString("code", n.source)
	t.SetShort("acc", n.acc)
	t.SetShort("bak", n.bak)
	t.SetInt("pc", n.pc)
	last := -1
	if n.hasLast {
		last = int(n.last)
	}
	t.SetInt("last", last)
	t.SetBool("writing", n.writing)
	t.SetBool("write_any", n.writeAny)
}
