// Package asm parses execution-node programs.
//
// Syntax is line based and case-insensitive:
//
//	LOOP: MOV LEFT, ACC   # read from the left neighbour
//	      ADD 0x10
//	      JGZ LOOP
//
// Values are signed 16-bit and wrap on overflow. Hex literals are read as
// 16-bit patterns, so 0xFFFF is -1.
package asm

import (
	"fmt"
	"strconv"
	"strings"
)

type Op uint8

const (
	NOP Op = iota
	MOV
	SWP
	SAV
	ADD
	SUB
	NEG
	NOT
	AND
	OR
	XOR
	SHL
	SHR
	JMP
	JEZ
	JNZ
	JGZ
	JLZ
	JRO
	HCF
)

var opNames = [...]string{"NOP", "MOV", "SWP", "SAV", "ADD", "SUB", "NEG", "NOT", "AND", "OR", "XOR", "SHL", "SHR", "JMP", "JEZ", "JNZ", "JGZ", "JLZ", "JRO", "HCF"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

type argShape uint8

const (
	argNone argShape = iota
	argSrc
	argSrcDst
	argLabel
)

var opShapes = [...]argShape{
	NOP: argNone, MOV: argSrcDst, SWP: argNone, SAV: argNone,
	ADD: argSrc, SUB: argSrc, NEG: argNone, NOT: argNone,
	AND: argSrc, OR: argSrc, XOR: argSrc, SHL: argSrc, SHR: argSrc,
	JMP: argLabel, JEZ: argLabel, JNZ: argLabel, JGZ: argLabel, JLZ: argLabel,
	JRO: argSrc, HCF: argNone,
}

// Target is where an operand reads from or writes to.
type Target uint8

const (
	Imm Target = iota
	ACC
	NIL
	UP
	DOWN
	LEFT
	RIGHT
	ANY
	LAST
)

var targetNames = map[string]Target{
	"ACC": ACC, "NIL": NIL, "UP": UP, "DOWN": DOWN,
	"LEFT": LEFT, "RIGHT": RIGHT, "ANY": ANY, "LAST": LAST,
}

func (t Target) String() string {
	for n, v := range targetNames {
		if v == t {
			return n
		}
	}
	return "IMM"
}

// IsPort reports whether reading or writing the target goes through the
// port fabric.
func (t Target) IsPort() bool { return t >= UP }

type Operand struct {
	Target Target
	Value  int16
}

type Instruction struct {
	Op   Op
	Src  Operand
	Dst  Operand
	Jump int
	Line int
}

type Program struct {
	Source       string
	Instructions []Instruction
}

type Limits struct {
	MaxLines   int
	MaxColumns int
}

// Error is a program error with a 1-based source location.
type Error struct {
	Line   int
	Column int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

type token struct {
	text string
	col  int
}

type pendingJump struct {
	index int
	label token
	line  int
}

// Parse assembles source. Zero limits disable the corresponding check.
func Parse(source string, lim Limits) (*Program, error) {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	if lim.MaxLines > 0 && len(lines) > lim.MaxLines {
		return nil, &Error{Line: lim.MaxLines + 1, Column: 1, Msg: fmt.Sprintf("program has more than %d lines", lim.MaxLines)}
	}

	p := &Program{Source: source}
	labels := map[string]int{}
	var jumps []pendingJump

	for i, raw := range lines {
		lineNo := i + 1
		if lim.MaxColumns > 0 && len(raw) > lim.MaxColumns {
			return nil, &Error{Line: lineNo, Column: lim.MaxColumns + 1, Msg: fmt.Sprintf("line longer than %d columns", lim.MaxColumns)}
		}
		if k := strings.IndexByte(raw, '#'); k >= 0 {
			raw = raw[:k]
		}
		toks := tokenize(strings.ToUpper(raw))

		for len(toks) > 0 && strings.HasSuffix(toks[0].text, ":") {
			name := strings.TrimSuffix(toks[0].text, ":")
			if !validLabel(name) {
				return nil, &Error{Line: lineNo, Column: toks[0].col, Msg: fmt.Sprintf("invalid label %q", name)}
			}
			if _, dup := labels[name]; dup {
				return nil, &Error{Line: lineNo, Column: toks[0].col, Msg: fmt.Sprintf("duplicate label %q", name)}
			}
			labels[name] = len(p.Instructions)
			toks = toks[1:]
		}
		if len(toks) == 0 {
			continue
		}

		ins, jump, err := parseInstruction(toks, lineNo)
		if err != nil {
			return nil, err
		}
		if jump != nil {
			jumps = append(jumps, pendingJump{index: len(p.Instructions), label: *jump, line: lineNo})
		}
		p.Instructions = append(p.Instructions, ins)
	}

	for _, j := range jumps {
		target, ok := labels[j.label.text]
		if !ok {
			return nil, &Error{Line: j.line, Column: j.label.col, Msg: fmt.Sprintf("undefined label %q", j.label.text)}
		}
		if target >= len(p.Instructions) {
			target = 0
		}
		p.Instructions[j.index].Jump = target
	}
	return p, nil
}

func parseInstruction(toks []token, line int) (Instruction, *token, error) {
	ins := Instruction{Line: line}
	op, ok := parseOp(toks[0].text)
	if !ok {
		return ins, nil, &Error{Line: line, Column: toks[0].col, Msg: fmt.Sprintf("unknown instruction %q", toks[0].text)}
	}
	ins.Op = op
	args := toks[1:]

	want := map[argShape]int{argNone: 0, argSrc: 1, argSrcDst: 2, argLabel: 1}[opShapes[op]]
	if len(args) != want {
		col := toks[0].col
		if len(args) > want {
			col = args[want].col
		}
		return ins, nil, &Error{Line: line, Column: col, Msg: fmt.Sprintf("%s expects %d operand(s), got %d", op, want, len(args))}
	}

	switch opShapes[op] {
	case argSrc:
		src, err := parseOperand(args[0], line)
		if err != nil {
			return ins, nil, err
		}
		ins.Src = src
	case argSrcDst:
		src, err := parseOperand(args[0], line)
		if err != nil {
			return ins, nil, err
		}
		dst, err := parseOperand(args[1], line)
		if err != nil {
			return ins, nil, err
		}
		if dst.Target == Imm {
			return ins, nil, &Error{Line: line, Column: args[1].col, Msg: "cannot write to a literal"}
		}
		ins.Src, ins.Dst = src, dst
	case argLabel:
		if !validLabel(args[0].text) {
			return ins, nil, &Error{Line: line, Column: args[0].col, Msg: fmt.Sprintf("invalid label %q", args[0].text)}
		}
		return ins, &args[0], nil
	}
	return ins, nil, nil
}

func parseOp(s string) (Op, bool) {
	for i, n := range opNames {
		if n == s {
			return Op(i), true
		}
	}
	return 0, false
}

func parseOperand(t token, line int) (Operand, error) {
	if tgt, ok := targetNames[t.text]; ok {
		return Operand{Target: tgt}, nil
	}
	v, err := parseLiteral(t.text)
	if err != nil {
		return Operand{}, &Error{Line: line, Column: t.col, Msg: fmt.Sprintf("invalid operand %q", t.text)}
	}
	return Operand{Target: Imm, Value: v}, nil
}

func parseLiteral(s string) (int16, error) {
	if strings.HasPrefix(s, "0X") {
		u, err := strconv.ParseUint(s[2:], 16, 16)
		if err != nil {
			return 0, err
		}
		return int16(uint16(u)), nil
	}
	n, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return int16(n), nil
}

func validLabel(s string) bool {
	if s == "" {
		return false
	}
	if _, isTarget := targetNames[s]; isTarget {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func tokenize(s string) []token {
	var out []token
	start := -1
	for i := 0; i <= len(s); i++ {
		sep := i == len(s) || s[i] == ' ' || s[i] == '\t' || s[i] == ','
		if sep {
			if start >= 0 {
				out = append(out, token{text: s[start:i], col: start + 1})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
		if s[i] == ':' {
			out = append(out, token{text: s[start : i+1], col: start + 1})
			start = -1
		}
	}
	return out
}
