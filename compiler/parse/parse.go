package parse

import (
	"context"
	"encoding/json"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/ir"
)

type (
	OperandKind uint8

	Operand struct {
		Kind OperandKind
		Reg  ir.Reg
		Imm  int64
	}
)

const (
	OperandReg OperandKind = iota
	OperandImm
	OperandMem  // Imm(Reg)
	OperandBool // Imm is 0 or 1
)

var (
	ErrSyntax      = errors.New("syntax error")
	ErrUnsupported = errors.New("unsupported instruction")
	ErrOperands    = errors.New("bad operands")
)

// File reads a json array of instruction strings.
func File(ctx context.Context, name string) ([]ir.Instr, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(data), "name", name)

	var lines []string

	err = json.Unmarshal(data, &lines)
	if err != nil {
		return nil, errors.Wrap(err, "decode %v", name)
	}

	return Program(ctx, lines)
}

// Program parses instructions, address is the position in the list.
func Program(ctx context.Context, lines []string) (prog []ir.Instr, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "parse: program", "lines", len(lines))
	defer tr.Finish("err", &err)

	prog = make([]ir.Instr, len(lines))

	for i, l := range lines {
		prog[i], err = Instr([]byte(l), ir.Addr(i))
		if err != nil {
			return nil, errors.Wrap(err, "instruction %d: %q", i, l)
		}
	}

	return prog, nil
}

// Instr parses one instruction, optionally guarded by a predicate: (p33) add x1, x2, x3.
func Instr(b []byte, addr ir.Addr) (x ir.Instr, err error) {
	i := SpaceAll.Skip(b, 0)

	pred := ir.NoReg

	if i < len(b) && b[i] == '(' {
		pred, i, err = Reg(b, i+1)
		if err != nil || !pred.IsPred() {
			return x, errors.Wrap(ErrSyntax, "predicate expected at %d", i)
		}

		i, err = Const(b, i, ")")
		if err != nil {
			return x, errors.Wrap(err, "at %d", i)
		}

		i = SpaceAll.Skip(b, i)
	}

	name, i, err := Mnemonic(b, i)
	if err != nil {
		return x, errors.Wrap(err, "at %d", i)
	}

	op, ok := ir.LookupOp(string(name))
	if !ok {
		return x, errors.Wrap(ErrUnsupported, "%s", name)
	}

	ops, i, err := Operands(b, i)
	if err != nil {
		return x, errors.Wrap(err, "%s", name)
	}

	i = SpaceAll.Skip(b, i)
	if i != len(b) {
		return x, errors.Wrap(ErrSyntax, "unexpected %q", b[i:])
	}

	x, err = build(op, ops, addr)
	if err != nil {
		return x, errors.Wrap(err, "%s", name)
	}

	return x.WithPred(pred), nil
}

func build(op ir.Op, ops []Operand, addr ir.Addr) (x ir.Instr, err error) {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMulu:
		if !match(ops, OperandReg, OperandReg, OperandReg) || !gp(ops...) {
			break
		}

		return ir.Arith(addr, op, ops[0].Reg, ops[1].Reg, ops[2].Reg), nil
	case ir.OpAddi:
		if !match(ops, OperandReg, OperandReg, OperandImm) || !gp(ops[:2]...) {
			break
		}

		return ir.ArithImm(addr, ops[0].Reg, ops[1].Reg, ops[2].Imm), nil
	case ir.OpLd, ir.OpSt:
		if !match(ops, OperandReg, OperandMem) || !gp(ops...) {
			break
		}

		if op == ir.OpLd {
			return ir.Load(addr, ops[0].Reg, ops[1].Imm, ops[1].Reg), nil
		}

		return ir.Store(addr, ops[0].Reg, ops[1].Imm, ops[1].Reg), nil
	case ir.OpLoop, ir.OpLoopPip:
		if !match(ops, OperandImm) || ops[0].Imm < 0 {
			break
		}

		return ir.Loop(addr, op, ops[0].Imm), nil
	case ir.OpNop:
		if len(ops) != 0 {
			break
		}

		x = ir.Nop()
		x.Addr = addr

		return x, nil
	case ir.OpMov:
		if len(ops) != 2 || ops[0].Kind != OperandReg {
			break
		}

		d, s := ops[0], ops[1]

		switch {
		case d.Reg.IsPred() && s.Kind == OperandBool:
			return ir.Move(addr, ir.MovPred, d.Reg, ir.NoReg, s.Imm), nil
		case d.Reg.IsSpecial() && s.Kind == OperandImm:
			return ir.Move(addr, ir.MovSpecialImm, d.Reg, ir.NoReg, s.Imm), nil
		case d.Reg.IsGP() && s.Kind == OperandImm:
			return ir.Move(addr, ir.MovImm, d.Reg, ir.NoReg, s.Imm), nil
		case d.Reg.IsGP() && s.Kind == OperandReg && s.Reg.IsGP():
			return ir.Move(addr, ir.MovReg, d.Reg, s.Reg, 0), nil
		}
	default:
		panic(op)
	}

	return x, errors.Wrap(ErrOperands, "%d operands", len(ops))
}

// Operands parses a comma separated operand list.
func Operands(b []byte, st int) (ops []Operand, i int, err error) {
	i = SpaceTab.Skip(b, st)

	for i < len(b) {
		if len(ops) != 0 {
			i, err = Const(b, i, ",")
			if err != nil {
				return nil, i, errors.Wrap(err, "operand %d", len(ops))
			}

			i = SpaceTab.Skip(b, i)
		}

		var x Operand

		x, i, err = ParseOperand(b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "operand %d", len(ops))
		}

		ops = append(ops, x)

		i = SpaceTab.Skip(b, i)

		if i < len(b) && b[i] != ',' {
			break
		}
	}

	return ops, i, nil
}

func ParseOperand(b []byte, st int) (x Operand, i int, err error) {
	if r, i, err := Reg(b, st); err == nil {
		return Operand{Kind: OperandReg, Reg: r}, i, nil
	}

	if v, i, err := Bool(b, st); err == nil {
		x = Operand{Kind: OperandBool}
		if v {
			x.Imm = 1
		}

		return x, i, nil
	}

	imm, i, err := Int(b, st)
	if err != nil {
		return x, st, errors.Wrap(ErrSyntax, "operand expected at %d", st)
	}

	if i == len(b) || b[i] != '(' {
		return Operand{Kind: OperandImm, Imm: imm}, i, nil
	}

	r, i, err := Reg(b, i+1)
	if err != nil {
		return x, i, errors.Wrap(err, "memory operand")
	}

	i, err = Const(b, i, ")")
	if err != nil {
		return x, i, errors.Wrap(err, "memory operand")
	}

	return Operand{Kind: OperandMem, Reg: r, Imm: imm}, i, nil
}

func match(ops []Operand, kinds ...OperandKind) bool {
	if len(ops) != len(kinds) {
		return false
	}

	for i, k := range kinds {
		if ops[i].Kind != k {
			return false
		}
	}

	return true
}

func gp(ops ...Operand) bool {
	for _, o := range ops {
		if (o.Kind == OperandReg || o.Kind == OperandMem) && !o.Reg.IsGP() {
			return false
		}
	}

	return true
}
