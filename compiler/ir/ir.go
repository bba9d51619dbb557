package ir

import (
	"fmt"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog/tlwire"
)

type (
	Addr int

	Op   uint8
	Kind uint8

	MovKind uint8

	Unit uint8
	Slot uint8

	// Instr is a closed tagged variant: Op selects which fields are meaningful.
	//
	//	add, sub, mulu  Dst, Src[0], Src[1]
	//	addi            Dst, Src[0], Imm
	//	ld              Dst, Imm(Src[0])
	//	st              Src[0], Imm(Src[1])
	//	loop, loop.pip  Imm (target)
	//	mov             Dst, Src[0] or Imm, see MovKind
	//	nop
	//
	// Instructions are values. Later phases replace registers by making a copy.
	Instr struct {
		Addr Addr

		Op  Op
		Mov MovKind

		Dst Reg
		Src [2]Reg
		Imm int64

		Pred Reg // predicate guard, NoReg if unconditional
	}
)

const NoAddr Addr = -1

const (
	OpNop Op = iota
	OpAdd
	OpAddi
	OpSub
	OpMulu
	OpLd
	OpSt
	OpLoop
	OpLoopPip
	OpMov
)

const (
	KindNop Kind = iota
	KindArith
	KindMem
	KindLoop
	KindMov
)

const (
	MovPred MovKind = iota
	MovSpecialImm
	MovImm
	MovReg
)

const (
	UnitALU Unit = iota
	UnitMul
	UnitMem
	UnitBranch
)

const (
	SlotALU0 Slot = iota
	SlotALU1
	SlotMul
	SlotMem
	SlotBranch

	NumSlots = 5
)

var opNames = [...]string{
	OpNop:     "nop",
	OpAdd:     "add",
	OpAddi:    "addi",
	OpSub:     "sub",
	OpMulu:    "mulu",
	OpLd:      "ld",
	OpSt:      "st",
	OpLoop:    "loop",
	OpLoopPip: "loop.pip",
	OpMov:     "mov",
}

var slotNames = [NumSlots]string{"ALU0", "ALU1", "Mult", "Mem", "Branch"}

var unitSlots = [...][]Slot{
	UnitALU:    {SlotALU0, SlotALU1},
	UnitMul:    {SlotMul},
	UnitMem:    {SlotMem},
	UnitBranch: {SlotBranch},
}

func LookupOp(name string) (Op, bool) {
	for op, n := range opNames {
		if n == name {
			return Op(op), true
		}
	}

	return OpNop, false
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}

	return fmt.Sprintf("op(%d)", uint8(op))
}

func (op Op) Kind() Kind {
	switch op {
	case OpAdd, OpAddi, OpSub, OpMulu:
		return KindArith
	case OpLd, OpSt:
		return KindMem
	case OpLoop, OpLoopPip:
		return KindLoop
	case OpMov:
		return KindMov
	case OpNop:
		return KindNop
	}

	panic(op)
}

func (op Op) Unit() Unit {
	switch op {
	case OpMulu:
		return UnitMul
	case OpLd, OpSt:
		return UnitMem
	case OpLoop, OpLoopPip:
		return UnitBranch
	case OpAdd, OpAddi, OpSub, OpMov, OpNop:
		return UnitALU
	}

	panic(op)
}

func (u Unit) Slots() []Slot { return unitSlots[u] }

func (u Unit) String() string {
	switch u {
	case UnitALU:
		return "ALU"
	case UnitMul:
		return "Mult"
	case UnitMem:
		return "Mem"
	case UnitBranch:
		return "Branch"
	}

	return fmt.Sprintf("unit(%d)", uint8(u))
}

func (s Slot) String() string { return slotNames[s] }

func (s Slot) Unit() Unit {
	switch s {
	case SlotALU0, SlotALU1:
		return UnitALU
	case SlotMul:
		return UnitMul
	case SlotMem:
		return UnitMem
	case SlotBranch:
		return UnitBranch
	}

	panic(s)
}

func Nop() Instr {
	return Instr{Addr: NoAddr, Pred: NoReg}
}

func Arith(addr Addr, op Op, dst, a, b Reg) Instr {
	return Instr{Addr: addr, Op: op, Dst: dst, Src: [2]Reg{a, b}, Pred: NoReg}
}

func ArithImm(addr Addr, dst, a Reg, imm int64) Instr {
	return Instr{Addr: addr, Op: OpAddi, Dst: dst, Src: [2]Reg{a, NoReg}, Imm: imm, Pred: NoReg}
}

func Load(addr Addr, dst Reg, imm int64, base Reg) Instr {
	return Instr{Addr: addr, Op: OpLd, Dst: dst, Src: [2]Reg{base, NoReg}, Imm: imm, Pred: NoReg}
}

func Store(addr Addr, val Reg, imm int64, base Reg) Instr {
	return Instr{Addr: addr, Op: OpSt, Dst: NoReg, Src: [2]Reg{val, base}, Imm: imm, Pred: NoReg}
}

func Loop(addr Addr, op Op, target int64) Instr {
	return Instr{Addr: addr, Op: op, Dst: NoReg, Src: [2]Reg{NoReg, NoReg}, Imm: target, Pred: NoReg}
}

func Move(addr Addr, kind MovKind, dst Reg, src Reg, imm int64) Instr {
	return Instr{Addr: addr, Op: OpMov, Mov: kind, Dst: dst, Src: [2]Reg{src, NoReg}, Imm: imm, Pred: NoReg}
}

func (x Instr) IsNop() bool { return x.Op == OpNop }

func (x Instr) Unit() Unit { return x.Op.Unit() }

// Dest returns the register written by x.
func (x Instr) Dest() (Reg, bool) {
	switch x.Op {
	case OpAdd, OpAddi, OpSub, OpMulu, OpLd, OpMov:
		return x.Dst, true
	}

	return NoReg, false
}

func (x Instr) NumSources() int {
	switch x.Op {
	case OpAdd, OpSub, OpMulu, OpSt:
		return 2
	case OpAddi, OpLd:
		return 1
	case OpMov:
		if x.Mov == MovReg {
			return 1
		}
	}

	return 0
}

// Sources returns the registers read by x, nil if none.
func (x Instr) Sources() []Reg {
	n := x.NumSources()
	if n == 0 {
		return nil
	}

	return x.Src[:n:n]
}

// WithRegs returns a copy of x with its destination and sources replaced.
// Registers x doesn't have are ignored.
func (x Instr) WithRegs(dst Reg, src ...Reg) Instr {
	if _, ok := x.Dest(); ok {
		x.Dst = dst
	}

	for i := 0; i < x.NumSources() && i < len(src); i++ {
		x.Src[i] = src[i]
	}

	return x
}

func (x Instr) WithDest(dst Reg) Instr {
	if _, ok := x.Dest(); ok {
		x.Dst = dst
	}

	return x
}

func (x Instr) WithSources(src ...Reg) Instr {
	for i := 0; i < x.NumSources() && i < len(src); i++ {
		x.Src[i] = src[i]
	}

	return x
}

func (x Instr) WithPred(p Reg) Instr {
	x.Pred = p
	return x
}

func (x Instr) String() string {
	return string(x.AppendText(nil))
}

func (x Instr) AppendText(b []byte) []byte {
	if x.Pred != NoReg && !x.IsNop() {
		b = hfmt.Appendf(b, "(%v) ", x.Pred)
	}

	switch x.Op {
	case OpNop:
		return append(b, "nop"...)
	case OpAdd, OpSub, OpMulu:
		return hfmt.Appendf(b, "%v %v, %v, %v", x.Op, x.Dst, x.Src[0], x.Src[1])
	case OpAddi:
		return hfmt.Appendf(b, "%v %v, %v, %d", x.Op, x.Dst, x.Src[0], x.Imm)
	case OpLd:
		return hfmt.Appendf(b, "%v %v, %d(%v)", x.Op, x.Dst, x.Imm, x.Src[0])
	case OpSt:
		return hfmt.Appendf(b, "%v %v, %d(%v)", x.Op, x.Src[0], x.Imm, x.Src[1])
	case OpLoop, OpLoopPip:
		return hfmt.Appendf(b, "%v %d", x.Op, x.Imm)
	case OpMov:
		switch x.Mov {
		case MovPred:
			return hfmt.Appendf(b, "mov %v, %v", x.Dst, x.Imm != 0)
		case MovReg:
			return hfmt.Appendf(b, "mov %v, %v", x.Dst, x.Src[0])
		default:
			return hfmt.Appendf(b, "mov %v, %d", x.Dst, x.Imm)
		}
	}

	panic(x.Op)
}

func (x Instr) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%d:%v", int(x.Addr), x)
}
