package ir

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"
)

// Reg is a register id.
// General purpose registers are 0..255, predicates are 256..511,
// special registers follow.
type Reg int

const (
	NoReg Reg = -1

	predBase    Reg = 256
	specialBase Reg = 512
)

const (
	LC Reg = specialBase + iota
	EC
)

func X(n int) Reg { return Reg(n) }
func P(n int) Reg { return predBase + Reg(n) }

func (r Reg) IsGP() bool      { return r >= 0 && r < predBase }
func (r Reg) IsPred() bool    { return r >= predBase && r < specialBase }
func (r Reg) IsSpecial() bool { return r >= specialBase }

// Num is the register number inside its file.
func (r Reg) Num() int {
	switch {
	case r.IsGP():
		return int(r)
	case r.IsPred():
		return int(r - predBase)
	}

	return int(r - specialBase)
}

func (r Reg) String() string {
	switch {
	case r == NoReg:
		return "-"
	case r.IsGP():
		return fmt.Sprintf("x%d", int(r))
	case r.IsPred():
		return fmt.Sprintf("p%d", int(r-predBase))
	case r == LC:
		return "LC"
	case r == EC:
		return "EC"
	}

	return fmt.Sprintf("reg(%d)", int(r))
}

func (r Reg) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, r.String())
}
