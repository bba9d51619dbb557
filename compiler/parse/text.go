package parse

import (
	"bytes"

	"tlog.app/go/errors"

	"github.com/slowlang/vliw/compiler/ir"
)

// Const matches a literal prefix.
func Const(b []byte, st int, p string) (i int, err error) {
	if bytes.HasPrefix(b[st:], []byte(p)) {
		return st + len(p), nil
	}

	return st, errors.Wrap(ErrSyntax, "%q expected", p)
}

// Mnemonic parses an instruction name like add or loop.pip.
func Mnemonic(b []byte, st int) (x []byte, i int, err error) {
	i = st

	for i < len(b) {
		c := b[i]

		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i != st && (c >= '0' && c <= '9' || c == '.') {
			i++
			continue
		}

		break
	}

	if i == st {
		return nil, st, errors.Wrap(ErrSyntax, "mnemonic expected")
	}

	return b[st:i], i, nil
}

// Reg parses xN, pN, LC or EC.
func Reg(b []byte, st int) (r ir.Reg, i int, err error) {
	if i, err = Const(b, st, "LC"); err == nil {
		return ir.LC, i, nil
	}

	if i, err = Const(b, st, "EC"); err == nil {
		return ir.EC, i, nil
	}

	if st == len(b) || b[st] != 'x' && b[st] != 'p' {
		return ir.NoReg, st, errors.Wrap(ErrSyntax, "register expected")
	}

	i = st + 1
	dst := i

	n := 0

	for i < len(b) && b[i] >= '0' && b[i] <= '9' && i-dst < 4 {
		n = n*10 + int(b[i]-'0')
		i++
	}

	if i == dst || i < len(b) && b[i] >= '0' && b[i] <= '9' {
		return ir.NoReg, st, errors.Wrap(ErrSyntax, "register number expected")
	}

	r = ir.X(n)
	ok := r.IsGP()

	if b[st] == 'p' {
		r = ir.P(n)
		ok = r.IsPred()
	}

	if !ok {
		return ir.NoReg, st, errors.Wrap(ErrSyntax, "register %c%d is out of range", b[st], n)
	}

	return r, i, nil
}

// Bool parses true or false.
func Bool(b []byte, st int) (x bool, i int, err error) {
	if i, err = Const(b, st, "true"); err == nil {
		return true, i, nil
	}

	if i, err = Const(b, st, "false"); err == nil {
		return false, i, nil
	}

	return false, st, errors.Wrap(ErrSyntax, "bool expected")
}
