package regalloc

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/sched"
)

type (
	// Row is a bundle of register complete instructions.
	// Empty slots hold nop.
	Row struct {
		Addr   int
		Region df.Region

		Stage int
		Canon int

		Slots [ir.NumSlots]ir.Instr
	}

	// RenamedReg records a new register given to the value
	// produced by the instruction at Addr.
	RenamedReg struct {
		Addr   ir.Addr
		Region df.Region
		Old    ir.Reg
		New    ir.Reg
	}

	Table struct {
		Rows    []Row
		Renamed []RenamedReg

		II     int
		Stages int

		BodyStart int
		BodyEnd   int
	}

	// pool hands out registers of a contiguous range in order.
	pool struct {
		arch.Pool
		next int
	}
)

var ErrOutOfRegisters = errors.New("out of registers")

func newTable(t *df.Table, s *sched.Schedule) *Table {
	at := &Table{
		Rows:      make([]Row, len(s.Rows)),
		II:        s.II,
		Stages:    s.Stages,
		BodyStart: s.BodyStart,
		BodyEnd:   s.BodyEnd,
	}

	for i, r := range s.Rows {
		x := EmptyRow(r.Addr, r.Region)
		x.Stage = r.Stage
		x.Canon = r.Canon

		for sl, a := range r.Slots {
			if a != ir.NoAddr {
				x.Slots[sl] = t.Instr(a)
			}
		}

		at.Rows[i] = x
	}

	return at
}

// EmptyRow returns a bundle of nops.
func EmptyRow(addr int, r df.Region) Row {
	x := Row{
		Addr:   addr,
		Region: r,
		Stage:  -1,
		Canon:  -1,
	}

	for i := range x.Slots {
		x.Slots[i] = ir.Nop()
	}

	return x
}

// Clone returns a deep copy of the table.
func (at *Table) Clone() *Table {
	c := *at

	c.Rows = append([]Row{}, at.Rows...)
	c.Renamed = append([]RenamedReg{}, at.Renamed...)

	return &c
}

// Pipelined reports whether the table holds a modulo scheduled loop.
func (at *Table) Pipelined() bool { return at.Stages != 0 }

// Find returns the bundle and the slot of the instruction at address a.
func (at *Table) Find(a ir.Addr) (b int, sl ir.Slot, ok bool) {
	for b, r := range at.Rows {
		for sl, x := range r.Slots {
			if !x.IsNop() && x.Addr == a {
				return b, ir.Slot(sl), true
			}
		}
	}

	return -1, 0, false
}

// Instr returns the instruction at address a in its current form.
func (at *Table) Instr(a ir.Addr) ir.Instr {
	b, sl, ok := at.Find(a)
	if !ok {
		panic(errors.New("instruction %d is not in the table", a))
	}

	return at.Rows[b].Slots[sl]
}

// Renaming returns the register given to the value produced at a.
func (at *Table) Renaming(a ir.Addr) (ir.Reg, bool) {
	for _, r := range at.Renamed {
		if r.Addr == a {
			return r.New, true
		}
	}

	return ir.NoReg, false
}

func (at *Table) rename(t *df.Table, a ir.Addr, r ir.Reg) {
	old, _ := t.Instr(a).Dest()

	at.Renamed = append(at.Renamed, RenamedReg{
		Addr:   a,
		Region: t.Region(a),
		Old:    old,
		New:    r,
	})
}

// insertRows inserts n empty body rows after bundle b and renumbers the rows.
func (at *Table) insertRows(b, n int) {
	rows := make([]Row, 0, len(at.Rows)+n)

	rows = append(rows, at.Rows[:b+1]...)

	for i := 0; i < n; i++ {
		rows = append(rows, EmptyRow(0, df.Body))
	}

	rows = append(rows, at.Rows[b+1:]...)

	for i := range rows {
		rows[i].Addr = i
	}

	at.Rows = rows

	if b < at.BodyEnd {
		at.BodyEnd += n
	}
}

// Free returns a free slot of unit u.
func (r *Row) Free(u ir.Unit) (ir.Slot, bool) {
	for _, sl := range u.Slots() {
		if r.Slots[sl].IsNop() {
			return sl, true
		}
	}

	return 0, false
}

// Strings renders the bundle in slot order.
func (r *Row) Strings() (s [ir.NumSlots]string) {
	for i, x := range r.Slots {
		s[i] = x.String()
	}

	return s
}

func (r Row) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, -1)

	b = e.AppendKeyInt(b, "addr", r.Addr)

	if r.Stage >= 0 {
		b = e.AppendKeyInt(b, "stage", r.Stage)
	}

	for sl, x := range r.Slots {
		if x.IsNop() {
			continue
		}

		b = e.AppendKey(b, ir.Slot(sl).String())
		b = e.AppendString(b, x.String())
	}

	b = e.AppendBreak(b)

	return b
}

func (r RenamedReg) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%d:%v %v->%v", int(r.Addr), r.Region, r.Old, r.New)
}

func newPool(p arch.Pool) *pool {
	return &pool{Pool: p, next: p.Base}
}

func (p *pool) alloc() (ir.Reg, error) {
	if p.next >= p.End() {
		return ir.NoReg, errors.Wrap(ErrOutOfRegisters, "pool x%d..x%d", p.Base, p.End()-1)
	}

	r := ir.X(p.next)
	p.next++

	return r, nil
}

// liveIns gives every live-in register of t a register of the pool, in register order.
func (p *pool) liveIns(t *df.Table) (m map[ir.Reg]ir.Reg, err error) {
	m = map[ir.Reg]ir.Reg{}

	t.LiveIn.Range(func(r ir.Reg) bool {
		if !r.IsGP() {
			return true
		}

		var n ir.Reg

		n, err = p.alloc()
		if err != nil {
			err = errors.Wrap(err, "live-in %v", r)
			return false
		}

		tlog.V("live_in").Printw("live-in register", "reg", r, "new", n)

		m[r] = n

		return true
	})

	return m, err
}

// liveIn returns the register given to live-in r.
func liveIn(m map[ir.Reg]ir.Reg, r ir.Reg) ir.Reg {
	if !r.IsGP() {
		return r
	}

	n, ok := m[r]
	if !ok {
		panic(errors.New("%v is read before any write but is not live-in", r))
	}

	return n
}
