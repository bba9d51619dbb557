package sched

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
)

type (
	// Row is one bundle.
	// Stage and Canon are -1 unless the row is a part of a pipelined loop body.
	// Canon is the first bundle of the congruence class of the row.
	Row struct {
		Addr   int
		Region df.Region
		Slots  [ir.NumSlots]ir.Addr

		Stage int
		Canon int
	}

	Schedule struct {
		Rows []Row

		II     int
		Stages int // 0 if the loop is not pipelined

		// Loop body bundles are [BodyStart, BodyEnd).
		BodyStart int
		BodyEnd   int

		// Bundle and Slot are indexed by instruction address.
		Bundle []int
		Slot   []ir.Slot
	}
)

var ErrSearchLimit = errors.New("search limit exceeded")

func newSchedule(t *df.Table) *Schedule {
	s := &Schedule{
		Bundle: make([]int, t.Len()),
		Slot:   make([]ir.Slot, t.Len()),
	}

	for i := range s.Bundle {
		s.Bundle[i] = -1
	}

	return s
}

func newRow(addr int, r df.Region) Row {
	x := Row{
		Addr:   addr,
		Region: r,
		Stage:  -1,
		Canon:  -1,
	}

	for i := range x.Slots {
		x.Slots[i] = ir.NoAddr
	}

	return x
}

func (s *Schedule) clone() *Schedule {
	return &Schedule{
		Rows:      append([]Row{}, s.Rows...),
		II:        s.II,
		Stages:    s.Stages,
		BodyStart: s.BodyStart,
		BodyEnd:   s.BodyEnd,
		Bundle:    append([]int{}, s.Bundle...),
		Slot:      append([]ir.Slot{}, s.Slot...),
	}
}

// Pipelined reports whether the loop body is modulo scheduled.
func (s *Schedule) Pipelined() bool { return s.Stages != 0 }

// LoopBundle is the bundle holding the loop instruction.
func (s *Schedule) LoopBundle(t *df.Table) int { return s.Bundle[t.BodyEnd] }

// Stage returns the pipeline stage of a loop body instruction.
func (s *Schedule) Stage(a ir.Addr) int {
	return (s.Bundle[a] - s.BodyStart) / s.II
}

func (s *Schedule) ensure(n int, r df.Region) {
	for len(s.Rows) < n {
		s.Rows = append(s.Rows, newRow(len(s.Rows), r))
	}
}

func (s *Schedule) put(a ir.Addr, row int, slot ir.Slot) {
	if s.Rows[row].Slots[slot] != ir.NoAddr {
		panic(errors.New("bundle %d slot %v is taken by %d, placing %d", row, slot, s.Rows[row].Slots[slot], a))
	}

	s.Rows[row].Slots[slot] = a
	s.Bundle[a] = row
	s.Slot[a] = slot
}

func (r *Row) free(u ir.Unit) (ir.Slot, bool) {
	for _, sl := range u.Slots() {
		if r.Slots[sl] == ir.NoAddr {
			return sl, true
		}
	}

	return 0, false
}

// Empty reports whether no slot of the row is used.
func (r *Row) Empty() bool {
	for _, a := range r.Slots {
		if a != ir.NoAddr {
			return false
		}
	}

	return true
}

func (s *Schedule) at(a ir.Addr) int { return s.Bundle[a] }

// earliest is the first bundle at which all values e reads are ready.
// Interloop producers inside the body are checked by the modulo constraint instead.
func earliest(a *arch.Arch, t *df.Table, e *df.Entry, start int, at func(ir.Addr) int) int {
	b := start

	dep := func(d df.Dep) {
		b = max(b, at(d.Addr)+a.Lat(t.Instr(d.Addr).Op))
	}

	for _, d := range e.Local {
		dep(d)
	}

	for _, d := range e.Invariant {
		dep(d)
	}

	for _, d := range e.PostLoop {
		dep(d)
	}

	for _, d := range e.Interloop {
		if t.Region(d.Addr) == df.PreLoop {
			dep(d)
		}
	}

	return b
}

// placeASAP puts each instruction into the first bundle not earlier than
// its dependencies allow which has the required unit free.
func (s *Schedule) placeASAP(a *arch.Arch, t *df.Table, es []df.Entry, start int, at func(ir.Addr) int) error {
	for i := range es {
		e := &es[i]
		x := e.Instr

		b0 := earliest(a, t, e, start, at)

		for b := b0; ; b++ {
			if b-b0 > a.Limits.MaxGrow {
				return errors.Wrap(ErrSearchLimit, "place %v", x)
			}

			s.ensure(b+1, e.Region)

			sl, ok := s.Rows[b].free(x.Unit())
			if !ok {
				continue
			}

			s.put(x.Addr, b, sl)

			tlog.V("place").Printw("place", "addr", x.Addr, "instr", x, "earliest", b0, "bundle", b, "slot", sl, "from", loc.Caller(1))

			break
		}
	}

	return nil
}

// moduloViolation checks S(P) + λ(P) ≤ S(C) + II for
// loop body interloop producer/consumer pairs and for
// ordered pairs of body instructions occupying the same slot.
func (s *Schedule) moduloViolation(a *arch.Arch, t *df.Table, ii, end int) (p, c ir.Addr, bad bool) {
	holds := func(p, c ir.Addr) bool {
		return s.Bundle[p]+a.Lat(t.Instr(p).Op) <= s.Bundle[c]+ii
	}

	for _, e := range t.Body() {
		for _, d := range e.Interloop {
			if t.Region(d.Addr) != df.Body {
				continue
			}

			if !holds(d.Addr, e.Instr.Addr) {
				return d.Addr, e.Instr.Addr, true
			}
		}
	}

	var bySlot [ir.NumSlots][]ir.Addr

	for b := s.BodyStart; b < end; b++ {
		for sl, x := range s.Rows[b].Slots {
			if x != ir.NoAddr {
				bySlot[sl] = append(bySlot[sl], x)
			}
		}
	}

	for _, l := range bySlot {
		for i, p := range l {
			for _, c := range l[i+1:] {
				if !holds(p, c) {
					return p, c, true
				}
			}
		}
	}

	return ir.NoAddr, ir.NoAddr, false
}

func (s *Schedule) annotateStages() {
	for b := s.BodyStart; b < s.BodyEnd; b++ {
		off := b - s.BodyStart

		s.Rows[b].Stage = off / s.II
		s.Rows[b].Canon = s.BodyStart + off%s.II
	}
}

func (r Row) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, -1)

	b = e.AppendKeyInt(b, "addr", r.Addr)

	if r.Stage >= 0 {
		b = e.AppendKeyInt(b, "stage", r.Stage)
		b = e.AppendKeyInt(b, "canon", r.Canon)
	}

	for sl, a := range r.Slots {
		if a == ir.NoAddr {
			continue
		}

		b = e.AppendKeyInt(b, ir.Slot(sl).String(), int(a))
	}

	b = e.AppendBreak(b)

	return b
}
