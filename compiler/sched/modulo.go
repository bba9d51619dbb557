package sched

import (
	"context"

	"github.com/samber/lo"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
)

type (
	// mrt is a modulo reservation table, one row per congruence class.
	mrt [][ir.NumSlots]bool
)

// Modulo builds a software pipelined schedule.
// The loop body is folded into Stages stages of II bundles each.
func Modulo(ctx context.Context, a *arch.Arch, t *df.Table) (s *Schedule, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "sched: modulo", "instrs", t.Len())
	defer tr.Finish("err", &err)

	s = newSchedule(t)

	err = s.placeASAP(a, t, t.PreLoop(), 0, s.at)
	if err != nil {
		return nil, errors.Wrap(err, "pre-loop")
	}

	s.BodyStart = len(s.Rows)

	body := t.Body()
	work := body[:len(body)-1]

	ii0 := MinII(work)

	for ii := ii0; ; ii++ {
		if ii > max(a.Limits.MaxII, ii0) {
			return nil, errors.Wrap(ErrSearchLimit, "initiation interval %d..%d", ii0, ii-1)
		}

		k, ok := s.tryKernel(a, t, work, ii)
		if !ok {
			tr.V("ii").Printw("kernel doesn't fit", "ii", ii)
			continue
		}

		s = k

		break
	}

	s.annotateStages()

	err = s.placeASAP(a, t, t.PostLoop(), s.BodyEnd, s.final(t))
	if err != nil {
		return nil, errors.Wrap(err, "post-loop")
	}

	tr.Printw("modulo schedule", "bundles", len(s.Rows), "ii", s.II, "stages", s.Stages, "min_ii", ii0)

	if tr.If("dump") {
		for _, r := range s.Rows {
			tr.Printw("row", "row", r)
		}
	}

	return s, nil
}

// MinII is the resource bound of the initiation interval
// for the loop body instructions, branch excluded.
func MinII(work []df.Entry) int {
	count := func(u ir.Unit) int {
		return lo.CountBy(work, func(e df.Entry) bool { return e.Instr.Unit() == u })
	}

	ii := 1

	for _, u := range []ir.Unit{ir.UnitALU, ir.UnitMul, ir.UnitMem} {
		n := len(u.Slots())

		ii = max(ii, (count(u)+n-1)/n)
	}

	return ii
}

// tryKernel places the body into ceil(len(work)/ii) stages of ii bundles.
func (s *Schedule) tryKernel(a *arch.Arch, t *df.Table, work []df.Entry, ii int) (k *Schedule, ok bool) {
	stages := max(1, (len(work)+ii-1)/ii)

	k = s.clone()
	start := k.BodyStart

	k.ensure(start+stages*ii, df.Body)

	rt := make(mrt, ii)

	k.put(t.BodyEnd, start+ii-1, ir.SlotBranch)
	rt[ii-1][ir.SlotBranch] = true

	last := 0

	for i := range work {
		e := &work[i]
		x := e.Instr

		b0 := earliest(a, t, e, start, k.at)

		b, sl, ok := rt.fit(x.Unit(), b0, start, stages)
		if !ok {
			tlog.V("kernel").Printw("no stage fits", "ii", ii, "stages", stages, "instr", x, "earliest", b0, "from", loc.Caller(1))
			return nil, false
		}

		k.put(x.Addr, b, sl)
		rt[(b-start)%ii][sl] = true

		last = max(last, (b-start)/ii)

		tlog.V("place").Printw("place", "addr", x.Addr, "instr", x, "earliest", b0, "bundle", b, "stage", (b-start)/ii, "slot", sl)
	}

	k.II = ii
	k.Stages = last + 1
	k.BodyEnd = start + k.Stages*ii
	k.Rows = k.Rows[:k.BodyEnd]

	if p, c, bad := k.moduloViolation(a, t, ii, k.BodyEnd); bad {
		tlog.V("kernel").Printw("modulo constraint", "ii", ii, "producer", t.Instr(p), "consumer", t.Instr(c))
		return nil, false
	}

	return k, true
}

// fit finds the first stage where the unit is free at or after bundle b0.
func (rt mrt) fit(u ir.Unit, b0, start, stages int) (b int, sl ir.Slot, ok bool) {
	ii := len(rt)

	for st := 0; st < stages; st++ {
		first := start + st*ii
		end := first + ii

		for b = max(b0, first); b < end; b++ {
			for _, sl = range u.Slots() {
				if !rt[(b-start)%ii][sl] {
					return b, sl, true
				}
			}
		}
	}

	return 0, 0, false
}

// final returns the time post-loop consumers see a body producer at:
// its position in the last kernel pass.
func (s *Schedule) final(t *df.Table) func(ir.Addr) int {
	last := s.BodyStart + (s.Stages-1)*s.II

	return func(a ir.Addr) int {
		b := s.Bundle[a]

		if t.Region(a) != df.Body {
			return b
		}

		return last + (b-s.BodyStart)%s.II
	}
}
