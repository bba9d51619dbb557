package regalloc

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/sched"
)

type (
	fresh struct {
		a *arch.Arch
		t *df.Table

		at   *Table
		pool *pool

		dst    map[ir.Addr]ir.Reg
		liveIn map[ir.Reg]ir.Reg
	}

	// fixup is an interloop copy waiting for a bundle.
	// dst is the register the next iteration reads the value from.
	fixup struct {
		df.Interloop

		dst   ir.Reg
		ready int
	}

	fixups struct {
		heap.Heap[fixup]
	}
)

// Fresh gives every produced value a new register of the fresh pool.
// Values living across the back edge are copied into the register
// the first iteration reads them from: the pre-loop producer's one,
// or the live-in register when nothing writes it before the loop.
func Fresh(ctx context.Context, a *arch.Arch, t *df.Table, s *sched.Schedule) (at *Table, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "regalloc: fresh", "bundles", len(s.Rows))
	defer tr.Finish("err", &err)

	if s.Pipelined() {
		return nil, errors.New("fresh allocation of a pipelined schedule")
	}

	f := newFresh(a, t, s)

	err = f.assign()
	if err != nil {
		return nil, errors.Wrap(err, "assign")
	}

	err = f.link()
	if err != nil {
		return nil, errors.Wrap(err, "link")
	}

	err = f.interloop(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "interloop")
	}

	f.retarget()

	if tr.If("dump") {
		for _, r := range f.at.Renamed {
			tr.Printw("renamed", "reg", r)
		}

		for _, r := range f.at.Rows {
			tr.Printw("row", "row", r)
		}
	}

	return f.at, nil
}

func newFresh(a *arch.Arch, t *df.Table, s *sched.Schedule) *fresh {
	return &fresh{
		a:      a,
		t:      t,
		at:     newTable(t, s),
		pool:   newPool(a.Regs.Fresh),
		dst:    map[ir.Addr]ir.Reg{},
	}
}

func (f *fresh) assign() error {
	for _, r := range f.at.Rows {
		for _, x := range r.Slots {
			if x.IsNop() {
				continue
			}

			if d, ok := x.Dest(); !ok || !d.IsGP() {
				continue
			}

			n, err := f.pool.alloc()
			if err != nil {
				return errors.Wrap(err, "rename %v", x)
			}

			f.dst[x.Addr] = n
			f.at.rename(f.t, x.Addr, n)
		}
	}

	var err error

	f.liveIn, err = f.pool.liveIns(f.t)

	return err
}

// link rewrites every original instruction from its dependency record.
// It always starts from the original form, so linking twice changes nothing.
func (f *fresh) link() error {
	for b := range f.at.Rows {
		r := &f.at.Rows[b]

		for sl, x := range r.Slots {
			if x.IsNop() || x.Addr == ir.NoAddr || x.Op.Kind() == ir.KindLoop {
				continue
			}

			y, err := f.linkInstr(x.Addr)
			if err != nil {
				return err
			}

			r.Slots[sl] = y
		}
	}

	return nil
}

func (f *fresh) linkInstr(a ir.Addr) (ir.Instr, error) {
	e := f.t.Entry(a)
	x := e.Instr

	src := x.Sources()
	regs := make([]ir.Reg, len(src))

	for i, r := range src {
		n, err := f.source(e, r)
		if err != nil {
			return x, errors.Wrap(err, "link %v", x)
		}

		regs[i] = n
	}

	y := x.WithSources(regs...)

	if n, ok := f.dst[a]; ok {
		y = y.WithDest(n)
	}

	return y, nil
}

func (f *fresh) source(e *df.Entry, r ir.Reg) (ir.Reg, error) {
	for _, l := range [][]df.Dep{e.Local, e.Invariant, e.PostLoop} {
		for _, d := range l {
			if d.Reg == r {
				return f.renamed(d.Addr), nil
			}
		}
	}

	for _, d := range e.Interloop {
		if d.Reg != r {
			continue
		}

		if init, _ := e.InterloopPair(f.t, r); init != ir.NoAddr {
			return f.renamed(init), nil
		}

		return liveIn(f.liveIn, r), nil
	}

	return liveIn(f.liveIn, r), nil
}

func (f *fresh) renamed(a ir.Addr) ir.Reg {
	n, ok := f.dst[a]
	if !ok {
		panic(errors.New("producer %v has no register", f.t.Instr(a)))
	}

	return n
}

// interloop inserts mov init, body for every value carried around the back edge.
// The copy is put into the last loop body bundle once the body value is ready,
// growing the body when needed.
func (f *fresh) interloop(ctx context.Context) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "regalloc: interloop copies")
	defer tr.Finish("err", &err)

	q := fixups{Heap: heap.Heap[fixup]{Less: fixupsLess}}

	for _, il := range f.t.Interloops() {
		dst := liveIn(f.liveIn, il.Reg)
		if il.Init != ir.NoAddr {
			dst = f.renamed(il.Init)
		}

		b, _, ok := f.at.Find(il.Body)
		if !ok {
			panic(il.Body)
		}

		q.Push(fixup{
			Interloop: il,
			dst:       dst,
			ready:     b + f.a.Lat(f.t.Instr(il.Body).Op),
		})
	}

	for grow := 0; q.Len() != 0; {
		j := q.Pop()

		loop := f.loopBundle()

		// rows are only inserted after the loop bundle, ready stays valid
		need := max(j.ready, loop)

		r := &f.at.Rows[loop]
		sl, ok := r.Free(ir.UnitALU)

		if need > loop || !ok {
			n := max(need-loop, 1)

			grow += n
			if grow > f.a.Limits.MaxGrow {
				return errors.Wrap(sched.ErrSearchLimit, "interloop copy of %v", j.Reg)
			}

			f.moveLoop(loop, n)
			loop += n

			r = &f.at.Rows[loop]
			sl = ir.SlotALU0
		}

		mov := ir.Move(ir.NoAddr, ir.MovReg, j.dst, f.renamed(j.Body), 0)

		r.Slots[sl] = mov

		tr.V("fixup").Printw("interloop copy", "reg", j.Reg, "mov", mov, "bundle", loop, "ready", j.ready)
	}

	f.at.II = f.loopBundle() - f.at.BodyStart + 1

	return nil
}

func (f *fresh) loopBundle() int {
	b, _, ok := f.at.Find(f.t.BodyEnd)
	if !ok {
		panic("no loop instruction")
	}

	return b
}

// moveLoop appends n bundles to the loop body and moves the branch to the last one.
func (f *fresh) moveLoop(loop, n int) {
	br := f.at.Rows[loop].Slots[ir.SlotBranch]
	f.at.Rows[loop].Slots[ir.SlotBranch] = ir.Nop()

	f.at.insertRows(loop, n)

	f.at.Rows[loop+n].Slots[ir.SlotBranch] = br
}

func (f *fresh) retarget() {
	b := f.loopBundle()
	x := &f.at.Rows[b].Slots[ir.SlotBranch]

	x.Imm = int64(f.at.BodyStart)
}

func fixupsLess(d []fixup, i, j int) bool {
	if d[i].ready != d[j].ready {
		return d[i].ready < d[j].ready
	}

	return d[i].Body < d[j].Body
}
