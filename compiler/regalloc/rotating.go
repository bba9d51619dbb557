package regalloc

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/sched"
)

type (
	rotating struct {
		a *arch.Arch
		t *df.Table
		s *sched.Schedule

		at   *Table
		pool *pool

		dst    map[ir.Addr]ir.Reg
		liveIn map[ir.Reg]ir.Reg
	}
)

// Rotating allocates registers for a pipelined schedule.
// Loop body values live in the rotating window, a name read by a consumer
// is the producer name shifted by the number of stages between them.
func Rotating(ctx context.Context, a *arch.Arch, t *df.Table, s *sched.Schedule) (at *Table, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "regalloc: rotating", "bundles", len(s.Rows), "stages", s.Stages, "ii", s.II)
	defer tr.Finish("err", &err)

	if !s.Pipelined() {
		return nil, errors.New("rotating allocation of a non-pipelined schedule")
	}

	r := newRotating(a, t, s)

	err = r.assignBody()
	if err != nil {
		return nil, errors.Wrap(err, "assign loop body")
	}

	err = r.assignOuter()
	if err != nil {
		return nil, errors.Wrap(err, "assign")
	}

	err = r.link()
	if err != nil {
		return nil, errors.Wrap(err, "link")
	}

	b := s.LoopBundle(t)
	r.at.Rows[b].Slots[ir.SlotBranch].Imm = int64(s.BodyStart)

	if tr.If("dump") {
		for _, x := range r.at.Renamed {
			tr.Printw("renamed", "reg", x)
		}

		for _, x := range r.at.Rows {
			tr.Printw("row", "row", x)
		}
	}

	return r.at, nil
}

func newRotating(a *arch.Arch, t *df.Table, s *sched.Schedule) *rotating {
	return &rotating{
		a:      a,
		t:      t,
		s:      s,
		at:     newTable(t, s),
		pool:   newPool(a.Regs.Fresh),
		dst:    map[ir.Addr]ir.Reg{},
	}
}

// assignBody gives body producers rotating names Stages+1 apart,
// so every value can be read by all later stages and the next iteration.
func (r *rotating) assignBody() error {
	rot := r.a.Regs.Rotating
	step := r.s.Stages + 1
	k := 0

	for b := r.s.BodyStart; b < r.s.BodyEnd; b++ {
		for _, x := range r.at.Rows[b].Slots {
			if x.IsNop() {
				continue
			}

			if d, ok := x.Dest(); !ok || !d.IsGP() {
				continue
			}

			if (k+1)*step > rot.Size {
				return errors.Wrap(ErrOutOfRegisters, "rotating window x%d..x%d: %d values of %d stages", rot.Base, rot.End()-1, k+1, r.s.Stages)
			}

			n := ir.X(rot.Base + k*step)
			k++

			r.dst[x.Addr] = n
			r.at.rename(r.t, x.Addr, n)
		}
	}

	return nil
}

// assignOuter gives pre-loop and post-loop producers and live-in registers
// non-rotating registers. Pre-loop producers of values carried around
// the back edge write the rotating name the first iteration reads.
func (r *rotating) assignOuter() (err error) {
	init := map[ir.Addr]ir.Addr{}

	for _, il := range r.t.Interloops() {
		if il.Init != ir.NoAddr {
			init[il.Init] = il.Body
		}
	}

	for b, row := range r.at.Rows {
		if b >= r.s.BodyStart && b < r.s.BodyEnd {
			continue
		}

		for _, x := range row.Slots {
			if x.IsNop() {
				continue
			}

			if d, ok := x.Dest(); !ok || !d.IsGP() {
				continue
			}

			var n ir.Reg

			if body, ok := init[x.Addr]; ok {
				n = r.shift(r.dst[body], 1-r.s.Stage(body))
			} else {
				n, err = r.pool.alloc()
				if err != nil {
					return errors.Wrap(err, "rename %v", x)
				}
			}

			r.dst[x.Addr] = n
			r.at.rename(r.t, x.Addr, n)
		}
	}

	r.liveIn, err = r.pool.liveIns(r.t)

	return err
}

func (r *rotating) link() error {
	for b := range r.at.Rows {
		row := &r.at.Rows[b]

		for sl, x := range row.Slots {
			if x.IsNop() || x.Addr == ir.NoAddr || x.Op.Kind() == ir.KindLoop {
				continue
			}

			y, err := r.linkInstr(x.Addr)
			if err != nil {
				return err
			}

			row.Slots[sl] = y
		}
	}

	return nil
}

func (r *rotating) linkInstr(a ir.Addr) (ir.Instr, error) {
	e := r.t.Entry(a)
	x := e.Instr

	src := x.Sources()
	regs := make([]ir.Reg, len(src))

	for i, reg := range src {
		n, err := r.source(e, reg)
		if err != nil {
			return x, errors.Wrap(err, "link %v", x)
		}

		regs[i] = n
	}

	y := x.WithSources(regs...)

	if n, ok := r.dst[a]; ok {
		y = y.WithDest(n)
	}

	return y, nil
}

func (r *rotating) source(e *df.Entry, reg ir.Reg) (ir.Reg, error) {
	c := e.Instr.Addr

	for _, d := range e.Local {
		if d.Reg != reg {
			continue
		}

		if e.Region != df.Body {
			return r.renamed(d.Addr), nil
		}

		return r.shift(r.renamed(d.Addr), r.s.Stage(c)-r.s.Stage(d.Addr)), nil
	}

	for _, d := range e.Interloop {
		if d.Reg != reg {
			continue
		}

		_, body := e.InterloopPair(r.t, reg)

		return r.shift(r.renamed(body), r.s.Stage(c)-r.s.Stage(body)+1), nil
	}

	for _, d := range e.Invariant {
		if d.Reg == reg {
			return r.renamed(d.Addr), nil
		}
	}

	for _, d := range e.PostLoop {
		if d.Reg == reg {
			return r.shift(r.renamed(d.Addr), r.s.Stages-1-r.s.Stage(d.Addr)), nil
		}
	}

	return liveIn(r.liveIn, reg), nil
}

func (r *rotating) renamed(a ir.Addr) ir.Reg {
	n, ok := r.dst[a]
	if !ok {
		panic(errors.New("producer %v has no register", r.t.Instr(a)))
	}

	return n
}

// shift moves a rotating name by d stages inside the window.
func (r *rotating) shift(n ir.Reg, d int) ir.Reg {
	return ir.X(r.a.Wrap(n.Num() + d))
}
