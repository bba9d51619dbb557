package prep

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/regalloc"
)

// Loop turns a rotating register table into the executable form:
// stage counters are set up before the loop, body instructions are
// guarded by their stage predicate and the body is folded into a kernel.
// The argument is not modified.
func Loop(ctx context.Context, a *arch.Arch, at *regalloc.Table) (r *regalloc.Table, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "prep: loop", "bundles", len(at.Rows), "stages", at.Stages, "ii", at.II)
	defer tr.Finish("err", &err)

	if !at.Pipelined() {
		return nil, errors.New("loop is not pipelined")
	}

	r = at.Clone()

	setup := []ir.Instr{
		ir.Move(ir.NoAddr, ir.MovSpecialImm, ir.EC, ir.NoReg, int64(r.Stages-1)),
		ir.Move(ir.NoAddr, ir.MovPred, ir.P(a.Regs.PredBase), ir.NoReg, 1),
	}

	setup = setupPreLoop(r, setup)

	if len(setup) != 0 {
		row := regalloc.EmptyRow(0, df.PreLoop)

		for i, x := range setup {
			row.Slots[ir.SlotALU0+ir.Slot(i)] = x
		}

		r.Rows = append(r.Rows[:r.BodyStart:r.BodyStart], append([]regalloc.Row{row}, r.Rows[r.BodyStart:]...)...)
		r.BodyStart++
		r.BodyEnd++

		tr.V("setup").Printw("setup bundle inserted", "bundle", r.BodyStart-1)
	}

	kernel := fold(a, r)

	rows := make([]regalloc.Row, 0, r.BodyStart+len(kernel)+len(r.Rows)-r.BodyEnd)
	rows = append(rows, r.Rows[:r.BodyStart]...)
	rows = append(rows, kernel...)
	rows = append(rows, r.Rows[r.BodyEnd:]...)

	for i := range rows {
		rows[i].Addr = i
	}

	r.Rows = rows
	r.BodyEnd = r.BodyStart + len(kernel)

	tr.Printw("kernel folded", "bundles", len(r.Rows), "kernel", r.BodyStart)

	if tr.If("dump") {
		for _, x := range r.Rows {
			tr.Printw("row", "row", x)
		}
	}

	return r, nil
}

// setupPreLoop puts as many of instructions as fit into the last pre-loop bundle
// and returns the rest.
func setupPreLoop(r *regalloc.Table, setup []ir.Instr) []ir.Instr {
	if r.BodyStart == 0 {
		return setup
	}

	row := &r.Rows[r.BodyStart-1]

	for len(setup) != 0 {
		sl, ok := row.Free(ir.UnitALU)
		if !ok {
			break
		}

		row.Slots[sl] = setup[0]
		setup = setup[1:]
	}

	return setup
}

// fold merges congruent body bundles into II kernel bundles
// guarding every instruction by the predicate of its stage.
func fold(a *arch.Arch, r *regalloc.Table) []regalloc.Row {
	kernel := make([]regalloc.Row, r.II)

	for i := range kernel {
		kernel[i] = regalloc.EmptyRow(0, df.Body)
	}

	for b := r.BodyStart; b < r.BodyEnd; b++ {
		row := r.Rows[b]
		k := &kernel[(b-r.BodyStart)%r.II]

		for sl, x := range row.Slots {
			if x.IsNop() {
				continue
			}

			if x.Op.Kind() == ir.KindLoop {
				x.Op = ir.OpLoopPip
				x.Imm = int64(r.BodyStart)
			} else {
				x = x.WithPred(ir.P(a.Regs.PredBase + row.Stage))
			}

			if !k.Slots[sl].IsNop() {
				panic(errors.New("kernel bundle %d slot %v: %v and %v", (b-r.BodyStart)%r.II, ir.Slot(sl), k.Slots[sl], x))
			}

			k.Slots[sl] = x
		}
	}

	return kernel
}
