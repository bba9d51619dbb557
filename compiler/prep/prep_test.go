package prep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/parse"
	"github.com/slowlang/vliw/compiler/regalloc"
	"github.com/slowlang/vliw/compiler/sched"
)

const nop = "nop"

func rotating(t *testing.T, a *arch.Arch, lines []string) (*df.Table, *regalloc.Table) {
	t.Helper()

	ctx := context.Background()

	prog, err := parse.Program(ctx, lines)
	require.NoError(t, err)

	tab, err := df.Analyze(ctx, prog)
	require.NoError(t, err)

	s, err := sched.Modulo(ctx, a, tab)
	require.NoError(t, err)

	at, err := regalloc.Rotating(ctx, a, tab, s)
	require.NoError(t, err)

	return tab, at
}

func render(at *regalloc.Table) (r [][ir.NumSlots]string) {
	for _, row := range at.Rows {
		r = append(r, row.Strings())
	}

	return r
}

func TestLoopSetupBundle(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()

	_, at := rotating(t, a, []string{
		"mov LC, 100",
		"mov x2, 3",
		"mov x3, 1",
		"mulu x3, x3, x2",
		"addi x4, x3, 1",
		"loop 3",
		"st x4, 0(x2)",
	})

	before := at.Clone()

	r, err := Loop(ctx, a, at)
	require.NoError(t, err)

	assert.Equal(t, [][ir.NumSlots]string{
		{"mov LC, 100", "mov x1, 3", nop, nop, nop},
		{"mov x33, 1", "mov EC, 0", nop, nop, nop},
		{"mov p32, true", nop, nop, nop, nop},
		{nop, nop, "(p32) mulu x32, x33, x1", nop, nop},
		{nop, nop, nop, nop, nop},
		{nop, nop, nop, nop, nop},
		{"(p32) addi x34, x32, 1", nop, nop, nop, "loop.pip 3"},
		{nop, nop, nop, "st x34, 0(x1)", nop},
	}, render(r))

	assert.Equal(t, 3, r.BodyStart)
	assert.Equal(t, 7, r.BodyEnd)
	assert.Equal(t, 4, r.II)

	for i, row := range r.Rows {
		assert.Equal(t, i, row.Addr)
	}

	assert.Equal(t, before, at, "argument is not modified")
}

func TestLoopTwoStages(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()

	_, at := rotating(t, a, []string{
		"mov LC, 10",
		"mov x1, 5",
		"ld x2, 0(x1)",
		"mulu x3, x2, x1",
		"addi x4, x3, x1",
		"st x4, 0(x1)",
		"loop 2",
	})

	r, err := Loop(ctx, a, at)
	require.NoError(t, err)

	assert.Equal(t, [][ir.NumSlots]string{
		{"mov LC, 10", "mov x1, 5", nop, nop, nop},
		{"mov EC, 1", "mov p32, true", nop, nop, nop},
		{nop, nop, nop, "(p32) ld x32, 0(x1)", nop},
		{"(p33) addi x38, x36, x1", nop, "(p32) mulu x35, x32, x1", nop, nop},
		{nop, nop, nop, "(p33) st x38, 0(x1)", "loop.pip 2"},
	}, render(r))

	assert.Equal(t, 2, r.BodyStart)
	assert.Equal(t, 5, r.BodyEnd)
	assert.Equal(t, 3, r.II)
}

func TestLoopSetupFits(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()

	_, at := rotating(t, a, []string{
		"ld x1, 0(x2)",
		"addi x1, x1, 1",
		"loop 1",
	})

	r, err := Loop(ctx, a, at)
	require.NoError(t, err)

	assert.Equal(t, [][ir.NumSlots]string{
		{"mov EC, 0", "mov p32, true", nop, "ld x33, 0(x1)", nop},
		{"(p32) addi x32, x33, 1", nop, nop, nop, "loop.pip 1"},
	}, render(r))

	assert.Equal(t, 1, r.BodyStart)
}

func TestLoopNoPreLoop(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()

	_, at := rotating(t, a, []string{
		"addi x1, x1, 1",
		"mulu x2, x1, x1",
		"loop 0",
		"mulu x3, x2, x2",
	})

	require.Equal(t, 0, at.BodyStart)
	require.Equal(t, 2, at.Stages)

	r, err := Loop(ctx, a, at)
	require.NoError(t, err)

	rows := render(r)

	assert.Equal(t, [ir.NumSlots]string{"mov EC, 1", "mov p32, true", nop, nop, nop}, rows[0])
	assert.Equal(t, [ir.NumSlots]string{"(p32) addi x32, x33, 1", nop, "(p33) mulu x35, x33, x33", nop, "loop.pip 1"}, rows[1])
	assert.Equal(t, [ir.NumSlots]string{nop, nop, "mulu x1, x35, x35", nop, nop}, rows[len(rows)-1])

	assert.Equal(t, 1, r.BodyStart)
	assert.Equal(t, 2, r.BodyEnd)
}

// TestLoopInvariantReads checks a loop invariant keeps one register
// in every stage of the folded kernel.
func TestLoopInvariantReads(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()

	tab, at := rotating(t, a, []string{
		"mov LC, 10",
		"mov x1, 5",
		"ld x2, 0(x1)",
		"mulu x3, x2, x1",
		"addi x4, x3, x1",
		"st x4, 0(x1)",
		"loop 2",
	})

	inv, ok := at.Renaming(1)
	require.True(t, ok)

	r, err := Loop(ctx, a, at)
	require.NoError(t, err)

	preds := map[ir.Reg]bool{}

	for _, e := range tab.Body() {
		x := r.Instr(e.Instr.Addr)

		if x.Op.Kind() == ir.KindLoop {
			assert.Equal(t, ir.OpLoopPip, x.Op)
			assert.Equal(t, int64(r.BodyStart), x.Imm)

			continue
		}

		require.True(t, x.Pred.IsPred(), "%v", x)
		preds[x.Pred] = true

		for i, reg := range e.Instr.Sources() {
			if reg == ir.X(1) {
				assert.Equal(t, inv, x.Sources()[i], "%v", x)
			}
		}
	}

	assert.Greater(t, len(preds), 1, "instructions of different stages")
	assert.Len(t, r.Rows[r.BodyStart:r.BodyEnd], r.II)
}

func TestLoopNotPipelined(t *testing.T) {
	_, err := Loop(context.Background(), arch.Default(), &regalloc.Table{})
	assert.Error(t, err)
}
