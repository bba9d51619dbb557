package sched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/parse"
)

var (
	progA = []string{
		"mov LC, 10",
		"mov x2, 0x1000",
		"mov x3, 1",
		"mov x4, 25",
		"ld x5, 0(x2)",
		"loop 4",
		"addi x6, x11, 1",
	}

	progB = []string{
		"mov LC, 100",
		"mov x2, 3",
		"mov x3, 1",
		"mulu x3, x3, x2",
		"addi x4, x3, 1",
		"loop 3",
		"st x4, 0(x2)",
	}

	progC = []string{
		"mov LC, 10",
		"mov x1, 5",
		"ld x2, 0(x1)",
		"mulu x3, x2, x1",
		"addi x4, x3, x1",
		"st x4, 0(x1)",
		"loop 2",
	}

	progs = [][]string{
		progA,
		progB,
		progC,
		{
			"mov LC, 10",
			"mov x1, 0x1000",
			"mov x2, 0",
			"ld x3, 0(x1)",
			"mulu x4, x3, x3",
			"add x2, x2, x4",
			"addi x1, x1, 8",
			"st x2, 0(x1)",
			"loop 3",
			"st x2, 0(x1)",
			"add x5, x2, x1",
		},
		{
			"addi x1, x1, 1",
			"mulu x2, x1, x1",
			"loop 0",
			"mulu x3, x2, x2",
			"add x4, x3, x2",
		},
		{
			"mov x1, 1",
			"mov x2, 2",
			"add x3, x1, x2",
			"sub x4, x1, x2",
			"add x5, x3, x4",
			"addi x6, x5, 1",
			"add x7, x6, x6",
			"loop 2",
		},
	}
)

func analyze(t *testing.T, lines []string) *df.Table {
	t.Helper()

	ctx := context.Background()

	prog, err := parse.Program(ctx, lines)
	require.NoError(t, err)

	tab, err := df.Analyze(ctx, prog)
	require.NoError(t, err)

	return tab
}

func TestListScenarioA(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()
	tab := analyze(t, progA)

	s, err := List(ctx, a, tab)
	require.NoError(t, err)

	require.Len(t, s.Rows, 4)

	slots := func(b int) (r []ir.Addr) {
		return s.Rows[b].Slots[:]
	}

	n := ir.NoAddr

	assert.Equal(t, []ir.Addr{0, 1, n, n, n}, slots(0))
	assert.Equal(t, []ir.Addr{2, 3, n, n, n}, slots(1))
	assert.Equal(t, []ir.Addr{n, n, n, 4, 5}, slots(2))
	assert.Equal(t, []ir.Addr{6, n, n, n, n}, slots(3))

	assert.Equal(t, 2, s.BodyStart)
	assert.Equal(t, 3, s.BodyEnd)
	assert.Equal(t, 1, s.II)
	assert.False(t, s.Pipelined())

	assert.NoError(t, Verify(a, tab, s))
}

func TestListScenarioB(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()
	tab := analyze(t, progB)

	s, err := List(ctx, a, tab)
	require.NoError(t, err)

	mulu, addi := s.Bundle[3], s.Bundle[4]

	assert.GreaterOrEqual(t, addi-mulu, a.Lat(ir.OpMulu))
	assert.Equal(t, s.Bundle[5], addi, "branch shares the last body bundle")
	assert.Equal(t, s.Bundle[5]-s.BodyStart+1, s.II)
	assert.LessOrEqual(t, mulu+a.Lat(ir.OpMulu), mulu+s.II, "mulu feeds itself on the next iteration")

	assert.NoError(t, Verify(a, tab, s))
}

func TestListGrowsII(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()
	tab := analyze(t, []string{
		"mov x2, 3",
		"mulu x3, x3, x2",
		"loop 1",
	})

	s, err := List(ctx, a, tab)
	require.NoError(t, err)

	assert.Equal(t, 3, s.II)
	assert.Equal(t, s.BodyStart+2, s.Bundle[2])
	assert.Equal(t, s.BodyStart, s.Bundle[1])

	assert.NoError(t, Verify(a, tab, s))

	a.Limits.MaxGrow = 1

	_, err = List(ctx, a, tab)
	assert.ErrorIs(t, err, ErrSearchLimit)
}

func TestModuloScenarioB(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()
	tab := analyze(t, progB)

	s, err := Modulo(ctx, a, tab)
	require.NoError(t, err)

	assert.True(t, s.Pipelined())
	assert.Equal(t, 4, s.II)
	assert.Equal(t, 1, s.Stages)
	assert.Equal(t, 2, s.BodyStart)
	assert.Equal(t, s.BodyStart+s.Stages*s.II, s.BodyEnd)

	assert.Equal(t, 0, s.Stage(3))
	assert.Equal(t, 0, s.Stage(4))
	assert.Equal(t, 0, s.Stage(5), "branch is in stage 0")
	assert.Equal(t, s.BodyStart+s.II-1, s.Bundle[5])

	assert.GreaterOrEqual(t, s.Bundle[4]-s.Bundle[3], a.Lat(ir.OpMulu))

	for b := s.BodyStart; b < s.BodyEnd; b++ {
		assert.Equal(t, (b-s.BodyStart)/s.II, s.Rows[b].Stage)
		assert.Equal(t, s.BodyStart+(b-s.BodyStart)%s.II, s.Rows[b].Canon)
	}

	assert.Equal(t, -1, s.Rows[0].Stage)
	assert.Equal(t, s.BodyEnd, s.Bundle[6], "store waits for the last kernel pass")

	assert.NoError(t, Verify(a, tab, s))

	a.Limits.MaxII = 2

	_, err = Modulo(ctx, a, tab)
	assert.ErrorIs(t, err, ErrSearchLimit)
}

// TestModuloDependentChain checks the stage count is the body size over II:
// at II 2 the chain needs a third stage and doesn't fit two.
func TestModuloDependentChain(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()
	tab := analyze(t, []string{
		"mov x1, 0x1000",
		"ld x2, 0(x1)",
		"mulu x3, x2, x2",
		"addi x4, x3, 1",
		"st x4, 0(x1)",
		"loop 1",
	})

	body := tab.Body()
	require.Equal(t, 2, MinII(body[:len(body)-1]))

	s, err := Modulo(ctx, a, tab)
	require.NoError(t, err)

	assert.Equal(t, 3, s.II)
	assert.Equal(t, 2, s.Stages)
	assert.Equal(t, 1, s.BodyStart)
	assert.Equal(t, 7, s.BodyEnd)

	for addr, stage := range map[ir.Addr]int{1: 0, 2: 0, 3: 1, 4: 1, 5: 0} {
		assert.Equal(t, stage, s.Stage(addr), "addr %d", addr)
	}

	assert.Equal(t, 5, s.Bundle[3])
	assert.Equal(t, 6, s.Bundle[4])

	assert.NoError(t, Verify(a, tab, s))
}

func TestMinII(t *testing.T) {
	tab := analyze(t, []string{
		"add x1, x1, x1",
		"add x2, x2, x2",
		"add x3, x3, x3",
		"ld x4, 0(x1)",
		"ld x5, 0(x2)",
		"mulu x6, x4, x5",
		"loop 0",
	})

	body := tab.Body()

	assert.Equal(t, 2, MinII(body[:len(body)-1]))
	assert.Equal(t, 1, MinII(nil))
}

func TestSchedulesAreValid(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()

	for i, lines := range progs {
		tab := analyze(t, lines)

		s, err := List(ctx, a, tab)
		if assert.NoError(t, err, "prog %d", i) {
			assert.NoError(t, Verify(a, tab, s), "prog %d: list", i)
		}

		s, err = Modulo(ctx, a, tab)
		if assert.NoError(t, err, "prog %d", i) {
			assert.NoError(t, Verify(a, tab, s), "prog %d: modulo", i)
			assert.GreaterOrEqual(t, s.II, MinII(tab.Body()[:len(tab.Body())-1]), "prog %d", i)
		}
	}
}

func TestVerifyRejects(t *testing.T) {
	ctx := context.Background()
	a := arch.Default()
	tab := analyze(t, progB)

	s, err := List(ctx, a, tab)
	require.NoError(t, err)

	bad := s.clone()
	bad.Rows[s.Bundle[4]].Slots[s.Slot[4]] = ir.NoAddr
	bad.Rows[s.Bundle[3]+1].Slots[ir.SlotALU0] = 4
	bad.Bundle[4] = s.Bundle[3] + 1
	bad.Slot[4] = ir.SlotALU0

	assert.ErrorIs(t, Verify(a, tab, bad), ErrInvalidSchedule, "latency")

	bad = s.clone()
	bad.Rows[0].Slots[ir.SlotMul] = bad.Rows[0].Slots[ir.SlotALU0]
	bad.Rows[0].Slots[ir.SlotALU0] = ir.NoAddr
	bad.Slot[bad.Rows[0].Slots[ir.SlotMul]] = ir.SlotMul

	assert.ErrorIs(t, Verify(a, tab, bad), ErrInvalidSchedule, "unit")
}
