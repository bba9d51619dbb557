package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/parse"
	"github.com/slowlang/vliw/compiler/prep"
	"github.com/slowlang/vliw/compiler/regalloc"
	"github.com/slowlang/vliw/compiler/sched"
)

type (
	Result struct {
		Deps *df.Table

		Loop    *regalloc.Table
		LoopPip *regalloc.Table
	}
)

func CompileFile(ctx context.Context, a *arch.Arch, name string) (*Result, error) {
	prog, err := parse.File(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	return Compile(ctx, a, prog)
}

// Compile builds both the plain loop and the pipelined loop tables.
func Compile(ctx context.Context, a *arch.Arch, prog []ir.Instr) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "instrs", len(prog))
	defer tr.Finish("err", &err)

	t, err := df.Analyze(ctx, prog)
	if err != nil {
		return nil, errors.Wrap(err, "analyze")
	}

	loop, err := CompileLoop(ctx, a, t)
	if err != nil {
		return nil, errors.Wrap(err, "loop")
	}

	pip, err := CompileLoopPip(ctx, a, t)
	if err != nil {
		return nil, errors.Wrap(err, "loop.pip")
	}

	return &Result{
		Deps:    t,
		Loop:    loop,
		LoopPip: pip,
	}, nil
}

func CompileLoop(ctx context.Context, a *arch.Arch, t *df.Table) (*regalloc.Table, error) {
	s, err := sched.List(ctx, a, t)
	if err != nil {
		return nil, errors.Wrap(err, "schedule")
	}

	at, err := regalloc.Fresh(ctx, a, t, s)
	if err != nil {
		return nil, errors.Wrap(err, "allocate registers")
	}

	return at, nil
}

func CompileLoopPip(ctx context.Context, a *arch.Arch, t *df.Table) (*regalloc.Table, error) {
	s, err := sched.Modulo(ctx, a, t)
	if err != nil {
		return nil, errors.Wrap(err, "schedule")
	}

	at, err := regalloc.Rotating(ctx, a, t, s)
	if err != nil {
		return nil, errors.Wrap(err, "allocate registers")
	}

	at, err = prep.Loop(ctx, a, at)
	if err != nil {
		return nil, errors.Wrap(err, "prepare loop")
	}

	return at, nil
}
