package main

import (
	"context"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler"
	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/format"
	"github.com/slowlang/vliw/compiler/parse"
)

func main() {
	scheduleCmd := &cli.Command{
		Name:        "schedule",
		Description: "schedule program.json and write loop and loop.pip bundle tables",
		Usage:       "program.json loop.json looppip.json",
		Action:      scheduleAct,
		Args:        cli.Args{},
	}

	depsCmd := &cli.Command{
		Name:        "deps",
		Description: "print dependency table",
		Action:      depsAct,
		Args:        cli.Args{},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "print both bundle tables",
		Action:      dumpAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "vliw",
		Description: "vliw is a static scheduler and register allocator for VLIW470 loops",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("arch", "", "machine description yaml file"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			scheduleCmd,
			depsCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func loadArch(c *cli.Command) (*arch.Arch, error) {
	name := c.String("arch")
	if name == "" {
		return arch.Default(), nil
	}

	a, err := arch.Load(name)
	if err != nil {
		return nil, errors.Wrap(err, "load arch")
	}

	return a, nil
}

func scheduleAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) != 3 {
		return errors.New("expected 3 arguments: program.json loop.json looppip.json")
	}

	a, err := loadArch(c)
	if err != nil {
		return err
	}

	res, err := compiler.CompileFile(ctx, a, c.Args[0])
	if err != nil {
		return errors.Wrap(err, "compile %v", c.Args[0])
	}

	err = format.WriteFile(c.Args[1], res.Loop)
	if err != nil {
		return errors.Wrap(err, "loop")
	}

	err = format.WriteFile(c.Args[2], res.LoopPip)
	if err != nil {
		return errors.Wrap(err, "loop.pip")
	}

	return nil
}

func depsAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, name := range c.Args {
		prog, err := parse.File(ctx, name)
		if err != nil {
			return errors.Wrap(err, "parse %v", name)
		}

		t, err := df.Analyze(ctx, prog)
		if err != nil {
			return errors.Wrap(err, "analyze %v", name)
		}

		_, err = os.Stdout.Write(format.AppendDeps(nil, t))
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	a, err := loadArch(c)
	if err != nil {
		return err
	}

	for _, name := range c.Args {
		res, err := compiler.CompileFile(ctx, a, name)
		if err != nil {
			return errors.Wrap(err, "compile %v", name)
		}

		var b []byte

		b = append(b, "loop\n"...)
		b = format.AppendText(b, res.Loop)
		b = append(b, "\nloop.pip\n"...)
		b = format.AppendText(b, res.LoopPip)

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}
