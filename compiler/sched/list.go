package sched

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
)

// List builds a non-pipelined ASAP schedule.
// The loop body is stretched until the modulo constraint holds for its II.
func List(ctx context.Context, a *arch.Arch, t *df.Table) (s *Schedule, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "sched: list", "instrs", t.Len())
	defer tr.Finish("err", &err)

	s = newSchedule(t)

	err = s.placeASAP(a, t, t.PreLoop(), 0, s.at)
	if err != nil {
		return nil, errors.Wrap(err, "pre-loop")
	}

	s.BodyStart = len(s.Rows)

	body := t.Body()

	err = s.placeASAP(a, t, body[:len(body)-1], s.BodyStart, s.at)
	if err != nil {
		return nil, errors.Wrap(err, "loop body")
	}

	loop := max(len(s.Rows)-1, s.BodyStart)

	s.ensure(loop+1, df.Body)
	s.put(t.BodyEnd, loop, ir.SlotBranch)

	s.II = loop - s.BodyStart + 1

	for grow := 0; ; grow++ {
		p, c, bad := s.moduloViolation(a, t, s.II, loop+1)
		if !bad {
			break
		}

		if grow == a.Limits.MaxGrow {
			return nil, errors.Wrap(ErrSearchLimit, "stretch loop body: ii %d", s.II)
		}

		tr.V("ii").Printw("modulo constraint", "ii", s.II, "producer", t.Instr(p), "consumer", t.Instr(c))

		s.Rows[loop].Slots[ir.SlotBranch] = ir.NoAddr

		loop++
		s.ensure(loop+1, df.Body)
		s.put(t.BodyEnd, loop, ir.SlotBranch)

		s.II++
	}

	s.BodyEnd = loop + 1

	err = s.placeASAP(a, t, t.PostLoop(), s.BodyEnd, s.at)
	if err != nil {
		return nil, errors.Wrap(err, "post-loop")
	}

	tr.Printw("list schedule", "bundles", len(s.Rows), "ii", s.II)

	if tr.If("dump") {
		for _, r := range s.Rows {
			tr.Printw("row", "row", r)
		}
	}

	return s, nil
}
