package sched

import (
	"github.com/samber/lo"
	"tlog.app/go/errors"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// Verify checks resource, latency and modulo constraints of s.
func Verify(a *arch.Arch, t *df.Table, s *Schedule) error {
	seen := make([]bool, t.Len())

	region := df.PreLoop

	for b, r := range s.Rows {
		if r.Addr != b {
			return errors.Wrap(ErrInvalidSchedule, "bundle %d has address %d", b, r.Addr)
		}

		if r.Region < region {
			return errors.Wrap(ErrInvalidSchedule, "bundle %d: %v after %v", b, r.Region, region)
		}

		region = r.Region

		for sl, x := range r.Slots {
			if x == ir.NoAddr {
				continue
			}

			if seen[x] {
				return errors.Wrap(ErrInvalidSchedule, "instruction %d scheduled twice", x)
			}

			seen[x] = true

			if u := t.Instr(x).Unit(); ir.Slot(sl).Unit() != u {
				return errors.Wrap(ErrInvalidSchedule, "bundle %d: %v in %v slot", b, t.Instr(x), ir.Slot(sl))
			}

			if s.Bundle[x] != b || s.Slot[x] != ir.Slot(sl) {
				return errors.Wrap(ErrInvalidSchedule, "instruction %d: index says bundle %d slot %v, found at %d %v", x, s.Bundle[x], s.Slot[x], b, ir.Slot(sl))
			}

			if t.Region(x) != r.Region {
				return errors.Wrap(ErrInvalidSchedule, "instruction %d of %v in %v bundle %d", x, t.Region(x), r.Region, b)
			}
		}
	}

	for x, ok := range seen {
		if !ok {
			return errors.Wrap(ErrInvalidSchedule, "instruction %d is not scheduled", x)
		}
	}

	at := s.at
	if s.Pipelined() {
		at = s.final(t)
	}

	for _, e := range t.Entries {
		c := e.Instr.Addr

		for _, d := range e.Deps() {
			if lo.Contains(e.PostLoop, d) || t.Region(d.Addr) == df.Body && e.Region == df.Body && !lo.Contains(e.Local, d) {
				continue
			}

			if s.Bundle[d.Addr]+a.Lat(t.Instr(d.Addr).Op) > s.Bundle[c] {
				return errors.Wrap(ErrInvalidSchedule, "latency: %v at %d, %v at %d", t.Instr(d.Addr), s.Bundle[d.Addr], e.Instr, s.Bundle[c])
			}
		}

		for _, d := range e.PostLoop {
			if at(d.Addr)+a.Lat(t.Instr(d.Addr).Op) > s.Bundle[c] {
				return errors.Wrap(ErrInvalidSchedule, "post-loop latency: %v at %d, %v at %d", t.Instr(d.Addr), at(d.Addr), e.Instr, s.Bundle[c])
			}
		}
	}

	if p, c, bad := s.moduloViolation(a, t, s.II, s.BodyEnd); bad {
		return errors.Wrap(ErrInvalidSchedule, "modulo constraint: ii %d: %v at %d, %v at %d", s.II, t.Instr(p), s.Bundle[p], t.Instr(c), s.Bundle[c])
	}

	if !s.Pipelined() {
		return nil
	}

	for b := s.BodyStart; b < s.BodyEnd; b++ {
		r := s.Rows[b]

		if r.Stage != (b-s.BodyStart)/s.II || r.Canon != s.BodyStart+(b-s.BodyStart)%s.II {
			return errors.Wrap(ErrInvalidSchedule, "bundle %d: stage %d canon %d", b, r.Stage, r.Canon)
		}

		for sl, x := range r.Slots {
			if x == ir.NoAddr {
				continue
			}

			for o := b + s.II; o < s.BodyEnd; o += s.II {
				if y := s.Rows[o].Slots[sl]; y != ir.NoAddr {
					return errors.Wrap(ErrInvalidSchedule, "congruent bundles %d and %d share %v: %v and %v", b, o, ir.Slot(sl), t.Instr(x), t.Instr(y))
				}
			}
		}
	}

	return nil
}
