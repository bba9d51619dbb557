package df

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/set"
)

type (
	Region int

	// Dep is a producer of a register read by an instruction.
	Dep struct {
		Reg  ir.Reg
		Addr ir.Addr
	}

	Entry struct {
		Region Region
		Instr  ir.Instr

		Local     []Dep
		Interloop []Dep
		Invariant []Dep
		PostLoop  []Dep
	}

	Table struct {
		Entries []Entry

		// Loop body is [BodyStart, BodyEnd], BodyEnd is the loop instruction.
		BodyStart ir.Addr
		BodyEnd   ir.Addr

		// LiveIn are registers read before any write,
		// including the first iteration read of a carried register with no pre-loop writer.
		LiveIn set.Bits[ir.Reg]
	}

	// Interloop is a register carried around the back edge.
	// Init is NoAddr when nothing writes it before the loop.
	Interloop struct {
		Reg  ir.Reg
		Init ir.Addr
		Body ir.Addr
	}

	// producers is the most recent writer of each register in one region.
	producers map[ir.Reg]ir.Addr
)

const (
	PreLoop Region = iota
	Body
	PostLoop
)

var (
	ErrNoLoop       = errors.New("no loop instruction")
	ErrMultipleLoop = errors.New("more than one loop instruction")
	ErrLoopTarget   = errors.New("bad loop target")
)

// Analyze computes the dependency table of a program
// made of a pre-loop block, a single loop body and a post-loop block.
func Analyze(ctx context.Context, prog []ir.Instr) (t *Table, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "df: analyze", "instrs", len(prog))
	defer tr.Finish("err", &err)

	t = &Table{
		BodyStart: ir.NoAddr,
		BodyEnd:   ir.NoAddr,
		LiveIn:    set.MakeBits[ir.Reg](),
	}

	for i, x := range prog {
		if x.Addr != ir.Addr(i) {
			return nil, errors.New("instruction %d has address %d", i, x.Addr)
		}

		if x.Op.Kind() != ir.KindLoop {
			continue
		}

		if t.BodyEnd != ir.NoAddr {
			return nil, errors.Wrap(ErrMultipleLoop, "at %d and %d", t.BodyEnd, i)
		}

		t.BodyStart = ir.Addr(x.Imm)
		t.BodyEnd = ir.Addr(i)
	}

	if t.BodyEnd == ir.NoAddr {
		return nil, ErrNoLoop
	}

	if t.BodyStart < 0 || t.BodyStart > t.BodyEnd {
		return nil, errors.Wrap(ErrLoopTarget, "loop at %d targets %d", t.BodyEnd, t.BodyStart)
	}

	pre := prog[:t.BodyStart]
	body := prog[t.BodyStart : t.BodyEnd+1]
	post := prog[t.BodyEnd+1:]

	t.Entries = make([]Entry, 0, len(prog))

	preProd := t.analyzePreLoop(pre)
	bodyProd := lastWriters(body)

	t.analyzeBody(body, preProd, bodyProd)
	t.analyzePostLoop(post, preProd, bodyProd)

	if tr.If("dump") {
		for _, e := range t.Entries {
			tr.Printw("entry", "addr", e.Instr.Addr, "region", e.Region, "instr", e.Instr,
				"local", e.Local, "interloop", e.Interloop, "invariant", e.Invariant, "postloop", e.PostLoop)
		}
	}

	return t, nil
}

func (t *Table) analyzePreLoop(code []ir.Instr) producers {
	prod := producers{}

	for _, x := range code {
		e := Entry{Region: PreLoop, Instr: x}

		for _, r := range x.Sources() {
			if p, ok := prod[r]; ok {
				e.Local = appendDep(e.Local, r, p)
				continue
			}

			t.LiveIn.Set(r)
		}

		prod.write(x)

		t.Entries = append(t.Entries, e)
	}

	return prod
}

func (t *Table) analyzeBody(code []ir.Instr, pre, body producers) {
	local := producers{}

	for _, x := range code {
		e := Entry{Region: Body, Instr: x}

		for _, r := range x.Sources() {
			if p, ok := local[r]; ok {
				e.Local = appendDep(e.Local, r, p)
				continue
			}

			b, inBody := body[r]
			p, inPre := pre[r]

			switch {
			case inBody:
				// value comes around the back edge,
				// or from the pre-loop block on the first iteration
				if inPre {
					e.Interloop = appendDep(e.Interloop, r, p)
				} else {
					t.LiveIn.Set(r)
				}

				e.Interloop = appendDep(e.Interloop, r, b)
			case inPre:
				e.Invariant = appendDep(e.Invariant, r, p)
			default:
				t.LiveIn.Set(r)
			}
		}

		local.write(x)

		t.Entries = append(t.Entries, e)
	}
}

func (t *Table) analyzePostLoop(code []ir.Instr, pre, body producers) {
	local := producers{}

	for _, x := range code {
		e := Entry{Region: PostLoop, Instr: x}

		for _, r := range x.Sources() {
			if p, ok := local[r]; ok {
				e.Local = appendDep(e.Local, r, p)
			} else if p, ok := body[r]; ok {
				e.PostLoop = appendDep(e.PostLoop, r, p)
			} else if p, ok := pre[r]; ok {
				e.Invariant = appendDep(e.Invariant, r, p)
			} else {
				t.LiveIn.Set(r)
			}
		}

		local.write(x)

		t.Entries = append(t.Entries, e)
	}
}

func lastWriters(code []ir.Instr) producers {
	prod := producers{}

	for _, x := range code {
		prod.write(x)
	}

	return prod
}

func (p producers) write(x ir.Instr) {
	if r, ok := x.Dest(); ok {
		p[r] = x.Addr
	}
}

// appendDep keeps one dependency per producer,
// an instruction may read the same register twice.
func appendDep(l []Dep, r ir.Reg, a ir.Addr) []Dep {
	for _, d := range l {
		if d.Reg == r && d.Addr == a {
			return l
		}
	}

	return append(l, Dep{Reg: r, Addr: a})
}

func (t *Table) Entry(a ir.Addr) *Entry { return &t.Entries[a] }

func (t *Table) Region(a ir.Addr) Region {
	switch {
	case a < t.BodyStart:
		return PreLoop
	case a <= t.BodyEnd:
		return Body
	default:
		return PostLoop
	}
}

func (t *Table) PreLoop() []Entry  { return t.Entries[:t.BodyStart] }
func (t *Table) Body() []Entry     { return t.Entries[t.BodyStart : t.BodyEnd+1] }
func (t *Table) PostLoop() []Entry { return t.Entries[t.BodyEnd+1:] }

// Instr returns the original instruction at address a.
func (t *Table) Instr(a ir.Addr) ir.Instr { return t.Entries[a].Instr }

func (t *Table) Len() int { return len(t.Entries) }

// Interloops returns pairs of (pre-loop, body) producers of the same register
// read by some loop body instruction through the back edge.
func (t *Table) Interloops() (r []Interloop) {
	seen := map[ir.Reg]bool{}

	for _, e := range t.Body() {
		for _, d := range e.Interloop {
			if seen[d.Reg] {
				continue
			}

			seen[d.Reg] = true

			init, body := e.InterloopPair(t, d.Reg)

			r = append(r, Interloop{Reg: d.Reg, Init: init, Body: body})
		}
	}

	return r
}

// Dest returns the register the entry instruction writes.
func (e *Entry) Dest() (ir.Reg, bool) { return e.Instr.Dest() }

// Deps returns all dependencies of the entry.
func (e *Entry) Deps() []Dep {
	r := make([]Dep, 0, len(e.Local)+len(e.Interloop)+len(e.Invariant)+len(e.PostLoop))

	r = append(r, e.Local...)
	r = append(r, e.Interloop...)
	r = append(r, e.Invariant...)
	r = append(r, e.PostLoop...)

	return r
}

// InterloopPair returns pre-loop and body producers of r.
// It panics if the interloop set for r doesn't have one body producer
// and at most one pre-loop producer.
func (e *Entry) InterloopPair(t *Table, r ir.Reg) (init, body ir.Addr) {
	init, body = ir.NoAddr, ir.NoAddr

	for _, d := range e.Interloop {
		if d.Reg != r {
			continue
		}

		switch t.Region(d.Addr) {
		case PreLoop:
			if init != ir.NoAddr {
				panic(errors.New("addr %d: two pre-loop producers of %v: %d and %d", e.Instr.Addr, r, init, d.Addr))
			}

			init = d.Addr
		case Body:
			if body != ir.NoAddr {
				panic(errors.New("addr %d: two body producers of %v: %d and %d", e.Instr.Addr, r, body, d.Addr))
			}

			body = d.Addr
		default:
			panic(errors.New("addr %d: post-loop interloop producer of %v: %d", e.Instr.Addr, r, d.Addr))
		}
	}

	if body == ir.NoAddr {
		panic(errors.New("addr %d: no body producer of interloop %v", e.Instr.Addr, r))
	}

	return init, body
}

func (r Region) String() string {
	switch r {
	case PreLoop:
		return "pre-loop"
	case Body:
		return "body"
	case PostLoop:
		return "post-loop"
	}

	return fmt.Sprintf("region(%d)", int(r))
}

func (r Region) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, r.String())
}

func (d Dep) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKey(b, "reg")
	b = e.AppendString(b, d.Reg.String())
	b = e.AppendKeyInt(b, "addr", int(d.Addr))

	return b
}
