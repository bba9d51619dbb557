package format

import (
	"encoding/json"
	"os"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/ir"
	"github.com/slowlang/vliw/compiler/regalloc"
)

// Table renders every bundle as its five slots in order.
func Table(t *regalloc.Table) [][ir.NumSlots]string {
	r := make([][ir.NumSlots]string, len(t.Rows))

	for i := range t.Rows {
		r[i] = t.Rows[i].Strings()
	}

	return r
}

// AppendJSON encodes the table as an array of five string arrays.
func AppendJSON(b []byte, t *regalloc.Table) ([]byte, error) {
	data, err := json.MarshalIndent(Table(t), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}

	b = append(b, data...)
	b = append(b, '\n')

	return b, nil
}

func WriteFile(name string, t *regalloc.Table) error {
	b, err := AppendJSON(nil, t)
	if err != nil {
		return err
	}

	err = os.WriteFile(name, b, 0o644)
	if err != nil {
		return errors.Wrap(err, "write file")
	}

	return nil
}

// AppendText renders an aligned listing, one bundle per line.
func AppendText(b []byte, t *regalloc.Table) []byte {
	var w [ir.NumSlots]int

	rows := Table(t)

	for sl := range w {
		w[sl] = len(ir.Slot(sl).String())
	}

	for _, r := range rows {
		for sl, s := range r {
			w[sl] = max(w[sl], len(s))
		}
	}

	b = app(b, "%4s  %-10s", "addr", "region")

	for sl := range w {
		b = pad(b, ir.Slot(sl).String(), w[sl])
	}

	b = append(b, '\n')

	for i, r := range rows {
		row := t.Rows[i]

		b = app(b, "%4d  %-10v", row.Addr, region(row))

		for sl, s := range r {
			b = pad(b, s, w[sl])
		}

		b = append(b, '\n')
	}

	return b
}

// AppendDeps renders the dependency table.
func AppendDeps(b []byte, t *df.Table) []byte {
	b = app(b, "%4s  %-10s  %-24s  %-12s  %-12s  %-12s  %-12s  %s\n", "addr", "region", "instr", "local", "interloop", "invariant", "postloop", "dest")

	for _, e := range t.Entries {
		dst := "-"
		if r, ok := e.Dest(); ok {
			dst = r.String()
		}

		b = app(b, "%4d  %-10v  %-24v  %-12s  %-12s  %-12s  %-12s  %s\n", e.Instr.Addr, e.Region, e.Instr,
			deps(e.Local), deps(e.Interloop), deps(e.Invariant), deps(e.PostLoop), dst)
	}

	return b
}

func region(r regalloc.Row) string {
	if r.Stage < 0 {
		return r.Region.String()
	}

	return string(hfmt.Appendf(nil, "%v/%d", r.Region, r.Stage))
}

func deps(l []df.Dep) string {
	if len(l) == 0 {
		return "-"
	}

	var b []byte

	for i, d := range l {
		if i != 0 {
			b = append(b, ',')
		}

		b = hfmt.Appendf(b, "%d", int(d.Addr))
	}

	return string(b)
}

func pad(b []byte, s string, w int) []byte {
	b = append(b, "  "...)
	b = append(b, s...)

	for i := len(s); i < w; i++ {
		b = append(b, ' ')
	}

	return b
}

func app(b []byte, f string, args ...any) []byte {
	return hfmt.Appendf(b, f, args...)
}
