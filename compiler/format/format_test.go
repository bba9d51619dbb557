package format

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/vliw/compiler/arch"
	"github.com/slowlang/vliw/compiler/df"
	"github.com/slowlang/vliw/compiler/parse"
	"github.com/slowlang/vliw/compiler/regalloc"
	"github.com/slowlang/vliw/compiler/sched"
)

var prog = []string{
	"mov LC, 10",
	"mov x2, 0x1000",
	"mov x3, 1",
	"mov x4, 25",
	"ld x5, 0(x2)",
	"loop 4",
	"addi x6, x11, 1",
}

func loop(t *testing.T) (*df.Table, *regalloc.Table) {
	t.Helper()

	ctx := context.Background()
	a := arch.Default()

	p, err := parse.Program(ctx, prog)
	require.NoError(t, err)

	tab, err := df.Analyze(ctx, p)
	require.NoError(t, err)

	s, err := sched.List(ctx, a, tab)
	require.NoError(t, err)

	at, err := regalloc.Fresh(ctx, a, tab, s)
	require.NoError(t, err)

	return tab, at
}

func TestJSON(t *testing.T) {
	_, at := loop(t)

	b, err := AppendJSON(nil, at)
	require.NoError(t, err)

	var rows [][]string

	err = json.Unmarshal(b, &rows)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"mov LC, 10", "mov x1, 4096", "nop", "nop", "nop"},
		{"mov x2, 1", "mov x3, 25", "nop", "nop", "nop"},
		{"nop", "nop", "nop", "ld x4, 0(x1)", "loop 2"},
		{"addi x5, x6, 1", "nop", "nop", "nop", "nop"},
	}, rows)
}

func TestWriteFile(t *testing.T) {
	_, at := loop(t)

	name := filepath.Join(t.TempDir(), "loop.json")

	err := WriteFile(name, at)
	require.NoError(t, err)

	data, err := os.ReadFile(name)
	require.NoError(t, err)

	exp, err := AppendJSON(nil, at)
	require.NoError(t, err)

	assert.Equal(t, string(exp), string(data))
}

func TestText(t *testing.T) {
	_, at := loop(t)

	lines := strings.Split(strings.TrimSuffix(string(AppendText(nil, at)), "\n"), "\n")
	require.Len(t, lines, 1+len(at.Rows))

	assert.Contains(t, lines[0], "ALU0")
	assert.Contains(t, lines[0], "Branch")
	assert.Contains(t, lines[3], "ld x4, 0(x1)")
	assert.Contains(t, lines[3], "loop 2")

	for _, l := range lines[1:] {
		assert.Len(t, l, len(lines[0]), "%q", l)
	}
}

func TestDeps(t *testing.T) {
	tab, _ := loop(t)

	lines := strings.Split(strings.TrimSuffix(string(AppendDeps(nil, tab)), "\n"), "\n")
	require.Len(t, lines, 1+tab.Len())

	assert.Contains(t, lines[0], "interloop")

	ld := strings.Fields(lines[5])
	assert.Equal(t, []string{"4", "body", "ld", "x5,", "0(x2)", "-", "-", "1", "-", "x5"}, ld)
}
