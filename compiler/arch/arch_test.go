package arch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/vliw/compiler/ir"
)

func TestDefault(t *testing.T) {
	a := Default()

	require.NoError(t, a.Validate())

	assert.Equal(t, 3, a.Lat(ir.OpMulu))
	assert.Equal(t, 1, a.Lat(ir.OpAdd))
	assert.Equal(t, 1, a.Lat(ir.OpLd))

	assert.Equal(t, 32, a.Wrap(96))
	assert.Equal(t, 95, a.Wrap(31))
	assert.Equal(t, 40, a.Wrap(40))
	assert.Equal(t, 33, a.Wrap(33+64*3))
}

func TestParse(t *testing.T) {
	a, err := Parse([]byte(`
latency:
  mul: 4
limits:
  max_ii: 16
`))
	require.NoError(t, err)

	assert.Equal(t, 4, a.Lat(ir.OpMulu))
	assert.Equal(t, 1, a.Lat(ir.OpSub), "defaults are kept")
	assert.Equal(t, 16, a.Limits.MaxII)
	assert.Equal(t, Default().Regs, a.Regs)
}

func TestParseInvalid(t *testing.T) {
	for _, data := range []string{
		"latency: {mul: 0}",
		"regs: {fresh: {base: 1, size: 40}}",
		"regs: {rotating: {base: 200, size: 64}}",
		"limits: {max_grow: -1}",
	} {
		_, err := Parse([]byte(data))
		assert.ErrorIs(t, err, ErrInvalid, "%s", data)
	}

	_, err := Parse([]byte("latency: ["))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "arch.yaml")

	err := os.WriteFile(name, []byte("regs:\n  rotating: {base: 64, size: 32}\n"), 0o644)
	require.NoError(t, err)

	a, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, Pool{Base: 64, Size: 32}, a.Regs.Rotating)
	assert.Equal(t, 64, a.Wrap(96))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
