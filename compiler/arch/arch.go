package arch

import (
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/slowlang/vliw/compiler/ir"
)

type (
	// Arch describes the machine the schedules are built for.
	// Issue width and unit mix are fixed, latencies, register pools
	// and search limits are configurable.
	Arch struct {
		Latency Latency `yaml:"latency"`
		Regs    Regs    `yaml:"regs"`
		Limits  Limits  `yaml:"limits"`
	}

	Latency struct {
		Mul     int `yaml:"mul"`
		Default int `yaml:"default"`
	}

	Regs struct {
		Fresh    Pool `yaml:"fresh"`
		Rotating Pool `yaml:"rotating"`

		PredBase int `yaml:"pred_base"`
	}

	// Pool is a half-open register number range [Base, Base+Size).
	Pool struct {
		Base int `yaml:"base"`
		Size int `yaml:"size"`
	}

	Limits struct {
		MaxII   int `yaml:"max_ii"`
		MaxGrow int `yaml:"max_grow"`
	}
)

var ErrInvalid = errors.New("invalid arch")

func Default() *Arch {
	return &Arch{
		Latency: Latency{
			Mul:     3,
			Default: 1,
		},
		Regs: Regs{
			Fresh:    Pool{Base: 1, Size: 31},
			Rotating: Pool{Base: 32, Size: 64},
			PredBase: 32,
		},
		Limits: Limits{
			MaxII:   1000,
			MaxGrow: 10000,
		},
	}
}

func Load(name string) (*Arch, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	a, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return a, nil
}

// Parse decodes yaml on top of Default values.
func Parse(data []byte) (*Arch, error) {
	a := Default()

	err := yaml.Unmarshal(data, a)
	if err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	err = a.Validate()
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Arch) Validate() error {
	if a.Latency.Mul < 1 || a.Latency.Default < 1 {
		return errors.Wrap(ErrInvalid, "latency must be positive: %+v", a.Latency)
	}

	f, r := a.Regs.Fresh, a.Regs.Rotating

	if f.Base < 0 || f.Size < 1 || r.Base < 0 || r.Size < 2 {
		return errors.Wrap(ErrInvalid, "empty register pool: fresh %+v rotating %+v", f, r)
	}

	if f.End() > r.Base && r.End() > f.Base {
		return errors.Wrap(ErrInvalid, "register pools overlap: fresh %+v rotating %+v", f, r)
	}

	if r.End() > int(ir.P(0)) {
		return errors.Wrap(ErrInvalid, "rotating pool is out of register file: %+v", r)
	}

	if a.Limits.MaxII < 1 || a.Limits.MaxGrow < 1 {
		return errors.Wrap(ErrInvalid, "limits must be positive: %+v", a.Limits)
	}

	return nil
}

func (a *Arch) Lat(op ir.Op) int {
	if op == ir.OpMulu {
		return a.Latency.Mul
	}

	return a.Latency.Default
}

// Wrap maps a rotating register number into the rotating window.
func (a *Arch) Wrap(n int) int {
	r := a.Regs.Rotating

	n = (n - r.Base) % r.Size
	if n < 0 {
		n += r.Size
	}

	return r.Base + n
}

func (p Pool) End() int { return p.Base + p.Size }

func (p Pool) Contains(n int) bool { return n >= p.Base && n < p.End() }
