package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int64
	}

	// Bits is a set of non-negative keys.
	Bits[K Key] struct {
		b  []uint64
		b0 [2]uint64
	}
)

func MakeBits[K Key](keys ...K) Bits[K] {
	var s Bits[K]

	s.b = s.b0[:0]

	for _, k := range keys {
		s.Set(k)
	}

	return s
}

func (s Bits[K]) Copy() Bits[K] {
	c := MakeBits[K]()

	c.grow(len(s.b) - 1)
	copy(c.b, s.b)

	return c
}

func (s *Bits[K]) Set(k K) {
	i, j := ij(k)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s Bits[K]) IsSet(k K) bool {
	if k < 0 {
		return false
	}

	i, j := ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s Bits[K]) Clear(k K) {
	i, j := ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s Bits[K]) Size() (r int) {
	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

func (s Bits[K]) Range(f func(k K) bool) {
	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

// Slice returns keys in increasing order.
func (s Bits[K]) Slice() []K {
	r := make([]K, 0, s.Size())

	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func ij[K Key](k K) (i int, j int) {
	if k < 0 {
		panic(k)
	}

	return int(k) / 64, int(k) % 64
}

func (s *Bits[K]) grow(i int) {
	if s.b == nil {
		s.b = s.b0[:0]
	}

	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}
