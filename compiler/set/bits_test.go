package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	s := MakeBits(3, 1, 200)

	assert.True(t, s.IsSet(1))
	assert.True(t, s.IsSet(200))
	assert.False(t, s.IsSet(2))
	assert.False(t, s.IsSet(-1))
	assert.False(t, s.IsSet(1000))

	c := s.Copy()
	c.Clear(200)
	c.Set(64)

	assert.Equal(t, []int{1, 3, 200}, s.Slice())
	assert.Equal(t, []int{1, 3, 64}, c.Slice())
	assert.Equal(t, 3, c.Size())
}
