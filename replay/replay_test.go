package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrictlyIncreasingWithinWindow(t *testing.T) {
	c := NewCounter(0)

	lost, ok := c.Validate(1)
	assert.True(t, ok)
	assert.Equal(t, uint16(0), lost)

	// replay of the same counter
	_, ok = c.Validate(1)
	assert.False(t, ok)

	// jump ahead within the window reports the gap
	lost, ok = c.Validate(5)
	assert.True(t, ok)
	assert.Equal(t, uint16(3), lost)

	// older than last accepted
	_, ok = c.Validate(3)
	assert.False(t, ok)
	assert.Equal(t, uint16(5), c.Last())
}

func TestWindowEdge(t *testing.T) {
	c := NewCounter(256)
	_, ok := c.Validate(1)
	assert.True(t, ok)

	// exactly W ahead is accepted
	lost, ok := c.Validate(1 + 256)
	assert.True(t, ok)
	assert.Equal(t, uint16(255), lost)

	// W+1 ahead is rejected
	_, ok = c.Validate(257 + 257)
	assert.False(t, ok)
}

func TestWraparound(t *testing.T) {
	c := NewCounter(256)
	_, ok := c.Validate(0xfffe)
	assert.True(t, ok)

	// wraps past zero and stays within the window
	lost, ok := c.Validate(2)
	assert.True(t, ok)
	assert.Equal(t, uint16(3), lost)
	assert.Equal(t, uint16(2), c.Last())
}

func TestConsecutiveRejects(t *testing.T) {
	c := NewCounter(0)
	_, _ = c.Validate(10)

	for i := 0; i < DefaultRejectLimit-1; i++ {
		_, ok := c.Validate(10)
		assert.False(t, ok)
		assert.False(t, c.Exhausted())
	}
	_, ok := c.Validate(10)
	assert.False(t, ok)
	assert.True(t, c.Exhausted())

	// any accept clears the streak
	_, ok = c.Validate(11)
	assert.True(t, ok)
	assert.False(t, c.Exhausted())
}

func TestReset(t *testing.T) {
	c := NewCounter(0)
	_, _ = c.Validate(100)
	c.Reset()
	assert.Equal(t, uint16(0), c.Last())
	lost, ok := c.Validate(1)
	assert.True(t, ok)
	assert.Equal(t, uint16(0), lost)
}

func TestSequence(t *testing.T) {
	var s Sequence
	assert.Equal(t, uint16(1), s.Advance())
	assert.Equal(t, uint16(2), s.Advance())
	assert.Equal(t, uint16(2), s.Current())

	// wraparound skips zero
	s.next = 0xffff
	assert.Equal(t, uint16(1), s.Advance())
}
