package xrand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBetweenBounds(t *testing.T) {
	src := NewSeeded(42)
	for i := 0; i < 1000; i++ {
		v := Between(src, 2, 5)
		assert.GreaterOrEqual(t, v, 2.0)
		assert.Less(t, v, 5.0)
	}
	assert.Equal(t, 3.0, Between(src, 3, 3))
}

func TestIntBetweenInclusive(t *testing.T) {
	seen := map[int]bool{}
	src := NewSeeded(7)
	for i := 0; i < 2000; i++ {
		n := IntBetween(src, 2, 4)
		assert.True(t, n >= 2 && n <= 4, "out of range: %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 4, IntBetween(Fixed(0.99999), 2, 4))
	assert.Equal(t, 2, IntBetween(Fixed(0), 2, 4))
}

func TestDurationBetween(t *testing.T) {
	d := DurationBetween(Fixed(0.5), 2*time.Second, 4*time.Second)
	assert.Equal(t, 3*time.Second, d)
}

func TestSequenceCycles(t *testing.T) {
	s := NewSequence(0.1, 0.9)
	assert.Equal(t, 0.1, s.Float64())
	assert.Equal(t, 0.9, s.Float64())
	assert.Equal(t, 0.1, s.Float64())
	assert.True(t, Chance(Fixed(0.2), 0.5))
	assert.False(t, Chance(Fixed(0.7), 0.5))
}
