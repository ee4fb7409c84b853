package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestMockClock(t *testing.T) {
	c := NewMockClock(base)
	assert.Equal(t, base, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), c.Now())
	assert.Equal(t, 90*time.Second, c.Since(base))

	c.Set(base.Add(-time.Hour))
	assert.Equal(t, -time.Hour, c.Since(base))
}

func TestOr(t *testing.T) {
	mc := NewMockClock(base)
	assert.Same(t, mc, Or(mc))
	assert.IsType(t, RealClock{}, Or(nil))
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))
}
