package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceFiresInDeadlineOrder(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	var fired []string
	clk.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	clk.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	clk.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	clk.Advance(2 * time.Second)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, []time.Duration{3 * time.Second}, clk.Pending())
	assert.Equal(t, time.Unix(2, 0), clk.Now())
}

func TestManual_Stop(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	called := false
	timer := clk.AfterFunc(time.Second, func() { called = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports false")
	assert.Empty(t, clk.Pending())

	clk.Advance(time.Minute)
	assert.False(t, called)
}

func TestManual_RescheduleFromCallback(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		clk.AfterFunc(time.Second, tick)
	}
	clk.AfterFunc(time.Second, tick)

	clk.Advance(3500 * time.Millisecond)

	assert.Equal(t, 3, ticks)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clk.Pending())
}

func TestManual_StopAfterFire(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))
	timer := clk.AfterFunc(time.Second, func() {})

	clk.Advance(time.Second)

	assert.False(t, timer.Stop())
}
