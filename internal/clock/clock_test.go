package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClockMonotonicNowMS(t *testing.T) {
	c := NewSystemClock()
	prev := c.NowMS()
	for i := 0; i < 1000; i++ {
		now := c.NowMS()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestManualClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start.UnixMilli(), c.NowMS())
	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second).UnixMilli(), c.NowMS())
}

func TestRoundTimerStartPauseResume(t *testing.T) {
	mc := NewManualClock(time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC))
	timer := NewRoundTimer(mc)

	st := timer.State()
	assert.False(t, st.Running)
	assert.Equal(t, int64(0), st.ElapsedMS)

	timer.Start()
	mc.Advance(10 * time.Second)
	assert.Equal(t, int64(10000), timer.ElapsedMS())

	timer.Pause()
	mc.Advance(5 * time.Second)
	assert.Equal(t, int64(10000), timer.ElapsedMS(), "paused timer must not accumulate")

	timer.Start() // resume from paused elapsed
	mc.Advance(2 * time.Second)
	st = timer.State()
	assert.True(t, st.Running)
	assert.Equal(t, int64(12000), st.ElapsedMS)
}

func TestRoundTimerStartWhileRunningIsNoop(t *testing.T) {
	mc := NewManualClock(time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC))
	timer := NewRoundTimer(mc)

	timer.Start()
	mc.Advance(3 * time.Second)
	timer.Start()
	mc.Advance(3 * time.Second)

	assert.Equal(t, int64(6000), timer.ElapsedMS())
}

func TestRoundTimerReset(t *testing.T) {
	mc := NewManualClock(time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC))
	timer := NewRoundTimer(mc)

	timer.Start()
	mc.Advance(time.Minute)
	timer.Reset()

	st := timer.State()
	assert.False(t, st.Running)
	assert.Equal(t, int64(0), st.ElapsedMS)
}

func TestTimerRegistryPerBout(t *testing.T) {
	mc := NewManualClock(time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC))
	reg := NewTimerRegistry(mc)

	a := reg.Get("bout-a")
	b := reg.Get("bout-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, reg.Get("bout-a"))

	a.Start()
	mc.Advance(time.Second)
	assert.Equal(t, int64(1000), a.ElapsedMS())
	assert.Equal(t, int64(0), b.ElapsedMS())

	reg.Drop("bout-a")
	assert.NotSame(t, a, reg.Get("bout-a"))
}
