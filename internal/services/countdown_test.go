package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	c := NewCountdown(1800, false)
	assert.False(t, c.Start(1800, t0))
	assert.Equal(t, TimerRunning, c.State())

	expiries := 0
	for i := 1; i <= 1800; i++ {
		if c.Tick(t0.Add(time.Duration(i) * time.Second)) {
			expiries++
		}
	}
	assert.Equal(t, 1, expiries)
	assert.Equal(t, TimerExpired, c.State())
	assert.Equal(t, 0, c.Remaining())

	assert.False(t, c.Tick(t0.Add(1801*time.Second)))
	assert.Equal(t, 0, c.Remaining())
}

func TestCountdownDropsStaleTicks(t *testing.T) {
	c := NewCountdown(60, false)
	c.Start(60, t0)

	c.Tick(t0.Add(2 * time.Second))
	assert.Equal(t, 58, c.Remaining())

	assert.False(t, c.Tick(t0.Add(2*time.Second)))
	assert.False(t, c.Tick(t0.Add(time.Second)))
	assert.Equal(t, 58, c.Remaining())

	c.Tick(t0.Add(2*time.Second + 500*time.Millisecond))
	assert.Equal(t, 57, c.Remaining())
}

func TestCountdownKeepsPaceWithJitteryTicks(t *testing.T) {
	c := NewCountdown(60, false)
	c.Start(60, t0)

	for i := 1; i <= 10; i++ {
		c.Tick(t0.Add(time.Duration(i) * 1600 * time.Millisecond))
	}
	assert.Equal(t, 44, c.Remaining())
}

func TestCountdownPauseResume(t *testing.T) {
	c := NewCountdown(100, true)
	c.Start(100, t0)
	c.Tick(t0.Add(10 * time.Second))

	assert.NoError(t, c.Pause(t0.Add(10*time.Second)))
	assert.False(t, c.Tick(t0.Add(20*time.Second)))
	assert.Equal(t, 90, c.Remaining())
	assert.ErrorIs(t, c.Pause(t0.Add(20*time.Second)), ErrTimerNotRunning)

	assert.NoError(t, c.Resume(t0.Add(300*time.Second)))
	c.Tick(t0.Add(301 * time.Second))
	assert.Equal(t, 89, c.Remaining())
	assert.ErrorIs(t, c.Resume(t0.Add(302*time.Second)), ErrTimerNotPaused)
}

func TestCountdownNotPausable(t *testing.T) {
	c := NewCountdown(100, false)
	c.Start(100, t0)
	assert.ErrorIs(t, c.Pause(t0), ErrTimerNotPausable)
	assert.Equal(t, TimerRunning, c.State())
}

func TestCountdownUntimedStaysInactive(t *testing.T) {
	c := NewCountdown(0, true)
	assert.False(t, c.IsTimed())
	assert.False(t, c.Start(0, t0))
	assert.False(t, c.Tick(t0.Add(time.Hour)))
	assert.Equal(t, TimerInactive, c.State())
}

func TestCountdownStartAtZeroExpires(t *testing.T) {
	c := NewCountdown(3000, false)
	assert.True(t, c.Start(-20, t0))
	assert.Equal(t, TimerExpired, c.State())
	assert.False(t, c.Tick(t0.Add(time.Second)))

	c.Stop()
	assert.Equal(t, TimerExpired, c.State())
}

func TestCountdownStop(t *testing.T) {
	c := NewCountdown(30, true)
	c.Start(30, t0)
	c.Stop()
	assert.Equal(t, TimerInactive, c.State())
	assert.False(t, c.Tick(t0.Add(time.Minute)))
}
