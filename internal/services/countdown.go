package services

import "time"

type TimerState string

const (
	TimerInactive TimerState = "inactive"
	TimerRunning  TimerState = "running"
	TimerPaused   TimerState = "paused"
	TimerExpired  TimerState = "expired"
)

// Countdown tracks the remaining seconds of a timed attempt. It is not safe
// for concurrent use; ExamSession guards it with its own mutex.
type Countdown struct {
	limit     int
	remaining int
	pausable  bool
	state     TimerState
	lastTick  time.Time
	fired     bool
}

// NewCountdown builds a countdown for limitSeconds. A non-positive limit
// means the attempt is untimed and the countdown never leaves inactive.
func NewCountdown(limitSeconds int, pausable bool) *Countdown {
	if limitSeconds < 0 {
		limitSeconds = 0
	}
	return &Countdown{
		limit:     limitSeconds,
		remaining: limitSeconds,
		pausable:  pausable,
		state:     TimerInactive,
	}
}

func (c *Countdown) IsTimed() bool     { return c.limit > 0 }
func (c *Countdown) State() TimerState { return c.state }
func (c *Countdown) Remaining() int    { return c.remaining }
func (c *Countdown) Limit() int        { return c.limit }

// Start runs the countdown from remainingSeconds. It reports true when the
// countdown is already at zero, in which case it moves straight to expired.
func (c *Countdown) Start(remainingSeconds int, at time.Time) bool {
	if !c.IsTimed() || c.state != TimerInactive {
		return false
	}
	if remainingSeconds > c.limit {
		remainingSeconds = c.limit
	}
	c.lastTick = at
	if remainingSeconds <= 0 {
		c.remaining = 0
		c.expire()
		return true
	}
	c.remaining = remainingSeconds
	c.state = TimerRunning
	return false
}

// Tick applies a clock tick and reports whether this tick expired the
// countdown. Ticks not strictly after the last accepted one are dropped. A
// tick that arrives late catches up the whole seconds missed; the fraction
// left over carries into the next tick.
func (c *Countdown) Tick(at time.Time) bool {
	if c.state != TimerRunning || !at.After(c.lastTick) {
		return false
	}

	elapsed := int(at.Sub(c.lastTick) / time.Second)
	if elapsed < 1 {
		elapsed = 1
	}
	c.lastTick = c.lastTick.Add(time.Duration(elapsed) * time.Second)
	c.remaining -= elapsed
	if c.remaining > 0 {
		return false
	}
	c.remaining = 0
	return c.expire()
}

func (c *Countdown) Pause(at time.Time) error {
	if !c.pausable {
		return ErrTimerNotPausable
	}
	if c.state != TimerRunning {
		return ErrTimerNotRunning
	}
	c.state = TimerPaused
	c.lastTick = at
	return nil
}

// Resume restarts a paused countdown. Time spent paused is not charged.
func (c *Countdown) Resume(at time.Time) error {
	if c.state != TimerPaused {
		return ErrTimerNotPaused
	}
	c.state = TimerRunning
	c.lastTick = at
	return nil
}

// Stop halts the countdown for good. An expired countdown stays expired.
func (c *Countdown) Stop() {
	if c.state != TimerExpired {
		c.state = TimerInactive
	}
}

func (c *Countdown) expire() bool {
	c.state = TimerExpired
	if c.fired {
		return false
	}
	c.fired = true
	return true
}
