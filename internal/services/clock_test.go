package services

import (
	"sync"
	"time"
)

// fakeClock is a manual Clock. Advance delivers every tick that falls due,
// blocking until the owning loop receives it or the ticker is stopped.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time),
		stop:   make(chan struct{}),
	}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTicker
		var at time.Time
		for _, t := range c.tickers {
			if t.stopped() || t.next.After(target) {
				continue
			}
			switch {
			case due == nil || t.next.Before(at):
				due, at = []*fakeTicker{t}, t.next
			case t.next.Equal(at):
				due = append(due, t)
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = at
		for _, t := range due {
			t.next = t.next.Add(t.period)
		}
		c.mu.Unlock()

		for _, t := range due {
			select {
			case t.ch <- at:
			case <-t.stop:
			}
		}
	}
}

type fakeTicker struct {
	period time.Duration
	next   time.Time
	ch     chan time.Time
	stop   chan struct{}
	once   sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.once.Do(func() { close(t.stop) }) }

func (t *fakeTicker) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}
