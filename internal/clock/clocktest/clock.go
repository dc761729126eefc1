package clocktest

import (
	"sync"
	"time"

	"github.com/nuwan94/leaf/internal/clock"
)

// FakeClock is a deterministic Clock for tests. Timers fire synchronously
// from Advance and Set, in deadline order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

var _ clock.Clock = (*FakeClock)(nil)

type fakeTimer struct {
	c       *FakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

// NewFakeClock returns a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements clock.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements clock.Clock. A non-positive delay fires on the next
// Advance (including Advance(0)).
func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	t := &fakeTimer{c: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Set moves the clock to t, firing timers due on the way.
func (c *FakeClock) Set(t time.Time) {
	c.advanceTo(t)
}

// Advance moves time forward by d, firing timers due on the way. Each timer
// observes Now equal to its own deadline.
func (c *FakeClock) Advance(d time.Duration) {
	c.advanceTo(c.Now().Add(d))
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// NextDeadline returns the deadline of the earliest armed timer.
func (c *FakeClock) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		next  time.Time
		found bool
	)
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if !found || t.when.Before(next) {
			next, found = t.when, true
		}
	}
	return next, found
}

func (c *FakeClock) advanceTo(target time.Time) {
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.when.After(c.now) {
			c.now = next.when
		}
		c.mu.Unlock()

		// Callbacks may arm new timers; they are picked up by the next pass.
		next.f()
	}
}

// Stop implements clock.Timer.
func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
