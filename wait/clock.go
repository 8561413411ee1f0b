package wait

import (
	"sync"
	"time"
)

// Clock is the source of time for polling loops.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}

// StepClock is a Clock whose Sleep returns immediately after moving Now forward by the
// requested duration. It makes timing behavior deterministic in tests.
type StepClock struct {
	now    time.Time
	slept  time.Duration
	sleeps int
	lock   sync.Mutex
}

// NewStepClock returns a StepClock starting at an arbitrary fixed instant.
func NewStepClock() *StepClock {
	return &StepClock{now: time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *StepClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *StepClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	c.lock.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps++
	c.lock.Unlock()
}

// Advance moves Now forward without counting as a sleep, as if some work took d.
func (c *StepClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	c.lock.Unlock()
}

// Slept returns the total duration passed to Sleep.
func (c *StepClock) Slept() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.slept
}

// Sleeps returns how many times Sleep was called with a positive duration.
func (c *StepClock) Sleeps() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.sleeps
}
