package timectrl

import (
	"fmt"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Deciders, the
// event scheduler and the channel depend on this abstraction rather than a
// concrete clock so tests can drive time explicitly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Clock is a discrete-event simulation clock. Time only moves when the
// owner calls AdvanceTo, usually to the time of the next scheduled event.
type Clock struct {
	mu        sync.RWMutex
	StartTime time.Time

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewClock constructs a clock positioned at start.
func NewClock(start time.Time) *Clock {
	return &Clock{
		StartTime:   start,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTime
}

// Elapsed returns the simulated time since StartTime.
func (c *Clock) Elapsed() time.Duration {
	return c.Now().Sub(c.StartTime)
}

// AddListener registers a callback invoked every time the clock moves.
func (c *Clock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// AdvanceTo moves the clock to t and notifies listeners. Simulation time is
// monotonic: moving backwards is an error, staying put is a no-op.
func (c *Clock) AdvanceTo(t time.Time) error {
	c.mu.Lock()
	if t.Before(c.currentTime) {
		now := c.currentTime
		c.mu.Unlock()
		return fmt.Errorf("timectrl: cannot move clock backwards from %s to %s",
			now.Format(time.RFC3339Nano), t.Format(time.RFC3339Nano))
	}
	if t.Equal(c.currentTime) {
		c.mu.Unlock()
		return nil
	}
	c.currentTime = t
	listeners := append(([]func(time.Time))(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return nil
}
