// Package sim provides the discrete-event machinery the PHY layer runs on:
// an event scheduler keyed on simulation time and a loop that advances the
// clock from one event to the next.
package sim

import (
	"sync"
	"time"

	"github.com/signalsfoundry/phy-decider/timectrl"
)

// EventScheduler schedules callbacks to run at specific simulation times
// based on a SimClock implementation. The PHY layer uses it to deliver
// frame starts, decider recalls and sense-request timeouts.
//
// Events due at the same instant run in the order they were scheduled.
type EventScheduler interface {
	// Schedule registers a callback f to run at simulation time 'at'.
	// It returns an opaque event ID that can be used to cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time, usually delegated to the underlying SimClock.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now().
	// It should be safe to call multiple times; already-run events must not run again.
	RunDue()

	// NextEventTime returns the time of the earliest pending event.
	NextEventTime() (time.Time, bool)

	// Pending returns the number of events waiting to run.
	Pending() int
}

// Observer receives scheduler activity, typically a metrics collector.
type Observer interface {
	EventScheduled()
	EventCancelled()
	EventExecuted()
	SetPending(n int)
}

// eventScheduler runs callbacks against a SimClock it does not own; the
// caller moves the clock and then calls RunDue.
type eventScheduler struct {
	clock    timectrl.SimClock
	observer Observer

	mu    sync.Mutex
	queue *eventQueue
}

// Option configures an event scheduler.
type Option func(*eventScheduler)

// WithObserver reports scheduling activity to o.
func WithObserver(o Observer) Option {
	return func(s *eventScheduler) { s.observer = o }
}

// NewEventScheduler creates an event scheduler reading time from clock.
func NewEventScheduler(clock timectrl.SimClock, opts ...Option) EventScheduler {
	s := &eventScheduler{
		clock: clock,
		queue: newEventQueue("ev-"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *eventScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	id := s.queue.push(at, f)
	pending := s.queue.pending()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.EventScheduled()
		s.observer.SetPending(pending)
	}
	return id
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	ok := s.queue.cancel(id)
	pending := s.queue.pending()
	s.mu.Unlock()

	if ok && s.observer != nil {
		s.observer.EventCancelled()
		s.observer.SetPending(pending)
	}
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) NextEventTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.next()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pending()
}

// RunDue runs events one at a time, releasing the lock around each callback
// so callbacks may schedule or cancel. Events a callback schedules for the
// current instant run in the same call.
func (s *eventScheduler) RunDue() {
	now := s.clock.Now()
	for {
		s.mu.Lock()
		ev := s.queue.popDue(now)
		pending := s.queue.pending()
		s.mu.Unlock()
		if ev == nil {
			return
		}

		if s.observer != nil {
			s.observer.EventExecuted()
			s.observer.SetPending(pending)
		}
		if ev.f != nil {
			ev.f()
		}
	}
}
