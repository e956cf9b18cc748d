package sim

import (
	"sync"
	"time"
)

// FakeEventScheduler keeps its own simulation time. Tests move it with
// AdvanceTo, which runs every event at exactly its scheduled instant.
type FakeEventScheduler struct {
	mu    sync.Mutex
	now   time.Time
	queue *eventQueue
}

// NewFakeEventScheduler returns a fake scheduler positioned at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{now: start, queue: newEventQueue("fake-ev-")}
}

func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *FakeEventScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.push(at, f)
}

func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.cancel(id)
}

func (s *FakeEventScheduler) NextEventTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.next()
}

func (s *FakeEventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pending()
}

// RunDue runs every event due at the current fake time, including ones
// scheduled by the callbacks themselves.
func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.queue.popDue(s.now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}

// AdvanceTo steps from event to event up to t. Moving backwards is ignored.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	for {
		next, ok := s.NextEventTime()
		if !ok || next.After(t) {
			break
		}
		s.setNow(next)
		s.RunDue()
	}
	s.setNow(t)
	s.RunDue()
}

func (s *FakeEventScheduler) setNow(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.now) {
		s.now = t
	}
}
