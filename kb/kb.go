// Package kb keeps the receiver's view of the air: every frame that has
// started arriving and has not yet been purged.
package kb

import (
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/phy-decider/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventFrameAdded EventType = iota
	EventFrameRemoved
)

// Event is emitted to subscribers when a frame enters or leaves the air.
type Event struct {
	Type  EventType
	Frame *model.Frame
}

// AirFrames is an in-memory, thread-safe store of frames on the air.
// Frames are kept in insertion order so interference sums are evaluated in a
// stable order.
type AirFrames struct {
	mu sync.RWMutex

	frames []*model.Frame
	index  map[model.FrameID]*model.Frame

	subs    []subscriber
	nextSub uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// NewAirFrames constructs an empty store.
func NewAirFrames() *AirFrames {
	return &AirFrames{
		index: make(map[model.FrameID]*model.Frame),
	}
}

// Add stores a frame. It returns an error if the ID is already present or
// the frame has no signal.
func (a *AirFrames) Add(f *model.Frame) error {
	if f == nil || f.Signal == nil {
		return fmt.Errorf("frame without signal cannot be put on the air")
	}
	a.mu.Lock()
	if _, exists := a.index[f.ID]; exists {
		a.mu.Unlock()
		return fmt.Errorf("frame with ID %d already on the air", f.ID)
	}
	a.frames = append(a.frames, f)
	a.index[f.ID] = f
	subs := a.callbacks()
	a.mu.Unlock()

	notify(subs, Event{Type: EventFrameAdded, Frame: f})
	return nil
}

// Get returns the frame with the given ID, or nil if not found.
func (a *AirFrames) Get(id model.FrameID) *model.Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index[id]
}

// Len returns the number of stored frames.
func (a *AirFrames) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.frames)
}

// Remove deletes the frame with the given ID and reports whether it was
// present.
func (a *AirFrames) Remove(id model.FrameID) bool {
	a.mu.Lock()
	f, ok := a.index[id]
	if !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.index, id)
	for i, cur := range a.frames {
		if cur.ID == id {
			a.frames = append(a.frames[:i], a.frames[i+1:]...)
			break
		}
	}
	subs := a.callbacks()
	a.mu.Unlock()

	notify(subs, Event{Type: EventFrameRemoved, Frame: f})
	return true
}

// FramesOverlapping returns, in insertion order, every frame whose
// reception interval [start, end] intersects [from, to]. Both intervals are
// closed.
func (a *AirFrames) FramesOverlapping(from, to time.Time) []*model.Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*model.Frame
	for _, f := range a.frames {
		s := f.Signal.ReceptionStart
		e := f.Signal.ReceptionEnd()
		if !s.After(to) && !e.Before(from) {
			out = append(out, f)
		}
	}
	return out
}

// Purge removes every frame that ended strictly before the given time and
// returns how many were removed.
func (a *AirFrames) Purge(before time.Time) int {
	a.mu.Lock()
	kept := a.frames[:0]
	var removed []*model.Frame
	for _, f := range a.frames {
		if f.Signal.ReceptionEnd().Before(before) {
			delete(a.index, f.ID)
			removed = append(removed, f)
			continue
		}
		kept = append(kept, f)
	}
	for i := len(kept); i < len(a.frames); i++ {
		a.frames[i] = nil
	}
	a.frames = kept
	subs := a.callbacks()
	a.mu.Unlock()

	for _, f := range removed {
		notify(subs, Event{Type: EventFrameRemoved, Frame: f})
	}
	return len(removed)
}

// Subscribe registers a callback for store events. It returns an unsubscribe
// function; calling it more than once is a no-op.
func (a *AirFrames) Subscribe(fn func(Event)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSub++
	id := a.nextSub
	a.subs = append(a.subs, subscriber{id: id, fn: fn})

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, sub := range a.subs {
			if sub.id == id {
				a.subs = append(a.subs[:i], a.subs[i+1:]...)
				return
			}
		}
	}
}

// callbacks snapshots the subscribers in registration order. Callers hold mu.
func (a *AirFrames) callbacks() []func(Event) {
	out := make([]func(Event), len(a.subs))
	for i, sub := range a.subs {
		out[i] = sub.fn
	}
	return out
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
