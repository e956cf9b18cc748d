package sim

import (
	"container/heap"
	"strconv"
	"time"
)

// scheduledEvent is one pending callback. seq breaks ties between events
// scheduled for the same instant.
type scheduledEvent struct {
	id        string
	when      time.Time
	seq       uint64
	f         func()
	cancelled bool
}

// eventHeap is a min-heap on (when, seq).
type eventHeap []*scheduledEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*scheduledEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// eventQueue is the bookkeeping shared by both schedulers. Cancelled events
// stay in the heap and are discarded when they reach the front. It is not
// safe for concurrent use; callers hold their own lock.
type eventQueue struct {
	prefix string
	seq    uint64
	heap   eventHeap
	live   map[string]*scheduledEvent
}

func newEventQueue(prefix string) *eventQueue {
	return &eventQueue{prefix: prefix, live: make(map[string]*scheduledEvent)}
}

func (q *eventQueue) push(at time.Time, f func()) string {
	q.seq++
	ev := &scheduledEvent{
		id:   q.prefix + strconv.FormatUint(q.seq, 10),
		when: at,
		seq:  q.seq,
		f:    f,
	}
	heap.Push(&q.heap, ev)
	q.live[ev.id] = ev
	return ev.id
}

// cancel reports whether id was pending.
func (q *eventQueue) cancel(id string) bool {
	ev, ok := q.live[id]
	if !ok {
		return false
	}
	ev.cancelled = true
	delete(q.live, id)
	return true
}

// front returns the earliest live event without removing it.
func (q *eventQueue) front() *scheduledEvent {
	for q.heap.Len() > 0 {
		if ev := q.heap[0]; !ev.cancelled {
			return ev
		}
		heap.Pop(&q.heap)
	}
	return nil
}

// popDue removes and returns the earliest live event at or before now.
func (q *eventQueue) popDue(now time.Time) *scheduledEvent {
	ev := q.front()
	if ev == nil || ev.when.After(now) {
		return nil
	}
	heap.Pop(&q.heap)
	delete(q.live, ev.id)
	return ev
}

func (q *eventQueue) next() (time.Time, bool) {
	if ev := q.front(); ev != nil {
		return ev.when, true
	}
	return time.Time{}, false
}

func (q *eventQueue) pending() int { return len(q.live) }
