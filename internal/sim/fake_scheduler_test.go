package sim

import (
	"testing"
	"time"
)

func TestFakeEventScheduler_AdvanceRunsEventsAtTheirTime(t *testing.T) {
	start := time.Unix(0, 0)
	sched := NewFakeEventScheduler(start)

	var seen []time.Time
	t1 := start.Add(10 * time.Millisecond)
	t2 := start.Add(20 * time.Millisecond)

	sched.Schedule(t2, func() { seen = append(seen, sched.Now()) })
	sched.Schedule(t1, func() { seen = append(seen, sched.Now()) })

	sched.RunDue()
	if len(seen) != 0 {
		t.Fatalf("expected no events executed before time advance, got %d", len(seen))
	}

	sched.AdvanceTo(start.Add(30 * time.Millisecond))
	if len(seen) != 2 {
		t.Fatalf("expected 2 events executed, got %d", len(seen))
	}
	if !seen[0].Equal(t1) || !seen[1].Equal(t2) {
		t.Fatalf("events observed times %v, want [%v %v]", seen, t1, t2)
	}
	if !sched.Now().Equal(start.Add(30 * time.Millisecond)) {
		t.Fatalf("Now() = %v after AdvanceTo", sched.Now())
	}
}

func TestFakeEventScheduler_CancelAndMonotonic(t *testing.T) {
	start := time.Unix(0, 0)
	sched := NewFakeEventScheduler(start)

	ran := false
	id := sched.Schedule(start.Add(time.Millisecond), func() { ran = true })
	sched.Cancel(id)
	sched.AdvanceTo(start.Add(time.Second))
	if ran {
		t.Fatalf("cancelled event ran")
	}
	if sched.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", sched.Pending())
	}

	sched.AdvanceTo(start)
	if !sched.Now().Equal(start.Add(time.Second)) {
		t.Fatalf("fake clock moved backwards to %v", sched.Now())
	}
}
