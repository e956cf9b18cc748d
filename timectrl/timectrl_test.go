package timectrl

import (
	"testing"
	"time"
)

func TestClockAdvanceTo(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)

	newNow := start.Add(42 * time.Millisecond)
	if err := c.AdvanceTo(newNow); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}
	if got := c.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
	if got := c.Elapsed(); got != 42*time.Millisecond {
		t.Fatalf("Elapsed() = %v, want 42ms", got)
	}
}

func TestClockRejectsBackwardsMove(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start.Add(time.Second))

	if err := c.AdvanceTo(start); err == nil {
		t.Fatalf("expected error moving clock backwards")
	}
	if got := c.Now(); !got.Equal(start.Add(time.Second)) {
		t.Fatalf("clock moved despite error: %v", got)
	}
}

func TestClockNotifiesListenersOnMove(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)

	var seen []time.Time
	c.AddListener(func(t time.Time) { seen = append(seen, t) })

	_ = c.AdvanceTo(start)
	_ = c.AdvanceTo(start.Add(time.Millisecond))
	_ = c.AdvanceTo(start.Add(2 * time.Millisecond))

	if len(seen) != 2 {
		t.Fatalf("listener called %d times, want 2", len(seen))
	}
	if !seen[1].Equal(start.Add(2 * time.Millisecond)) {
		t.Fatalf("listener saw %v, want +2ms", seen[1])
	}
}
