package sim

import (
	"context"
	"time"

	"github.com/signalsfoundry/phy-decider/timectrl"
)

// RunUntil drives a discrete-event loop: it repeatedly advances clock to the
// next pending event and runs everything due, stopping once the next event
// lies after until or nothing is left. The clock finishes at until when
// until is after the last executed event. It returns the number of distinct
// instants visited.
func RunUntil(ctx context.Context, clock *timectrl.Clock, sched EventScheduler, until time.Time) (int, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		next, ok := sched.NextEventTime()
		if !ok || next.After(until) {
			break
		}
		if next.After(clock.Now()) {
			if err := clock.AdvanceTo(next); err != nil {
				return steps, err
			}
		}
		sched.RunDue()
		steps++
	}
	if until.After(clock.Now()) {
		if err := clock.AdvanceTo(until); err != nil {
			return steps, err
		}
	}
	return steps, nil
}
