package core

import "time"

// Next tells the caller whether and when the engine wants to be invoked
// again for the same frame or sense request.
type Next struct {
	at     time.Time
	recall bool
}

// NotAgain is the terminal result: no further invocation is needed.
var NotAgain = Next{}

// RecallAt asks to be invoked again at t.
func RecallAt(t time.Time) Next {
	return Next{at: t, recall: true}
}

// Recall returns the requested invocation time and whether there is one.
func (n Next) Recall() (time.Time, bool) {
	return n.at, n.recall
}

func (n Next) String() string {
	if !n.recall {
		return "not-again"
	}
	return "recall@" + n.at.Format(time.RFC3339Nano)
}
