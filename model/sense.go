package model

import (
	"fmt"
	"time"
)

// SenseMode selects when a ChannelSenseRequest is answered.
type SenseMode int

const (
	// UntilIdle is answered as soon as the channel is idle, or at timeout.
	UntilIdle SenseMode = iota
	// UntilBusy is answered as soon as the channel is busy, or at timeout.
	UntilBusy
	// UntilTimeout is answered only when the timeout elapses.
	UntilTimeout
)

func (m SenseMode) String() string {
	switch m {
	case UntilIdle:
		return "until_idle"
	case UntilBusy:
		return "until_busy"
	case UntilTimeout:
		return "until_timeout"
	default:
		return fmt.Sprintf("sense_mode(%d)", int(m))
	}
}

// ParseSenseMode converts a string such as "until_idle" to a SenseMode.
func ParseSenseMode(s string) (SenseMode, error) {
	switch s {
	case "until_idle", "idle":
		return UntilIdle, nil
	case "until_busy", "busy":
		return UntilBusy, nil
	case "until_timeout", "timeout":
		return UntilTimeout, nil
	default:
		return 0, fmt.Errorf("unknown sense mode %q", s)
	}
}

// ChannelState is the result of sensing the channel.
type ChannelState struct {
	Idle bool
	RSSI float64
}

// ChannelSenseRequest asks the receiver for the channel state, either
// instantaneously or over a sensing interval.
type ChannelSenseRequest struct {
	ID        uint64
	Requester string
	Mode      SenseMode
	Timeout   time.Duration

	result   ChannelState
	answered bool
}

// SetResult stores the sensing result. It is written exactly once.
func (r *ChannelSenseRequest) SetResult(state ChannelState) {
	r.result = state
	r.answered = true
}

// Result returns the sensing result and whether the request was answered.
func (r *ChannelSenseRequest) Result() (ChannelState, bool) {
	return r.result, r.answered
}

// String implements fmt.Stringer.
func (r *ChannelSenseRequest) String() string {
	if r == nil {
		return "csr(<nil>)"
	}
	return fmt.Sprintf("csr(%d,%s,%s)", r.ID, r.Mode, r.Timeout)
}
