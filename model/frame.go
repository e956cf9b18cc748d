package model

import (
	"fmt"
	"time"
)

// FrameID uniquely identifies a frame on the air.
type FrameID uint64

// Frame is one transmission as seen by a receiver.
type Frame struct {
	ID     FrameID
	Sender string
	Signal *Signal

	// BitLength is the total length in bits, HeaderLength the PHY header
	// prefix in bits (0 when not modelled).
	BitLength    int
	HeaderLength int

	// Channel is the radio channel the frame was sent on.
	Channel int
	// Mode selects the modulation and coding scheme for deciders that
	// support several (e.g. 802.11a modes 0-7).
	Mode int

	Payload []byte
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	if f == nil {
		return "frame(<nil>)"
	}
	return fmt.Sprintf("frame(%d)", f.ID)
}

// HeaderDuration returns the airtime of the header at the header bitrate.
// It is zero when the frame has no header or no bitrate.
func (f *Frame) HeaderDuration() time.Duration {
	if f.HeaderLength <= 0 || f.Signal == nil {
		return 0
	}
	rate := f.Signal.HeaderBitrate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(f.HeaderLength) / rate * float64(time.Second))
}
