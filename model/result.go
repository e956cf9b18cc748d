package model

// DeciderResult describes how a frame was received.
type DeciderResult struct {
	Correct bool
	// Bitrate is the payload bitrate (bit/s).
	Bitrate float64
	// MinSNR is the smallest linear SNR observed over the evaluated interval.
	MinSNR float64
	// AvgBER and RSSI are filled by deciders that compute them.
	AvgBER float64
	RSSI   float64
	// RecvPowerDBm is the received power at reception start, when known.
	RecvPowerDBm float64
	// SuccessProbability is the modelled probability of error-free
	// reception, when the decider computes one.
	SuccessProbability float64
	// Collision is set when the loss is attributed to interference.
	Collision bool
}

// DropReason explains why a frame was not handed up as data.
type DropReason string

const (
	DropBelowSensitivity DropReason = "below_sensitivity"
	DropBitErrors        DropReason = "bit_errors"
	DropCollision        DropReason = "collision"
	DropSyncFailed       DropReason = "sync_failed"
)

// DropIndication is the control message sent to the upper layer instead of
// the payload when a frame is not received.
type DropIndication struct {
	Frame  *Frame
	Reason DropReason
	Result DeciderResult
}
