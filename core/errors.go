package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/phy-decider/model"
)

// Sentinel errors for broken external contracts. They are always wrapped in
// a *ProtocolError; use errors.Is to test for them.
var (
	// ErrConcurrentCSR is returned when a second channel sense request
	// arrives while another one is still unanswered.
	ErrConcurrentCSR = errors.New("another channel sense request is already active")
	// ErrUnknownFrame is returned when the decider is asked to continue
	// processing a frame it is not tracking.
	ErrUnknownFrame = errors.New("frame is not tracked by the decider")
	// ErrHeaderUnsupported is returned when a policy without a header phase
	// is asked to process a frame header.
	ErrHeaderUnsupported = errors.New("policy cannot classify frame header")
	// ErrUnsupportedSenseMode is returned for sense modes the coordinator
	// does not implement.
	ErrUnsupportedSenseMode = errors.New("unsupported channel sense mode")
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid decider config")

// ProtocolError reports a fatal contract violation while processing one
// event. The current event is aborted; the engine state is left unchanged.
type ProtocolError struct {
	Op    string
	Frame model.FrameID
	CSR   uint64
	Err   error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.CSR != 0:
		return fmt.Sprintf("decider %s csr %d: %v", e.Op, e.CSR, e.Err)
	case e.Frame != 0:
		return fmt.Sprintf("decider %s frame %d: %v", e.Op, e.Frame, e.Err)
	default:
		return fmt.Sprintf("decider %s: %v", e.Op, e.Err)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func frameError(op string, f *model.Frame, err error) error {
	pe := &ProtocolError{Op: op, Err: err}
	if f != nil {
		pe.Frame = f.ID
	}
	return pe
}

func csrError(op string, csr *model.ChannelSenseRequest, err error) error {
	pe := &ProtocolError{Op: op, Err: err}
	if csr != nil {
		pe.CSR = csr.ID
	}
	return pe
}
