package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

// ReceptionState is the lifecycle stage of a tracked frame. States only
// advance: New, ExpectHeader, ExpectEnd, Terminal.
type ReceptionState int

const (
	StateNew ReceptionState = iota
	StateExpectHeader
	StateExpectEnd
	StateTerminal
)

func (s ReceptionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateExpectHeader:
		return "expect_header"
	case StateExpectEnd:
		return "expect_end"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Env is what a policy may consult while deciding.
type Env struct {
	Now        time.Time
	Aggregator *ChannelAggregator
	// Uniform draws from U[0,1).
	Uniform func() float64
}

// Decision is a policy's verdict on a frame at its end.
type Decision struct {
	Correct bool
	// Reason explains an incorrect decision.
	Reason model.DropReason
	Result model.DeciderResult
}

// Policy is the pluggable decision step of the engine. The engine owns the
// state machine and channel bookkeeping; a policy only says how long to wait
// and whether a frame made it.
type Policy interface {
	Name() string
	// ProcessNewSignal returns the state an admitted frame moves to and the
	// time the engine should be invoked again for it.
	ProcessNewSignal(env Env, f *model.Frame) (ReceptionState, time.Time)
	// ProcessSignalHeader reports whether the receiver synchronised on the
	// frame header.
	ProcessSignalHeader(env Env, f *model.Frame) (bool, error)
	// ProcessSignalEnd decides whether the frame was received correctly.
	ProcessSignalEnd(env Env, f *model.Frame) (Decision, error)
}

// minSNR returns the smallest SNR of f over [from, end of frame], 0 when the
// function has no data there.
func minSNR(snr *mapping.Function, f *model.Frame, from time.Time) float64 {
	lo, hi := signalBox(f.Signal, from, f.Signal.ReceptionEnd())
	v := mapping.FindMin(snr, lo, hi)
	if math.IsInf(v, 1) {
		return 0
	}
	return v
}

func baseResult(f *model.Frame, correct bool, snrMin float64) model.DeciderResult {
	return model.DeciderResult{
		Correct:      correct,
		Bitrate:      f.Signal.PayloadBitrate(),
		MinSNR:       snrMin,
		RecvPowerDBm: toDB(f.Signal.ReceivingPower().Value(f.Signal.StartPoint())),
	}
}

// PassThrough accepts every admitted frame.
type PassThrough struct{}

func (PassThrough) Name() string { return string(PolicyPassThrough) }

func (PassThrough) ProcessNewSignal(_ Env, f *model.Frame) (ReceptionState, time.Time) {
	return StateExpectEnd, f.Signal.ReceptionEnd()
}

func (PassThrough) ProcessSignalHeader(_ Env, f *model.Frame) (bool, error) {
	return false, frameError("process header", f, ErrHeaderUnsupported)
}

func (PassThrough) ProcessSignalEnd(env Env, f *model.Frame) (Decision, error) {
	snr := env.Aggregator.ComputeSNR(f)
	snrMin := minSNR(snr, f, f.Signal.ReceptionStart)
	return Decision{Correct: true, Result: baseResult(f, true, snrMin)}, nil
}

// SNRThreshold accepts a frame whose SNR stays strictly above Threshold over
// its whole reception interval.
type SNRThreshold struct {
	Threshold float64
}

func (p *SNRThreshold) Name() string { return string(PolicySNRThreshold) }

func (p *SNRThreshold) ProcessNewSignal(_ Env, f *model.Frame) (ReceptionState, time.Time) {
	return StateExpectEnd, f.Signal.ReceptionEnd()
}

func (p *SNRThreshold) ProcessSignalHeader(_ Env, f *model.Frame) (bool, error) {
	return false, frameError("process header", f, ErrHeaderUnsupported)
}

func (p *SNRThreshold) ProcessSignalEnd(env Env, f *model.Frame) (Decision, error) {
	snr := env.Aggregator.ComputeSNR(f)
	lo, hi := signalBox(f.Signal, f.Signal.ReceptionStart, f.Signal.ReceptionEnd())
	var freqs []float64
	for _, b := range snr.Bands() {
		if b >= lo.Freq && b <= hi.Freq {
			freqs = append(freqs, b)
		}
	}
	if len(freqs) == 0 {
		freqs = []float64{f.Signal.CenterFrequency}
	}
	ok := true
	for _, freq := range freqs {
		if !staysAbove(snr, lo.Time, hi.Time, freq, p.Threshold) {
			ok = false
			break
		}
	}
	snrMin := minSNR(snr, f, f.Signal.ReceptionStart)
	d := Decision{Correct: ok, Result: baseResult(f, ok, snrMin)}
	if !ok {
		d.Reason = model.DropBitErrors
	}
	return d, nil
}

// staysAbove checks snr > threshold at start, on every piece up to each
// interior breakpoint, and at the exact end.
func staysAbove(snr *mapping.Function, start, end time.Time, freq, threshold float64) bool {
	p := mapping.AtFreq(start, freq)
	if snr.Value(p) <= threshold {
		return false
	}
	if !start.Before(end) {
		return true
	}
	if snr.ValueAfter(p) <= threshold {
		return false
	}
	for _, t := range snr.Breakpoints(start, end) {
		p := mapping.AtFreq(t, freq)
		if snr.Value(p) <= threshold || snr.ValueAfter(p) <= threshold {
			return false
		}
	}
	return snr.Value(mapping.AtFreq(end, freq)) > threshold
}
