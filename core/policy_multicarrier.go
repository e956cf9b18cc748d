package core

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

// MultiThreshold is the OFDM decision: take the minimum SNR across every
// subcarrier over the whole frame and compare
// snrMin x symbolTime x codingGain(mode) against the mode threshold.
type MultiThreshold struct {
	SymbolTime   time.Duration
	CodeRates    []float64
	Thresholds   []float64
	CCAThreshold float64
}

func (p *MultiThreshold) Name() string { return string(PolicyMultiThreshold) }

func (p *MultiThreshold) ProcessNewSignal(_ Env, f *model.Frame) (ReceptionState, time.Time) {
	return StateExpectEnd, f.Signal.ReceptionEnd()
}

func (p *MultiThreshold) ProcessSignalHeader(_ Env, f *model.Frame) (bool, error) {
	return false, frameError("process header", f, ErrHeaderUnsupported)
}

// Threshold returns the threshold for a frame mode; unknown modes get a
// threshold no frame can reach.
func (p *MultiThreshold) Threshold(mode int) float64 {
	if mode < 0 || mode >= len(p.Thresholds) {
		return unreachableThreshold
	}
	return p.Thresholds[mode]
}

func (p *MultiThreshold) gain(mode int) float64 {
	if mode < 0 || mode >= len(p.CodeRates) {
		return 0
	}
	return codingGain(p.CodeRates[mode])
}

func (p *MultiThreshold) ProcessSignalEnd(env Env, f *model.Frame) (Decision, error) {
	s := f.Signal
	snr := env.Aggregator.ComputeSNR(f)
	snrMin := subcarrierMin(snr, s.ReceptionStart, s.ReceptionEnd())

	res := baseResult(f, false, snrMin)
	if snrMin <= p.CCAThreshold {
		res.Collision = true
		return Decision{Reason: model.DropCollision, Result: res}, nil
	}
	ok := snrMin*p.SymbolTime.Seconds()*p.gain(f.Mode) > p.Threshold(f.Mode)
	res.Correct = ok
	if !ok {
		return Decision{Reason: model.DropBitErrors, Result: res}, nil
	}
	return Decision{Correct: true, Result: res}, nil
}

// subcarrierMin returns the minimum of snr over [from, to] on every band.
func subcarrierMin(snr *mapping.Function, from, to time.Time) float64 {
	bands := snr.Bands()
	if len(bands) == 0 {
		v := mapping.FindMin(snr, mapping.At(from), mapping.At(to))
		if math.IsInf(v, 1) {
			return 0
		}
		return v
	}
	mins := make([]float64, len(bands))
	for i, b := range bands {
		mins[i] = mapping.FindMin(snr, mapping.AtFreq(from, b), mapping.AtFreq(to, b))
	}
	return floats.Min(mins)
}
