package core

import (
	"time"

	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

// BitErrorPolicy evaluates a frame segment by segment: every piece of
// constant SNR carries duration x bitrate bits, each exposed to the
// modulation's bit error rate. A positive SFDLength adds a header phase in
// which the receiver must first synchronise on the start-of-frame delimiter.
type BitErrorPolicy struct {
	BER           BERFunc
	SFDLength     int
	BERLowerBound float64
	// Bitrate is used when the frame has no bitrate function.
	Bitrate float64
}

func (p *BitErrorPolicy) Name() string { return string(PolicyBitError) }

func (p *BitErrorPolicy) headerBitrate(f *model.Frame) float64 {
	if r := f.Signal.HeaderBitrate(); r > 0 {
		return r
	}
	return p.Bitrate
}

func (p *BitErrorPolicy) sfdEnd(f *model.Frame) time.Time {
	s := f.Signal
	rate := p.headerBitrate(f)
	if p.SFDLength <= 0 || rate <= 0 {
		return s.ReceptionStart
	}
	d := time.Duration(float64(p.SFDLength) / rate * float64(time.Second))
	if d > s.Duration {
		d = s.Duration
	}
	return s.ReceptionStart.Add(d)
}

func (p *BitErrorPolicy) ProcessNewSignal(_ Env, f *model.Frame) (ReceptionState, time.Time) {
	if p.SFDLength > 0 {
		return StateExpectHeader, p.sfdEnd(f)
	}
	return StateExpectEnd, f.Signal.ReceptionEnd()
}

// ProcessSignalHeader draws once against the probability that the SFD was
// corrupted, using the instantaneous SNR at the current time.
func (p *BitErrorPolicy) ProcessSignalHeader(env Env, f *model.Frame) (bool, error) {
	if p.SFDLength <= 0 {
		return false, frameError("process header", f, ErrHeaderUnsupported)
	}
	at := mapping.AtFreq(env.Now, f.Signal.CenterFrequency)
	power := f.Signal.ReceivingPower().Value(at)
	noise := env.Aggregator.ComputeInterference(env.Now, env.Now, f).Value(at)
	var snr float64
	if noise > 0 {
		snr = power / noise
	}
	ber := max(syncBER(snr), p.BERLowerBound)
	sfdError := 1 - noErrorProbability(ber, p.SFDLength)
	return sfdError < env.Uniform(), nil
}

func (p *BitErrorPolicy) ProcessSignalEnd(env Env, f *model.Frame) (Decision, error) {
	s := f.Signal
	snr := env.Aggregator.ComputeSNR(f)

	noErrors := true
	success := 1.0
	var errBits, totalBits float64
	for _, seg := range p.segments(snr, s) {
		if !noErrors {
			break
		}
		rate := p.Bitrate
		if s.Bitrate != nil {
			if r := s.Bitrate.ValueAfter(mapping.At(seg.Start)); r > 0 {
				rate = r
			}
		}
		if seg.Duration() <= 0 {
			continue
		}
		// Segments shorter than a bit carry no bits but still take a draw.
		bits := int(seg.Duration().Seconds() * rate)
		ber := max(p.BER(seg.Value), p.BERLowerBound)
		errBits += ber * float64(bits)
		totalBits += float64(bits)

		ok := noErrorProbability(ber, bits)
		success *= ok
		noErrors = 1-ok < env.Uniform()
	}

	snrMin := minSNR(snr, f, s.ReceptionStart)
	res := baseResult(f, noErrors, snrMin)
	res.SuccessProbability = success
	if totalBits > 0 {
		res.AvgBER = errBits / totalBits
	}
	d := Decision{Correct: noErrors, Result: res}
	if !noErrors {
		d.Reason = model.DropBitErrors
	}
	return d, nil
}

// segments partitions the frame at SNR breakpoints and, when the signal
// carries one, at bitrate breakpoints.
func (p *BitErrorPolicy) segments(snr *mapping.Function, s *model.Signal) []mapping.Segment {
	segs := snr.Segments(s.ReceptionStart, s.ReceptionEnd(), s.CenterFrequency)
	if s.Bitrate == nil {
		return segs
	}
	var out []mapping.Segment
	for _, seg := range segs {
		start := seg.Start
		for _, t := range s.Bitrate.Breakpoints(seg.Start, seg.End) {
			out = append(out, mapping.Segment{Start: start, End: t, Value: seg.Value})
			start = t
		}
		out = append(out, mapping.Segment{Start: start, End: seg.End, Value: seg.Value})
	}
	return out
}

// ModulationBER is the 802.11b decision: the minimum SNR after the PLCP
// header grace period must exceed SNRThreshold, then one draw each against
// the header and MPDU error probabilities.
type ModulationBER struct {
	Bandwidth      float64
	HeaderBitrate  float64
	HeaderBits     int
	PHYHeaderBits  int
	HeaderGrace    time.Duration
	SNRThreshold   float64
	CollisionStats bool
}

func (p *ModulationBER) Name() string { return string(PolicyModulationBER) }

func (p *ModulationBER) ProcessNewSignal(_ Env, f *model.Frame) (ReceptionState, time.Time) {
	return StateExpectEnd, f.Signal.ReceptionEnd()
}

func (p *ModulationBER) ProcessSignalHeader(_ Env, f *model.Frame) (bool, error) {
	return false, frameError("process header", f, ErrHeaderUnsupported)
}

func (p *ModulationBER) ProcessSignalEnd(env Env, f *model.Frame) (Decision, error) {
	s := f.Signal
	from := s.ReceptionStart.Add(p.HeaderGrace)
	if from.After(s.ReceptionEnd()) {
		from = s.ReceptionEnd()
	}
	rate := s.PayloadBitrate()
	if rate <= 0 {
		rate = p.HeaderBitrate
	}
	mpduBits := max(f.BitLength-p.PHYHeaderBits, 0)

	snrMin := minSNR(env.Aggregator.ComputeSNR(f), f, from)
	ok, prob := p.packetOK(env, snrMin, mpduBits, rate)

	res := baseResult(f, ok, snrMin)
	res.Bitrate = rate
	res.SuccessProbability = prob
	d := Decision{Correct: ok, Result: res}
	if ok {
		return d, nil
	}

	d.Reason = model.DropBitErrors
	if p.CollisionStats {
		noiseMin := minSNR(env.Aggregator.ComputeNoiseSNR(f), f, from)
		if wouldPass, _ := p.packetOK(env, noiseMin, mpduBits, rate); wouldPass {
			d.Reason = model.DropCollision
			d.Result.Collision = true
		}
	}
	return d, nil
}

func (p *ModulationBER) packetOK(env Env, snr float64, mpduBits int, rate float64) (bool, float64) {
	if snr <= p.SNRThreshold {
		return false, 0
	}
	headerOK := noErrorProbability(headerBER(snr, p.Bandwidth, p.HeaderBitrate), p.HeaderBits)
	mpduOK := noErrorProbability(payloadBER(snr, p.Bandwidth, rate), mpduBits)
	if env.Uniform() > headerOK {
		return false, headerOK * mpduOK
	}
	if env.Uniform() > mpduOK {
		return false, headerOK * mpduOK
	}
	return true, headerOK * mpduOK
}
