package model

import (
	"errors"
	"time"

	"github.com/signalsfoundry/phy-decider/mapping"
)

// ErrSignalSealed is returned when an attenuation is added after the
// receiving power has already been derived.
var ErrSignalSealed = errors.New("signal receiving power already computed")

// Signal describes the physical waveform carried by a Frame: when it
// reaches the receiver, how long it lasts, its power over time and
// optionally its bitrate over time.
//
// Analogue impairments (path loss, shadowing, fading) are added as
// multiplicative attenuation functions before the first call to
// ReceivingPower. They are applied once, in the order they were added, and
// the result is cached.
type Signal struct {
	ReceptionStart time.Time
	Duration       time.Duration

	// TransmissionPower is the power the sender emitted (mW), possibly per
	// subcarrier.
	TransmissionPower *mapping.Function

	// Bitrate is the bitrate over time (bit/s). Optional.
	Bitrate *mapping.Function

	// CenterFrequency and Bandwidth (Hz) bound the frequency range used for
	// multicarrier queries. Zero for time-only signals.
	CenterFrequency float64
	Bandwidth       float64

	attenuations   []*mapping.Function
	receivingPower *mapping.Function
}

// NewSignal returns a signal whose transmission power is a rectangle of
// power over [start, start+duration].
func NewSignal(start time.Time, duration time.Duration, power float64) *Signal {
	return &Signal{
		ReceptionStart:    start,
		Duration:          duration,
		TransmissionPower: mapping.Rectangle(start, start.Add(duration), power),
	}
}

// ReceptionEnd returns ReceptionStart + Duration.
func (s *Signal) ReceptionEnd() time.Time {
	return s.ReceptionStart.Add(s.Duration)
}

// AddAttenuation appends an impairment stage.
func (s *Signal) AddAttenuation(att *mapping.Function) error {
	if s.receivingPower != nil {
		return ErrSignalSealed
	}
	s.attenuations = append(s.attenuations, att)
	return nil
}

// ReceivingPower returns the transmission power with all attenuation stages
// applied.
func (s *Signal) ReceivingPower() *mapping.Function {
	if s.receivingPower != nil {
		return s.receivingPower
	}
	p := s.TransmissionPower
	if p == nil {
		p = mapping.Constant(0)
	}
	for _, att := range s.attenuations {
		p = mapping.Multiply(p, att)
	}
	s.receivingPower = p
	return p
}

// StartPoint returns the domain point used to sample the signal at its
// reception start: the start time at the centre frequency.
func (s *Signal) StartPoint() mapping.Point {
	return mapping.AtFreq(s.ReceptionStart, s.CenterFrequency)
}

// BandRange returns the lower and upper corners of the box spanning the
// signal's time interval and bandwidth.
func (s *Signal) BandRange(from, to time.Time) (mapping.Point, mapping.Point) {
	half := s.Bandwidth / 2
	return mapping.AtFreq(from, s.CenterFrequency-half), mapping.AtFreq(to, s.CenterFrequency+half)
}

// SetBitrate installs a two-level bitrate: headerRate for the first
// headerDuration of the signal, payloadRate for the rest.
func (s *Signal) SetBitrate(headerDuration time.Duration, headerRate, payloadRate float64) {
	b := mapping.NewBuilder(nil)
	switch {
	case headerDuration <= 0:
		b.Set(s.ReceptionStart, payloadRate)
	case headerDuration >= s.Duration:
		b.Set(s.ReceptionStart, headerRate)
	default:
		b.Set(s.ReceptionStart, headerRate).Set(s.ReceptionStart.Add(headerDuration), payloadRate)
	}
	s.Bitrate = b.SetAfter(s.ReceptionEnd(), 0).Build()
}

// HeaderBitrate returns the bitrate at reception start, 0 when unknown.
func (s *Signal) HeaderBitrate() float64 {
	if s.Bitrate == nil {
		return 0
	}
	return s.Bitrate.Value(mapping.At(s.ReceptionStart))
}

// PayloadBitrate returns the bitrate at reception end, 0 when unknown.
func (s *Signal) PayloadBitrate() float64 {
	if s.Bitrate == nil {
		return 0
	}
	return s.Bitrate.Value(mapping.At(s.ReceptionEnd()))
}
