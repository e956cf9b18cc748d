package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

// ChannelAggregator sums the power of every frame on the air plus thermal
// noise into one interference function.
type ChannelAggregator struct {
	channel ChannelQuery
}

// NewChannelAggregator returns an aggregator over channel.
func NewChannelAggregator(channel ChannelQuery) *ChannelAggregator {
	return &ChannelAggregator{channel: channel}
}

// ComputeInterference returns thermal noise plus the receiving power of
// every frame overlapping [start, end], except exclude. A nil exclude keeps
// every frame. The result is never nil; with no frames and no noise it is
// the zero constant.
func (a *ChannelAggregator) ComputeInterference(start, end time.Time, exclude *model.Frame) *mapping.Function {
	res := a.channel.ThermalNoise(start, end)
	if res == nil {
		res = mapping.Empty()
	}
	for _, f := range a.channel.FramesOverlapping(start, end) {
		if exclude != nil && f.ID == exclude.ID {
			continue
		}
		res = mapping.Add(res, f.Signal.ReceivingPower())
	}
	if res.IsEmpty() {
		return mapping.Constant(0)
	}
	return res
}

// ComputeSNR returns the signal to interference-plus-noise ratio of f over
// its reception interval.
func (a *ChannelAggregator) ComputeSNR(f *model.Frame) *mapping.Function {
	s := f.Signal
	noise := a.ComputeInterference(s.ReceptionStart, s.ReceptionEnd(), f)
	return mapping.Divide(s.ReceivingPower(), noise, 0)
}

// ComputeNoiseSNR returns the ratio of f's power to thermal noise alone,
// ignoring every other frame.
func (a *ChannelAggregator) ComputeNoiseSNR(f *model.Frame) *mapping.Function {
	s := f.Signal
	noise := a.channel.ThermalNoise(s.ReceptionStart, s.ReceptionEnd())
	if noise.IsEmpty() {
		noise = mapping.Constant(0)
	}
	return mapping.Divide(s.ReceivingPower(), noise, 0)
}

// RSSI returns the largest total received power over [start, end] across
// every band. It returns -Inf when nothing was observed.
func (a *ChannelAggregator) RSSI(start, end time.Time) float64 {
	rssi := a.ComputeInterference(start, end, nil)
	lo, hi := allBands(start, end)
	return mapping.FindMax(rssi, lo, hi)
}

func allBands(from, to time.Time) (mapping.Point, mapping.Point) {
	return mapping.AtFreq(from, math.Inf(-1)), mapping.AtFreq(to, math.Inf(1))
}

// signalBox returns the lower and upper corners used to search a frame's
// SNR between from and to. Signals without a bandwidth cover every band.
func signalBox(s *model.Signal, from, to time.Time) (mapping.Point, mapping.Point) {
	if s.Bandwidth > 0 {
		return s.BandRange(from, to)
	}
	return allBands(from, to)
}
