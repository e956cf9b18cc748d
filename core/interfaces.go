package core

import (
	"time"

	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

// ChannelQuery is the narrow view of the channel the decider needs: which
// frames occupy an interval, the thermal noise over it, and the current
// simulation time.
type ChannelQuery interface {
	// FramesOverlapping returns every frame whose reception interval
	// intersects the closed interval [start, end].
	FramesOverlapping(start, end time.Time) []*model.Frame
	// ThermalNoise returns the noise floor over [start, end]. It may return
	// nil when no noise is modelled.
	ThermalNoise(start, end time.Time) *mapping.Function
	Now() time.Time
}

// Uplink receives the decider's outputs.
type Uplink interface {
	// SendUp hands a correctly received frame to the upper layer.
	SendUp(frame *model.Frame, result model.DeciderResult)
	// SendControl reports a frame that was not received.
	SendControl(drop model.DropIndication)
	// ReturnSenseRequest hands an answered sense request back to its requester.
	ReturnSenseRequest(csr *model.ChannelSenseRequest)
	// CancelRecall cancels the timeout invocation previously requested for csr.
	CancelRecall(csr *model.ChannelSenseRequest)
}

// MetricsRecorder receives decider statistics. observability.DeciderCollector
// implements it on Prometheus.
type MetricsRecorder interface {
	FrameDecided(policy string, correct bool, minSNR float64)
	FrameDropped(reason model.DropReason)
	SenseRequestAnswered(mode model.SenseMode, early bool)
	ChannelTransition(idle bool)
	ChannelBusy(d time.Duration)
	TrackedFrames(n int)
}

type noopMetrics struct{}

func (noopMetrics) FrameDecided(string, bool, float64)         {}
func (noopMetrics) FrameDropped(model.DropReason)              {}
func (noopMetrics) SenseRequestAnswered(model.SenseMode, bool) {}
func (noopMetrics) ChannelTransition(bool)                     {}
func (noopMetrics) ChannelBusy(time.Duration)                  {}
func (noopMetrics) TrackedFrames(int)                          {}
