package core

import (
	"time"

	"github.com/signalsfoundry/phy-decider/kb"
	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func ms(n int) time.Time { return epoch.Add(time.Duration(n) * time.Millisecond) }

// fakeChannel serves frames from an AirFrames store with a settable clock
// and an optional constant noise floor.
type fakeChannel struct {
	air   *kb.AirFrames
	now   time.Time
	noise float64
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{air: kb.NewAirFrames(), now: epoch}
}

func (c *fakeChannel) FramesOverlapping(start, end time.Time) []*model.Frame {
	return c.air.FramesOverlapping(start, end)
}

func (c *fakeChannel) ThermalNoise(start, end time.Time) *mapping.Function {
	if c.noise == 0 {
		return nil
	}
	return mapping.Constant(c.noise)
}

func (c *fakeChannel) Now() time.Time { return c.now }

// put adds a frame with a rectangular power profile to the air.
func (c *fakeChannel) put(id model.FrameID, startMs, durMs int, power float64) *model.Frame {
	f := &model.Frame{
		ID:     id,
		Signal: model.NewSignal(ms(startMs), time.Duration(durMs)*time.Millisecond, power),
	}
	if err := c.air.Add(f); err != nil {
		panic(err)
	}
	return f
}

type recordingUplink struct {
	up        []*model.Frame
	results   []model.DeciderResult
	drops     []model.DropIndication
	returned  []*model.ChannelSenseRequest
	cancelled []*model.ChannelSenseRequest
}

func (u *recordingUplink) SendUp(f *model.Frame, res model.DeciderResult) {
	u.up = append(u.up, f)
	u.results = append(u.results, res)
}

func (u *recordingUplink) SendControl(d model.DropIndication) { u.drops = append(u.drops, d) }

func (u *recordingUplink) ReturnSenseRequest(csr *model.ChannelSenseRequest) {
	u.returned = append(u.returned, csr)
}

func (u *recordingUplink) CancelRecall(csr *model.ChannelSenseRequest) {
	u.cancelled = append(u.cancelled, csr)
}

type recordingMetrics struct {
	decided     int
	dropped     map[model.DropReason]int
	answered    int
	early       int
	transitions []bool
	busy        time.Duration
	tracked     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{dropped: make(map[model.DropReason]int)}
}

func (m *recordingMetrics) FrameDecided(string, bool, float64) { m.decided++ }
func (m *recordingMetrics) FrameDropped(r model.DropReason)    { m.dropped[r]++ }
func (m *recordingMetrics) SenseRequestAnswered(_ model.SenseMode, early bool) {
	m.answered++
	if early {
		m.early++
	}
}
func (m *recordingMetrics) ChannelTransition(idle bool)  { m.transitions = append(m.transitions, idle) }
func (m *recordingMetrics) ChannelBusy(d time.Duration) { m.busy += d }
func (m *recordingMetrics) TrackedFrames(n int)         { m.tracked = n }

// fixedUniform returns the given draws in order, then repeats the last one.
func fixedUniform(draws ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := draws[min(i, len(draws)-1)]
		i++
		return v
	}
}

func thresholdConfig(sensitivity, threshold float64) Config {
	cfg := DefaultConfig()
	cfg.Sensitivity = sensitivity
	cfg.SNRThreshold.Threshold = threshold
	return cfg
}
