package core

import (
	"context"
	"math"
	"time"

	"github.com/signalsfoundry/phy-decider/internal/logging"
	"github.com/signalsfoundry/phy-decider/model"
)

// ChannelSenseCoordinator holds at most one unanswered channel sense request
// and answers it as soon as its mode allows, or at its timeout.
type ChannelSenseCoordinator struct {
	agg     *ChannelAggregator
	channel ChannelQuery
	uplink  Uplink
	idle    func() bool
	log     logging.Logger
	metrics MetricsRecorder

	active *model.ChannelSenseRequest
	start  time.Time
}

// NewChannelSenseCoordinator returns a coordinator that reads the channel's
// idle status through idle.
func NewChannelSenseCoordinator(agg *ChannelAggregator, channel ChannelQuery, uplink Uplink, idle func() bool) *ChannelSenseCoordinator {
	return &ChannelSenseCoordinator{
		agg:     agg,
		channel: channel,
		uplink:  uplink,
		idle:    idle,
		log:     logging.Noop(),
		metrics: noopMetrics{},
	}
}

// Active returns the unanswered request, or nil.
func (c *ChannelSenseCoordinator) Active() *model.ChannelSenseRequest {
	return c.active
}

// Handle processes a new request or the timeout recall of the active one.
func (c *ChannelSenseCoordinator) Handle(ctx context.Context, csr *model.ChannelSenseRequest) (Next, error) {
	if csr == nil {
		return NotAgain, csrError("sense", csr, ErrUnsupportedSenseMode)
	}
	if _, answered := csr.Result(); answered {
		logging.FromContext(ctx, c.log).Warn(ctx, "ignoring invocation for answered sense request", logging.Uint64("csr_id", csr.ID))
		return NotAgain, nil
	}

	switch {
	case c.active == nil:
		switch csr.Mode {
		case model.UntilIdle, model.UntilBusy, model.UntilTimeout:
		default:
			return NotAgain, csrError("sense", csr, ErrUnsupportedSenseMode)
		}
		c.active = csr
		c.start = c.channel.Now()
		logging.FromContext(ctx, c.log).Debug(ctx, "sense request started",
			logging.Uint64("csr_id", csr.ID),
			logging.String("mode", csr.Mode.String()),
			logging.Duration("timeout", csr.Timeout),
		)
		if c.canAnswer() {
			c.answer(ctx)
			return NotAgain, nil
		}
		return RecallAt(c.start.Add(csr.Timeout)), nil

	case c.active == csr:
		// Timeout reached.
		c.answer(ctx)
		return NotAgain, nil

	default:
		return NotAgain, csrError("sense", csr, ErrConcurrentCSR)
	}
}

// CanAnswer reports whether the active request may be answered now.
func (c *ChannelSenseCoordinator) CanAnswer() bool {
	return c.active != nil && c.canAnswer()
}

func (c *ChannelSenseCoordinator) canAnswer() bool {
	idle := c.idle()
	switch {
	case c.active.Mode == model.UntilIdle && idle:
		return true
	case c.active.Mode == model.UntilBusy && !idle:
		return true
	default:
		return !c.channel.Now().Before(c.start.Add(c.active.Timeout))
	}
}

// OnChannelIdleStatusChanged answers the active request early when the new
// channel status satisfies it, cancelling its pending timeout recall.
func (c *ChannelSenseCoordinator) OnChannelIdleStatusChanged(ctx context.Context, idle bool) {
	if c.active == nil || !c.canAnswer() {
		return
	}
	c.uplink.CancelRecall(c.active)
	c.answer(ctx)
}

// ChannelState returns the instantaneous idle status and RSSI.
func (c *ChannelSenseCoordinator) ChannelState() model.ChannelState {
	now := c.channel.Now()
	return model.ChannelState{Idle: c.idle(), RSSI: clampRSSI(c.agg.RSSI(now, now))}
}

func (c *ChannelSenseCoordinator) answer(ctx context.Context) {
	csr := c.active
	now := c.channel.Now()
	state := model.ChannelState{
		Idle: c.idle(),
		RSSI: clampRSSI(c.agg.RSSI(c.start, now)),
	}
	csr.SetResult(state)
	early := now.Before(c.start.Add(csr.Timeout))
	c.active = nil

	logging.FromContext(ctx, c.log).Debug(ctx, "sense request answered",
		logging.Uint64("csr_id", csr.ID),
		logging.Bool("idle", state.Idle),
		logging.Float64("rssi", state.RSSI),
		logging.Bool("early", early),
	)
	c.metrics.SenseRequestAnswered(csr.Mode, early)
	c.uplink.ReturnSenseRequest(csr)
}

func clampRSSI(v float64) float64 {
	if math.IsInf(v, -1) || math.IsNaN(v) {
		return 0
	}
	return v
}
