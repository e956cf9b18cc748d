// Package core implements the receiver-side decider: interference
// aggregation, the per-frame reception state machine, decision policies and
// the channel sense request protocol.
//
// Everything here is single-threaded and driven by the caller. Entry points
// never block; they return a Next telling the caller when to invoke them
// again for the same frame or request.
package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/phy-decider/internal/logging"
	"github.com/signalsfoundry/phy-decider/model"
)

type reception struct {
	frame *model.Frame
	state ReceptionState
	// decoding is set for the frame the receiver is synchronised on; every
	// other tracked frame is interference only.
	decoding bool
	// weak frames were below sensitivity and never make the channel busy.
	weak bool
}

// Stats are running counters kept by the engine.
type Stats struct {
	FramesReceived int
	FramesDropped  int
	// FramesWithInterference counts decoded frames that overlapped another
	// frame on the air.
	FramesWithInterference int
	SenseRequests          int
	// BusyTime is the accumulated time the channel was busy, including the
	// current busy period.
	BusyTime time.Duration
}

// DeciderEngine tracks frames arriving at one receiver and decides whether
// each was received.
type DeciderEngine struct {
	cfg     Config
	channel ChannelQuery
	uplink  Uplink
	agg     *ChannelAggregator
	policy  Policy
	coord   *ChannelSenseCoordinator
	log     logging.Logger
	metrics MetricsRecorder
	uniform func() float64

	tracked   map[model.FrameID]*reception
	decoding  *reception
	finished  map[model.FrameID]struct{}
	idle      bool
	busySince time.Time
	stats     Stats
}

// Option customises a DeciderEngine.
type Option func(*DeciderEngine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *DeciderEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics reports engine activity to m.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *DeciderEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPolicy overrides the policy built from Config.Policy.
func WithPolicy(p Policy) Option {
	return func(e *DeciderEngine) { e.policy = p }
}

// WithUniform replaces the seeded U[0,1) source.
func WithUniform(fn func() float64) Option {
	return func(e *DeciderEngine) { e.uniform = fn }
}

// NewDeciderEngine builds an engine for one receiver. The channel starts idle.
func NewDeciderEngine(cfg Config, channel ChannelQuery, uplink Uplink, opts ...Option) (*DeciderEngine, error) {
	if channel == nil || uplink == nil {
		return nil, fmt.Errorf("%w: channel and uplink are required", ErrInvalidConfig)
	}
	e := &DeciderEngine{
		cfg:      cfg,
		channel:  channel,
		uplink:   uplink,
		agg:      NewChannelAggregator(channel),
		log:      logging.Noop(),
		metrics:  noopMetrics{},
		tracked:  make(map[model.FrameID]*reception),
		finished: make(map[model.FrameID]struct{}),
		idle:     true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy == nil {
		p, err := NewPolicy(cfg)
		if err != nil {
			return nil, err
		}
		e.policy = p
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if e.uniform == nil {
		u := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)}
		e.uniform = u.Rand
	}
	e.coord = NewChannelSenseCoordinator(e.agg, channel, uplink, e.IsChannelIdle)
	e.coord.log = e.log
	e.coord.metrics = e.metrics
	return e, nil
}

// Aggregator returns the engine's channel aggregator.
func (e *DeciderEngine) Aggregator() *ChannelAggregator { return e.agg }

// Policy returns the active decision policy.
func (e *DeciderEngine) Policy() Policy { return e.policy }

// IsChannelIdle reports the channel idle status.
func (e *DeciderEngine) IsChannelIdle() bool { return e.idle }

// ChannelState returns the instantaneous idle status and RSSI.
func (e *DeciderEngine) ChannelState() model.ChannelState {
	return e.coord.ChannelState()
}

// State returns the reception state of f. Untracked frames are New unless
// the engine already finished them.
func (e *DeciderEngine) State(id model.FrameID) ReceptionState {
	if r, ok := e.tracked[id]; ok {
		return r.state
	}
	if _, ok := e.finished[id]; ok {
		return StateTerminal
	}
	return StateNew
}

// Tracked returns the number of frames currently tracked.
func (e *DeciderEngine) Tracked() int { return len(e.tracked) }

// Forget drops the memory of finished frames, typically once they left the
// air.
func (e *DeciderEngine) Forget(ids ...model.FrameID) {
	for _, id := range ids {
		delete(e.finished, id)
	}
}

// Stats returns a snapshot of the engine counters.
func (e *DeciderEngine) Stats() Stats {
	s := e.stats
	if !e.idle {
		s.BusyTime += e.channel.Now().Sub(e.busySince)
	}
	return s
}

// HandleChannelSenseRequest processes a new sense request or the timeout
// recall of the active one.
func (e *DeciderEngine) HandleChannelSenseRequest(ctx context.Context, csr *model.ChannelSenseRequest) (Next, error) {
	if csr != nil && e.coord.Active() == nil {
		if _, answered := csr.Result(); !answered {
			e.stats.SenseRequests++
		}
	}
	return e.coord.Handle(ctx, csr)
}

// ProcessSignal is invoked when a frame starts arriving and again at every
// time the engine asked to be recalled for it.
func (e *DeciderEngine) ProcessSignal(ctx context.Context, f *model.Frame) (Next, error) {
	if f == nil || f.Signal == nil {
		return NotAgain, frameError("process signal", f, ErrUnknownFrame)
	}
	r, ok := e.tracked[f.ID]
	if !ok {
		_, done := e.finished[f.ID]
		if done || e.channel.Now().After(f.Signal.ReceptionStart) {
			if e.cfg.Strict {
				return NotAgain, frameError("process signal", f, ErrUnknownFrame)
			}
			logging.FromContext(ctx, e.log).Warn(ctx, "ignoring untracked frame", logging.Uint64("frame_id", uint64(f.ID)))
			return NotAgain, nil
		}
		return e.processNewSignal(ctx, f)
	}

	switch r.state {
	case StateExpectHeader:
		return e.processSignalHeader(ctx, r)
	case StateExpectEnd:
		return e.processSignalEnd(ctx, r)
	default:
		return NotAgain, frameError("process signal", f, ErrUnknownFrame)
	}
}

func (e *DeciderEngine) env() Env {
	return Env{Now: e.channel.Now(), Aggregator: e.agg, Uniform: e.uniform}
}

func (e *DeciderEngine) atCapacity() bool {
	switch e.cfg.MaxConcurrentFrames {
	case 0:
		return false
	case 1:
		return len(e.tracked) > 0
	default:
		return len(e.tracked) >= e.cfg.MaxConcurrentFrames
	}
}

func (e *DeciderEngine) processNewSignal(ctx context.Context, f *model.Frame) (Next, error) {
	log := logging.FromContext(ctx, e.log).With(logging.Uint64("frame_id", uint64(f.ID)))
	s := f.Signal
	power := s.ReceivingPower().Value(s.StartPoint())

	if e.atCapacity() {
		log.Debug(ctx, "already receiving, frame is interference")
		e.drop(ctx, f, model.DropCollision, model.DeciderResult{RecvPowerDBm: toDB(power), Collision: true})
		return NotAgain, nil
	}

	if power < e.cfg.Sensitivity {
		if e.cfg.TrackWeakFrames && e.cfg.MaxConcurrentFrames == 0 {
			e.track(&reception{frame: f, state: StateExpectEnd, weak: true})
			log.Debug(ctx, "frame below sensitivity tracked as interference", logging.Float64("power", power))
			return RecallAt(s.ReceptionEnd()), nil
		}
		log.Debug(ctx, "frame below sensitivity", logging.Float64("power", power))
		e.drop(ctx, f, model.DropBelowSensitivity, model.DeciderResult{RecvPowerDBm: toDB(power)})
		return NotAgain, nil
	}

	r := &reception{frame: f, state: StateExpectEnd}
	at := s.ReceptionEnd()
	if e.decoding == nil {
		r.state, at = e.policy.ProcessNewSignal(e.env(), f)
		r.decoding = true
		e.decoding = r
	}
	e.track(r)
	log.Debug(ctx, "frame admitted",
		logging.String("state", r.state.String()),
		logging.Bool("decoding", r.decoding),
		logging.Time("recall_at", at),
	)
	// A frame waiting for header sync leaves the channel idle.
	if r.state != StateExpectHeader {
		e.setChannelIdleStatus(ctx, false)
	}
	return RecallAt(at), nil
}

func (e *DeciderEngine) processSignalHeader(ctx context.Context, r *reception) (Next, error) {
	f := r.frame
	synced, err := e.policy.ProcessSignalHeader(e.env(), f)
	if err != nil {
		return NotAgain, err
	}
	if !synced {
		logging.FromContext(ctx, e.log).Debug(ctx, "header sync failed", logging.Uint64("frame_id", uint64(f.ID)))
		e.untrack(r)
		e.drop(ctx, f, model.DropSyncFailed, model.DeciderResult{})
		e.updateIdle(ctx)
		return NotAgain, nil
	}
	r.state = StateExpectEnd
	e.setChannelIdleStatus(ctx, false)
	return RecallAt(f.Signal.ReceptionEnd()), nil
}

func (e *DeciderEngine) processSignalEnd(ctx context.Context, r *reception) (Next, error) {
	f := r.frame
	if !r.decoding {
		reason := model.DropCollision
		if r.weak {
			reason = model.DropBelowSensitivity
		}
		power := f.Signal.ReceivingPower().Value(f.Signal.StartPoint())
		e.untrack(r)
		e.drop(ctx, f, reason, model.DeciderResult{RecvPowerDBm: toDB(power), Collision: reason == model.DropCollision})
		e.updateIdle(ctx)
		return NotAgain, nil
	}

	s := f.Signal
	if len(e.channel.FramesOverlapping(s.ReceptionStart, s.ReceptionEnd())) > 1 {
		e.stats.FramesWithInterference++
	}

	d, err := e.policy.ProcessSignalEnd(e.env(), f)
	if err != nil {
		return NotAgain, err
	}
	e.untrack(r)
	e.metrics.FrameDecided(e.policy.Name(), d.Correct, d.Result.MinSNR)
	if d.Correct {
		e.stats.FramesReceived++
		logging.FromContext(ctx, e.log).Debug(ctx, "frame received",
			logging.Uint64("frame_id", uint64(f.ID)),
			logging.Float64("min_snr", d.Result.MinSNR),
		)
		e.uplink.SendUp(f, d.Result)
	} else {
		reason := d.Reason
		if reason == "" {
			reason = model.DropBitErrors
		}
		e.drop(ctx, f, reason, d.Result)
	}
	e.updateIdle(ctx)
	return NotAgain, nil
}

func (e *DeciderEngine) track(r *reception) {
	e.tracked[r.frame.ID] = r
	e.metrics.TrackedFrames(len(e.tracked))
}

func (e *DeciderEngine) untrack(r *reception) {
	r.state = StateTerminal
	delete(e.tracked, r.frame.ID)
	e.finished[r.frame.ID] = struct{}{}
	if e.decoding == r {
		e.decoding = nil
	}
	e.metrics.TrackedFrames(len(e.tracked))
}

func (e *DeciderEngine) drop(ctx context.Context, f *model.Frame, reason model.DropReason, res model.DeciderResult) {
	e.finished[f.ID] = struct{}{}
	e.stats.FramesDropped++
	e.metrics.FrameDropped(reason)
	logging.FromContext(ctx, e.log).Info(ctx, "frame dropped",
		logging.Uint64("frame_id", uint64(f.ID)),
		logging.String("reason", string(reason)),
	)
	e.uplink.SendControl(model.DropIndication{Frame: f, Reason: reason, Result: res})
}

// updateIdle sets the channel idle unless a detected frame past header sync
// is still tracked.
func (e *DeciderEngine) updateIdle(ctx context.Context) {
	for _, r := range e.tracked {
		if !r.weak && r.state != StateExpectHeader {
			e.setChannelIdleStatus(ctx, false)
			return
		}
	}
	e.setChannelIdleStatus(ctx, true)
}

// setChannelIdleStatus is the only writer of the idle flag. The sense
// coordinator is notified after every write.
func (e *DeciderEngine) setChannelIdleStatus(ctx context.Context, idle bool) {
	if e.idle != idle {
		now := e.channel.Now()
		if idle {
			busy := now.Sub(e.busySince)
			e.stats.BusyTime += busy
			e.metrics.ChannelBusy(busy)
		} else {
			e.busySince = now
		}
		e.idle = idle
		e.metrics.ChannelTransition(idle)
		logging.FromContext(ctx, e.log).Debug(ctx, "channel idle status changed", logging.Bool("idle", idle))
	}
	e.coord.OnChannelIdleStatusChanged(ctx, idle)
}
