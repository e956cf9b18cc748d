// Package phy hosts a decider engine on top of the discrete-event scheduler.
// It plays the physical layer around the engine: it owns the occupancy store
// the engine queries, delivers frame starts and recalls, arms sense request
// timeouts and forwards the engine's outputs to a MAC.
package phy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/phy-decider/core"
	"github.com/signalsfoundry/phy-decider/internal/logging"
	"github.com/signalsfoundry/phy-decider/internal/sim"
	"github.com/signalsfoundry/phy-decider/kb"
	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

// DefaultRetention is how long a frame stays in the occupancy store after
// its reception ended.
const DefaultRetention = time.Second

// MAC receives everything the decider hands up.
type MAC interface {
	HandleFrame(f *model.Frame, res model.DeciderResult)
	HandleDrop(d model.DropIndication)
	HandleSenseResult(csr *model.ChannelSenseRequest)
}

// Metrics is what the layer reports to. observability.DeciderCollector
// implements it.
type Metrics interface {
	core.MetricsRecorder
	ObserveCall(op string, d time.Duration)
}

// Layer is a receiver's physical layer.
type Layer struct {
	air     *kb.AirFrames
	sched   sim.EventScheduler
	mac     MAC
	engine  *core.DeciderEngine
	log     logging.Logger
	metrics Metrics
	tracer  trace.Tracer

	noise     *mapping.Function
	retention time.Duration

	csrEvents   map[uint64]string
	unsubscribe func()
	err         error
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the layer and engine logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Layer) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics reports engine and layer activity to m.
func WithMetrics(m Metrics) Option {
	return func(p *Layer) { p.metrics = m }
}

// WithTracer wraps every decider invocation in a span from t.
func WithTracer(t trace.Tracer) Option {
	return func(p *Layer) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithThermalNoise sets a constant noise floor in mW.
func WithThermalNoise(mw float64) Option {
	return func(p *Layer) {
		if mw > 0 {
			p.noise = mapping.Constant(mw)
		}
	}
}

// WithRetention sets how long finished frames stay on the air for
// interference computations.
func WithRetention(d time.Duration) Option {
	return func(p *Layer) {
		if d > 0 {
			p.retention = d
		}
	}
}

// NewLayer builds a layer and its decider engine. air may already hold
// frames; only frames passed to ScheduleFrame are delivered to the engine.
func NewLayer(cfg core.Config, air *kb.AirFrames, sched sim.EventScheduler, mac MAC, opts ...Option) (*Layer, error) {
	if air == nil || sched == nil || mac == nil {
		return nil, errors.New("phy: air, scheduler and mac are required")
	}
	p := &Layer{
		air:       air,
		sched:     sched,
		mac:       mac,
		log:       logging.Noop(),
		tracer:    noop.NewTracerProvider().Tracer("phy"),
		retention: DefaultRetention,
		csrEvents: make(map[uint64]string),
	}
	for _, opt := range opts {
		opt(p)
	}

	engineOpts := []core.Option{core.WithLogger(p.log)}
	if p.metrics != nil {
		engineOpts = append(engineOpts, core.WithMetrics(p.metrics))
	}
	engine, err := core.NewDeciderEngine(cfg, p, p, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("phy: create decider: %w", err)
	}
	p.engine = engine

	p.unsubscribe = air.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventFrameRemoved {
			p.engine.Forget(ev.Frame.ID)
		}
	})
	return p, nil
}

// Engine returns the hosted decider engine.
func (p *Layer) Engine() *core.DeciderEngine { return p.engine }

// Close detaches the layer from the occupancy store.
func (p *Layer) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// Err returns the first protocol error raised by the engine. Once set, the
// layer stops delivering events.
func (p *Layer) Err() error { return p.err }

// FramesOverlapping implements core.ChannelQuery.
func (p *Layer) FramesOverlapping(start, end time.Time) []*model.Frame {
	return p.air.FramesOverlapping(start, end)
}

// ThermalNoise implements core.ChannelQuery.
func (p *Layer) ThermalNoise(start, end time.Time) *mapping.Function {
	return p.noise
}

// Now implements core.ChannelQuery.
func (p *Layer) Now() time.Time { return p.sched.Now() }

// SendUp implements core.Uplink.
func (p *Layer) SendUp(f *model.Frame, res model.DeciderResult) { p.mac.HandleFrame(f, res) }

// SendControl implements core.Uplink.
func (p *Layer) SendControl(d model.DropIndication) { p.mac.HandleDrop(d) }

// ReturnSenseRequest implements core.Uplink.
func (p *Layer) ReturnSenseRequest(csr *model.ChannelSenseRequest) { p.mac.HandleSenseResult(csr) }

// CancelRecall implements core.Uplink.
func (p *Layer) CancelRecall(csr *model.ChannelSenseRequest) {
	if id, ok := p.csrEvents[csr.ID]; ok {
		p.sched.Cancel(id)
		delete(p.csrEvents, csr.ID)
	}
}

// ScheduleFrame puts f on the air and arranges for the engine to see it at
// its reception start.
func (p *Layer) ScheduleFrame(f *model.Frame) error {
	if f == nil || f.Signal == nil {
		return errors.New("phy: frame without signal")
	}
	if f.Signal.ReceptionStart.Before(p.Now()) {
		return fmt.Errorf("phy: frame %d starts at %v, before now %v", f.ID, f.Signal.ReceptionStart, p.Now())
	}
	if err := p.air.Add(f); err != nil {
		return err
	}
	p.sched.Schedule(f.Signal.ReceptionStart, func() { p.deliver(f) })
	return nil
}

// ScheduleSense arranges for csr to be issued at the given time.
func (p *Layer) ScheduleSense(at time.Time, csr *model.ChannelSenseRequest) {
	p.sched.Schedule(at, func() { p.sense(csr) })
}

// SenseChannel issues csr now.
func (p *Layer) SenseChannel(csr *model.ChannelSenseRequest) error {
	p.sense(csr)
	return p.err
}

func (p *Layer) deliver(f *model.Frame) {
	if p.err != nil {
		return
	}
	ctx, span := p.tracer.Start(p.logContext(), "decider.process_signal",
		trace.WithAttributes(
			attribute.Int64("frame.id", int64(f.ID)),
			attribute.String("frame.state", p.engine.State(f.ID).String()),
		))
	defer span.End()

	start := time.Now()
	next, err := p.engine.ProcessSignal(ctx, f)
	p.observe("process_signal", start)
	if err != nil {
		p.fail(ctx, span, err)
		return
	}
	if at, ok := next.Recall(); ok {
		span.SetAttributes(attribute.String("recall_at", at.Format(time.RFC3339Nano)))
		p.sched.Schedule(at, func() { p.deliver(f) })
		return
	}
	p.purge()
}

func (p *Layer) sense(csr *model.ChannelSenseRequest) {
	if p.err != nil {
		return
	}
	ctx, span := p.tracer.Start(p.logContext(), "decider.sense",
		trace.WithAttributes(
			attribute.Int64("csr.id", int64(csr.ID)),
			attribute.String("csr.mode", csr.Mode.String()),
		))
	defer span.End()

	start := time.Now()
	next, err := p.engine.HandleChannelSenseRequest(ctx, csr)
	p.observe("sense", start)
	if err != nil {
		p.fail(ctx, span, err)
		return
	}
	if at, ok := next.Recall(); ok {
		p.csrEvents[csr.ID] = p.sched.Schedule(at, func() {
			delete(p.csrEvents, csr.ID)
			p.sense(csr)
		})
	}
}

// logContext carries a logger stamped with the current simulation time.
func (p *Layer) logContext() context.Context {
	return logging.ContextWithLogger(context.Background(), p.log.With(logging.Time("sim_time", p.Now())))
}

func (p *Layer) observe(op string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveCall(op, time.Since(start))
	}
}

func (p *Layer) fail(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.log.Error(ctx, "decider protocol error, stopping", logging.Err(err))
	p.err = err
}

func (p *Layer) purge() {
	if n := p.air.Purge(p.Now().Add(-p.retention)); n > 0 {
		p.log.Debug(context.Background(), "purged frames from the air", logging.Int("count", n))
	}
}
