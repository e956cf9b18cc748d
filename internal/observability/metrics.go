package observability

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/phy-decider/model"
)

// DeciderCollector bundles Prometheus metrics for a decider engine and its
// host. It satisfies core.MetricsRecorder.
type DeciderCollector struct {
	gatherer prometheus.Gatherer

	Frames             *prometheus.CounterVec
	Drops              *prometheus.CounterVec
	SenseAnswered      *prometheus.CounterVec
	ChannelTransitions *prometheus.CounterVec
	ChannelBusySeconds prometheus.Counter
	MinSNR             prometheus.Histogram
	TrackedFrameCount  prometheus.Gauge
	CallDurations      *prometheus.HistogramVec
}

// NewDeciderCollector registers decider metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewDeciderCollector(reg prometheus.Registerer) (*DeciderCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decider_frames_total",
		Help: "Frames that reached a decision, labeled by policy and outcome.",
	}, []string{"policy", "outcome"}), "decider_frames_total")
	if err != nil {
		return nil, err
	}

	drops, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decider_drops_total",
		Help: "Frames not handed up, labeled by drop reason.",
	}, []string{"reason"}), "decider_drops_total")
	if err != nil {
		return nil, err
	}

	csr, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decider_csr_answered_total",
		Help: "Answered channel sense requests, labeled by mode and whether they were answered before their timeout.",
	}, []string{"mode", "early"}), "decider_csr_answered_total")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decider_channel_transitions_total",
		Help: "Channel idle status changes, labeled by the new status.",
	}, []string{"to"}), "decider_channel_transitions_total")
	if err != nil {
		return nil, err
	}

	busy, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decider_channel_busy_seconds_total",
		Help: "Simulated time the channel spent busy.",
	}), "decider_channel_busy_seconds_total")
	if err != nil {
		return nil, err
	}

	minSNR, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "decider_min_snr_db",
		Help:    "Minimum SNR of decided frames in dB.",
		Buckets: prometheus.LinearBuckets(-10, 5, 10),
	}), "decider_min_snr_db")
	if err != nil {
		return nil, err
	}

	tracked, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "decider_tracked_frames",
		Help: "Frames currently tracked by the decider.",
	}), "decider_tracked_frames")
	if err != nil {
		return nil, err
	}

	calls, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "decider_call_duration_seconds",
		Help:    "Wall-clock latency of decider entry points.",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 0.01},
	}, []string{"op"}), "decider_call_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &DeciderCollector{
		gatherer:           gatherer,
		Frames:             frames,
		Drops:              drops,
		SenseAnswered:      csr,
		ChannelTransitions: transitions,
		ChannelBusySeconds: busy,
		MinSNR:             minSNR,
		TrackedFrameCount:  tracked,
		CallDurations:      calls,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *DeciderCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *DeciderCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// FrameDecided records a policy decision and the frame's minimum SNR.
func (c *DeciderCollector) FrameDecided(policy string, correct bool, minSNR float64) {
	if c == nil {
		return
	}
	outcome := "correct"
	if !correct {
		outcome = "incorrect"
	}
	if c.Frames != nil {
		c.Frames.WithLabelValues(policy, outcome).Inc()
	}
	if c.MinSNR != nil && minSNR > 0 {
		c.MinSNR.Observe(10 * math.Log10(minSNR))
	}
}

// FrameDropped counts a drop indication.
func (c *DeciderCollector) FrameDropped(reason model.DropReason) {
	if c == nil || c.Drops == nil {
		return
	}
	c.Drops.WithLabelValues(string(reason)).Inc()
}

// SenseRequestAnswered counts an answered channel sense request.
func (c *DeciderCollector) SenseRequestAnswered(mode model.SenseMode, early bool) {
	if c == nil || c.SenseAnswered == nil {
		return
	}
	c.SenseAnswered.WithLabelValues(mode.String(), strconv.FormatBool(early)).Inc()
}

// ChannelTransition counts a channel idle status change.
func (c *DeciderCollector) ChannelTransition(idle bool) {
	if c == nil || c.ChannelTransitions == nil {
		return
	}
	to := "busy"
	if idle {
		to = "idle"
	}
	c.ChannelTransitions.WithLabelValues(to).Inc()
}

// ChannelBusy adds a finished busy period.
func (c *DeciderCollector) ChannelBusy(d time.Duration) {
	if c == nil || c.ChannelBusySeconds == nil || d <= 0 {
		return
	}
	c.ChannelBusySeconds.Add(d.Seconds())
}

// TrackedFrames updates the tracked frame gauge.
func (c *DeciderCollector) TrackedFrames(n int) {
	if c == nil || c.TrackedFrameCount == nil {
		return
	}
	c.TrackedFrameCount.Set(float64(n))
}

// ObserveCall records the latency of one decider entry point invocation.
func (c *DeciderCollector) ObserveCall(op string, d time.Duration) {
	if c == nil || c.CallDurations == nil {
		return
	}
	c.CallDurations.WithLabelValues(op).Observe(d.Seconds())
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
