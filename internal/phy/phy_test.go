package phy

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/phy-decider/core"
	"github.com/signalsfoundry/phy-decider/internal/logging"
	"github.com/signalsfoundry/phy-decider/internal/observability"
	"github.com/signalsfoundry/phy-decider/internal/sim"
	"github.com/signalsfoundry/phy-decider/kb"
	"github.com/signalsfoundry/phy-decider/model"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func ms(n int) time.Time { return epoch.Add(time.Duration(n) * time.Millisecond) }

type recordingMAC struct {
	frames []*model.Frame
	drops  []model.DropIndication
	sensed []*model.ChannelSenseRequest
}

func (m *recordingMAC) HandleFrame(f *model.Frame, _ model.DeciderResult) { m.frames = append(m.frames, f) }
func (m *recordingMAC) HandleDrop(d model.DropIndication)                 { m.drops = append(m.drops, d) }
func (m *recordingMAC) HandleSenseResult(csr *model.ChannelSenseRequest) {
	m.sensed = append(m.sensed, csr)
}

func frame(id model.FrameID, startMs, durMs int, power float64) *model.Frame {
	return &model.Frame{
		ID:     id,
		Signal: model.NewSignal(ms(startMs), time.Duration(durMs)*time.Millisecond, power),
	}
}

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.Sensitivity = 1
	cfg.SNRThreshold.Threshold = 2
	return cfg
}

func newTestLayer(t *testing.T, cfg core.Config, opts ...Option) (*Layer, *sim.FakeEventScheduler, *kb.AirFrames, *recordingMAC) {
	t.Helper()
	sched := sim.NewFakeEventScheduler(epoch)
	air := kb.NewAirFrames()
	mac := &recordingMAC{}
	opts = append([]Option{WithThermalNoise(1)}, opts...)
	p, err := NewLayer(cfg, air, sched, mac, opts...)
	if err != nil {
		t.Fatalf("NewLayer error: %v", err)
	}
	t.Cleanup(p.Close)
	return p, sched, air, mac
}

func TestLayerDeliversFramesAndRecalls(t *testing.T) {
	p, sched, _, mac := newTestLayer(t, testConfig())

	if err := p.ScheduleFrame(frame(1, 0, 10, 10)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	if err := p.ScheduleFrame(frame(2, 20, 5, 0.1)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	sched.AdvanceTo(ms(5))
	if p.Engine().IsChannelIdle() {
		t.Fatalf("channel should be busy mid-frame")
	}
	sched.AdvanceTo(ms(40))

	if err := p.Err(); err != nil {
		t.Fatalf("layer error: %v", err)
	}
	if len(mac.frames) != 1 || mac.frames[0].ID != 1 {
		t.Fatalf("received %v, want frame 1", mac.frames)
	}
	if len(mac.drops) != 1 || mac.drops[0].Reason != model.DropBelowSensitivity {
		t.Fatalf("drops = %+v, want below_sensitivity for frame 2", mac.drops)
	}
	if sched.Pending() != 0 {
		t.Fatalf("pending events = %d, want 0", sched.Pending())
	}
}

func TestLayerCancelsSenseTimeoutOnEarlyAnswer(t *testing.T) {
	p, sched, _, mac := newTestLayer(t, testConfig())
	if err := p.ScheduleFrame(frame(1, 0, 10, 10)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	csr := &model.ChannelSenseRequest{ID: 9, Mode: model.UntilIdle, Timeout: 50 * time.Millisecond}
	p.ScheduleSense(ms(2), csr)

	sched.AdvanceTo(ms(3))
	if sched.Pending() != 2 {
		t.Fatalf("pending = %d, want frame end and csr timeout", sched.Pending())
	}
	sched.AdvanceTo(ms(100))

	if len(mac.sensed) != 1 {
		t.Fatalf("csr answered %d times, want 1", len(mac.sensed))
	}
	state, _ := csr.Result()
	if !state.Idle || state.RSSI != 11 {
		t.Fatalf("csr result = %+v, want idle with rssi 11", state)
	}
	if len(p.csrEvents) != 0 {
		t.Fatalf("csr timeout still registered: %v", p.csrEvents)
	}
}

func TestLayerAnswersSenseAtTimeout(t *testing.T) {
	p, sched, _, mac := newTestLayer(t, testConfig())
	csr := &model.ChannelSenseRequest{ID: 1, Mode: model.UntilBusy, Timeout: 5 * time.Millisecond}
	if err := p.SenseChannel(csr); err != nil {
		t.Fatalf("SenseChannel error: %v", err)
	}
	sched.AdvanceTo(ms(4))
	if len(mac.sensed) != 0 {
		t.Fatalf("until_busy answered on an idle channel")
	}
	sched.AdvanceTo(ms(5))
	if len(mac.sensed) != 1 {
		t.Fatalf("csr not answered at timeout")
	}
	if state, _ := csr.Result(); !state.Idle || state.RSSI != 1 {
		t.Fatalf("result = %+v, want idle with noise rssi", state)
	}
}

func TestLayerStopsOnProtocolError(t *testing.T) {
	p, sched, _, mac := newTestLayer(t, testConfig())
	p.ScheduleSense(ms(0), &model.ChannelSenseRequest{ID: 1, Mode: model.UntilTimeout, Timeout: 10 * time.Millisecond})
	p.ScheduleSense(ms(1), &model.ChannelSenseRequest{ID: 2, Mode: model.UntilTimeout, Timeout: 10 * time.Millisecond})
	if err := p.ScheduleFrame(frame(1, 2, 5, 10)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	sched.AdvanceTo(ms(20))

	if !errors.Is(p.Err(), core.ErrConcurrentCSR) {
		t.Fatalf("Err() = %v, want ErrConcurrentCSR", p.Err())
	}
	if len(mac.frames)+len(mac.drops)+len(mac.sensed) != 0 {
		t.Fatalf("layer kept delivering after a protocol error")
	}
}

func TestLayerPurgesOldFrames(t *testing.T) {
	p, sched, air, _ := newTestLayer(t, testConfig(), WithRetention(time.Millisecond))
	if err := p.ScheduleFrame(frame(1, 0, 10, 10)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	if err := p.ScheduleFrame(frame(2, 20, 10, 10)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	sched.AdvanceTo(ms(15))
	if got := p.Engine().State(1); got != core.StateTerminal {
		t.Fatalf("state before purge = %v, want terminal", got)
	}
	sched.AdvanceTo(ms(40))

	if air.Get(1) != nil || air.Get(2) == nil {
		t.Fatalf("expected frame 1 purged and frame 2 retained")
	}
	if got := p.Engine().State(1); got != core.StateNew {
		t.Fatalf("purged frame state = %v, want forgotten", got)
	}
}

func TestScheduleFrameRejectsPast(t *testing.T) {
	p, sched, _, _ := newTestLayer(t, testConfig())
	sched.AdvanceTo(ms(5))
	if err := p.ScheduleFrame(frame(1, 0, 10, 10)); err == nil {
		t.Fatalf("expected error for a frame that already started")
	}
	if err := p.ScheduleFrame(&model.Frame{ID: 2}); err == nil {
		t.Fatalf("expected error for a frame without signal")
	}
}

func TestLayerRecordsMetricsAndSpans(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewDeciderCollector(reg)
	if err != nil {
		t.Fatalf("NewDeciderCollector: %v", err)
	}
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	p, sched, _, _ := newTestLayer(t, testConfig(), WithMetrics(collector), WithTracer(tp.Tracer("test")))
	if err := p.ScheduleFrame(frame(1, 0, 10, 10)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	sched.AdvanceTo(ms(20))

	if got := testutil.ToFloat64(collector.Frames.WithLabelValues("snr_threshold", "correct")); got != 1 {
		t.Fatalf("decider_frames_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ChannelBusySeconds); got != 0.01 {
		t.Fatalf("busy seconds = %v, want 0.01", got)
	}
	if got := len(rec.Ended()); got != 2 {
		t.Fatalf("recorded %d spans, want one per invocation", got)
	}
}

func TestNewLayerValidates(t *testing.T) {
	if _, err := NewLayer(testConfig(), nil, sim.NewFakeEventScheduler(epoch), &recordingMAC{}); err == nil {
		t.Fatalf("expected error for missing store")
	}
	cfg := testConfig()
	cfg.Policy = "bogus"
	if _, err := NewLayer(cfg, kb.NewAirFrames(), sim.NewFakeEventScheduler(epoch), &recordingMAC{}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestEngineLogsCarrySimulationTime(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	p, sched, _, _ := newTestLayer(t, testConfig(), WithLogger(log))
	if err := p.ScheduleFrame(frame(1, 0, 10, 0.1)); err != nil {
		t.Fatalf("ScheduleFrame error: %v", err)
	}
	sched.AdvanceTo(ms(1))

	out := buf.String()
	if !strings.Contains(out, `"msg":"frame dropped"`) || !strings.Contains(out, `"sim_time":"2025-01-01T00:00:00Z"`) {
		t.Fatalf("drop log missing simulation time:\n%s", out)
	}
}
