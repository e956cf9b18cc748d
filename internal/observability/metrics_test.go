package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/phy-decider/internal/logging"
	"github.com/signalsfoundry/phy-decider/model"
)

func TestDeciderCollectorRecordsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDeciderCollector(reg)
	if err != nil {
		t.Fatalf("NewDeciderCollector: %v", err)
	}

	collector.FrameDecided("snr_threshold", true, 100)
	collector.FrameDecided("snr_threshold", false, 0.5)
	collector.FrameDropped(model.DropCollision)
	collector.FrameDropped(model.DropCollision)

	if got := testutil.ToFloat64(collector.Frames.WithLabelValues("snr_threshold", "correct")); got != 1 {
		t.Fatalf("decider_frames_total{correct} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Frames.WithLabelValues("snr_threshold", "incorrect")); got != 1 {
		t.Fatalf("decider_frames_total{incorrect} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Drops.WithLabelValues("collision")); got != 2 {
		t.Fatalf("decider_drops_total{collision} = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "decider_min_snr_db", nil); count != 2 {
		t.Fatalf("decider_min_snr_db sample_count = %d, want 2", count)
	}
}

func TestDeciderCollectorChannelMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDeciderCollector(reg)
	if err != nil {
		t.Fatalf("NewDeciderCollector: %v", err)
	}

	collector.ChannelTransition(false)
	collector.ChannelTransition(true)
	collector.ChannelBusy(250 * time.Millisecond)
	collector.ChannelBusy(-time.Second)
	collector.TrackedFrames(3)
	collector.SenseRequestAnswered(model.UntilIdle, true)

	if got := testutil.ToFloat64(collector.ChannelTransitions.WithLabelValues("busy")); got != 1 {
		t.Fatalf("transitions{busy} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ChannelBusySeconds); got != 0.25 {
		t.Fatalf("busy seconds = %v, want 0.25", got)
	}
	if got := testutil.ToFloat64(collector.TrackedFrameCount); got != 3 {
		t.Fatalf("tracked frames = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.SenseAnswered.WithLabelValues("until_idle", "true")); got != 1 {
		t.Fatalf("csr answered = %v, want 1", got)
	}
}

func TestCollectorReRegistrationReusesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewDeciderCollector(reg)
	if err != nil {
		t.Fatalf("first NewDeciderCollector: %v", err)
	}
	second, err := NewDeciderCollector(reg)
	if err != nil {
		t.Fatalf("second NewDeciderCollector: %v", err)
	}
	first.FrameDropped(model.DropBitErrors)
	if got := testutil.ToFloat64(second.Drops.WithLabelValues("bit_errors")); got != 1 {
		t.Fatalf("second collector sees %v drops, want 1", got)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var d *DeciderCollector
	d.FrameDecided("x", true, 1)
	d.FrameDropped(model.DropCollision)
	d.ObserveCall("x", time.Millisecond)
	var s *SchedulerCollector
	s.EventScheduled()
	s.SetPending(3)
}

func TestSchedulerCollectorObservesQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSchedulerCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}
	c.EventScheduled()
	c.EventScheduled()
	c.EventCancelled()
	c.EventExecuted()
	c.SetPending(-1)

	if got := testutil.ToFloat64(c.EventsScheduled); got != 2 {
		t.Fatalf("scheduled = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.EventsPending); got != 0 {
		t.Fatalf("pending = %v, want 0", got)
	}
}

func TestMetricsHandlerExposesDeciderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDeciderCollector(reg)
	if err != nil {
		t.Fatalf("NewDeciderCollector: %v", err)
	}
	collector.FrameDecided("pass_through", true, 10)
	collector.FrameDropped(model.DropBelowSensitivity)
	collector.SenseRequestAnswered(model.UntilBusy, false)
	collector.ChannelTransition(true)
	collector.ObserveCall("process_signal", time.Microsecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"decider_frames_total",
		"decider_drops_total",
		"decider_csr_answered_total",
		"decider_channel_transitions_total",
		"decider_min_snr_db",
		"decider_call_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a valid span context")
	}
	span.End()
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("PHY_TRACING_ENABLED", "true")
	t.Setenv("PHY_TRACING_EXPORTER", "OTLP")
	t.Setenv("PHY_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("PHY_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("TracingConfigFromEnv() = %+v", cfg)
	}
	if cfg.ServiceName != "phy-decider" {
		t.Fatalf("service name = %q, want default", cfg.ServiceName)
	}
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestStdoutTracingWritesToConfiguredOutput(t *testing.T) {
	var buf strings.Builder
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "phy-test",
		SampleRatio: 1,
		Output:      &buf,
		Attributes:  map[string]string{"phy.policy": "snr_threshold"},
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer("test").Start(context.Background(), "decider.process_signal")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "decider.process_signal") || !strings.Contains(out, "snr_threshold") {
		t.Fatalf("span dump missing name or resource attribute:\n%s", out)
	}
}
