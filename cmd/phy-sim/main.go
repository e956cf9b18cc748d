// Command phy-sim replays a scenario file against a single receiver's
// decider and prints how every frame and sense request was resolved.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/phy-decider/core"
	"github.com/signalsfoundry/phy-decider/internal/logging"
	"github.com/signalsfoundry/phy-decider/internal/observability"
	"github.com/signalsfoundry/phy-decider/internal/phy"
	"github.com/signalsfoundry/phy-decider/internal/scenario"
	"github.com/signalsfoundry/phy-decider/internal/sim"
	"github.com/signalsfoundry/phy-decider/kb"
	"github.com/signalsfoundry/phy-decider/model"
	"github.com/signalsfoundry/phy-decider/timectrl"
)

// Config holds the command line settings.
type Config struct {
	ScenarioPath   string
	MetricsAddress string
	// Linger keeps the metrics endpoint up after the run until interrupted.
	Linger    bool
	LogLevel  string
	LogFormat string
	Tracing   bool
}

func parseFlags(args []string) (Config, error) {
	fs := pflag.NewFlagSet("phy-sim", pflag.ContinueOnError)
	cfg := Config{}
	fs.StringVarP(&cfg.ScenarioPath, "scenario", "s", "configs/scenario.yaml", "Path to a YAML scenario file.")
	fs.StringVar(&cfg.MetricsAddress, "metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables it.")
	fs.BoolVar(&cfg.Linger, "linger", false, "Keep serving metrics after the scenario finished.")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level: debug, info, warn or error.")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "text"), "Log format: text, json or pretty.")
	fs.BoolVar(&cfg.Tracing, "tracing", false, "Enable OpenTelemetry tracing (see PHY_TRACING_* variables).")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ScenarioPath == "" {
		return Config{}, errors.New("--scenario is required")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var lis net.Listener
	if cfg.MetricsAddress != "" {
		lis, err = net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			log.Error(ctx, "failed to listen for metrics", logging.String("addr", cfg.MetricsAddress), logging.Err(err))
			os.Exit(1)
		}
	}
	if err := run(ctx, cfg, log, lis, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run executes the scenario. When lis is non-nil the metrics endpoint is
// served on it for the duration of the run, or until ctx is done when
// cfg.Linger is set.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener, out io.Writer) error {
	sc, err := scenario.LoadFile(cfg.ScenarioPath)
	if err != nil {
		return err
	}
	deciderCfg, err := sc.DeciderConfig()
	if err != nil {
		return err
	}

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.Enabled = tracingCfg.Enabled || cfg.Tracing
	tracingCfg.Attributes = map[string]string{
		"phy.scenario": sc.Name,
		"phy.policy":   string(deciderCfg.Policy),
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	decider, err := observability.NewDeciderCollector(reg)
	if err != nil {
		return fmt.Errorf("init decider metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return fmt.Errorf("init scheduler metrics: %w", err)
	}

	epoch := time.Unix(0, 0).UTC()
	clock := timectrl.NewClock(epoch)
	sched := sim.NewEventScheduler(clock, sim.WithObserver(schedMetrics))
	report := newReporter(out, clock)

	layer, err := phy.NewLayer(deciderCfg, kb.NewAirFrames(), sched, report,
		phy.WithLogger(log),
		phy.WithMetrics(decider),
		phy.WithTracer(observability.Tracer("phy-sim")),
		phy.WithThermalNoise(sc.ThermalNoiseMW()),
		phy.WithRetention(sc.Retention),
	)
	if err != nil {
		return err
	}
	defer layer.Close()

	frames, err := sc.BuildFrames(epoch)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := layer.ScheduleFrame(f); err != nil {
			return err
		}
	}
	for _, s := range sc.SenseRequests(epoch) {
		layer.ScheduleSense(s.At, s.Request)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if lis != nil {
		srv := &http.Server{Handler: metricsMux(decider), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info(ctx, "serving Prometheus metrics", logging.String("addr", lis.Addr().String()))
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if !cfg.Linger {
			defer cancel()
		}
		log.Info(gctx, "running scenario",
			logging.String("name", sc.Name),
			logging.String("policy", string(deciderCfg.Policy)),
			logging.Int("frames", len(frames)),
		)
		steps, err := sim.RunUntil(runCtx, clock, sched, sc.End(epoch))
		if err != nil {
			return err
		}
		if err := layer.Err(); err != nil {
			return err
		}
		report.summary(layer.Engine().Stats(), steps)
		return nil
	})

	return g.Wait()
}

func metricsMux(c *observability.DeciderCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// reporter is the MAC of the simulated receiver. It prints one line per
// upper-layer indication.
type reporter struct {
	out   io.Writer
	clock timectrl.SimClock
	epoch time.Time
}

func newReporter(out io.Writer, clock *timectrl.Clock) *reporter {
	return &reporter{out: out, clock: clock, epoch: clock.StartTime}
}

func (r *reporter) elapsed() time.Duration {
	return r.clock.Now().Sub(r.epoch)
}

func (r *reporter) HandleFrame(f *model.Frame, res model.DeciderResult) {
	fmt.Fprintf(r.out, "%-12s frame %-6d %-18s snr=%6.1fdB rate=%.0f\n",
		r.elapsed(), f.ID, "received", toDB(res.MinSNR), res.Bitrate)
}

func (r *reporter) HandleDrop(d model.DropIndication) {
	fmt.Fprintf(r.out, "%-12s frame %-6d %-18s snr=%6.1fdB\n",
		r.elapsed(), d.Frame.ID, "dropped:"+string(d.Reason), toDB(d.Result.MinSNR))
}

func (r *reporter) HandleSenseResult(csr *model.ChannelSenseRequest) {
	state, _ := csr.Result()
	status := "busy"
	if state.Idle {
		status = "idle"
	}
	fmt.Fprintf(r.out, "%-12s csr   %-6d %-18s %s rssi=%.1fdBm\n", r.elapsed(), csr.ID, csr.Mode, status, toDB(state.RSSI))
}

func (r *reporter) summary(s core.Stats, steps int) {
	fmt.Fprintf(r.out, "done: %d received, %d dropped, %d with interference, %d sense requests, busy %s, %d steps\n",
		s.FramesReceived, s.FramesDropped, s.FramesWithInterference, s.SenseRequests, s.BusyTime, steps)
}

func toDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(v)
}
