package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes event scheduler metrics. It satisfies
// sim.Observer.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	EventsScheduled prometheus.Counter
	EventsCancelled prometheus.Counter
	EventsExecuted  prometheus.Counter
	EventsPending   prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	scheduled, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_scheduled_total",
		Help: "Events added to the simulation event queue.",
	}), "sim_events_scheduled_total")
	if err != nil {
		return nil, err
	}

	cancelled, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_cancelled_total",
		Help: "Events cancelled before they ran, such as sense request timeouts answered early.",
	}), "sim_events_cancelled_total")
	if err != nil {
		return nil, err
	}

	executed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_executed_total",
		Help: "Events executed by the scheduler.",
	}), "sim_events_executed_total")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_events_pending",
		Help: "Events currently waiting in the queue.",
	}), "sim_events_pending")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:        gatherer,
		EventsScheduled: scheduled,
		EventsCancelled: cancelled,
		EventsExecuted:  executed,
		EventsPending:   pending,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// EventScheduled increments the scheduled counter.
func (c *SchedulerCollector) EventScheduled() {
	if c == nil || c.EventsScheduled == nil {
		return
	}
	c.EventsScheduled.Inc()
}

// EventCancelled increments the cancelled counter.
func (c *SchedulerCollector) EventCancelled() {
	if c == nil || c.EventsCancelled == nil {
		return
	}
	c.EventsCancelled.Inc()
}

// EventExecuted increments the executed counter.
func (c *SchedulerCollector) EventExecuted() {
	if c == nil || c.EventsExecuted == nil {
		return
	}
	c.EventsExecuted.Inc()
}

// SetPending updates the queue depth gauge.
func (c *SchedulerCollector) SetPending(n int) {
	if c == nil || c.EventsPending == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	c.EventsPending.Set(float64(n))
}
