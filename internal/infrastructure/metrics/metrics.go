// Package metrics exposes router metrics to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/guide-lms/guide-router/internal/application/sessions"
	"github.com/guide-lms/guide-router/internal/domain/shared"
	"github.com/guide-lms/guide-router/internal/infrastructure/external/sheets"
)

const namespace = "guide"

// Collector holds every router metric on its own registry.
type Collector struct {
	Registry *prometheus.Registry

	EventsTotal    *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	LifecycleTotal *prometheus.CounterVec
	ActiveSessions prometheus.Gauge

	SheetFetchesTotal   *prometheus.CounterVec
	SheetFetchDuration  prometheus.Histogram
	SessionsSweptTotal  prometheus.Counter
	WebSocketConnsTotal prometheus.Counter
}

// NewCollector creates a Collector with all metrics registered, plus the Go
// runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Events processed by the router.",
		}, []string{"shape", "result"}),

		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "event_duration_seconds",
			Help:      "Time to route one event, including rule loading and delivery.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"shape"}),

		LifecycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle notifications published on the event bus.",
		}, []string{"type"}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions started and not yet ended in this process.",
		}),

		SheetFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sheets",
			Name:      "fetches_total",
			Help:      "Concept sheet downloads.",
		}, []string{"result"}),

		SheetFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sheets",
			Name:      "fetch_duration_seconds",
			Help:      "Concept sheet download duration, retries included.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		SessionsSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Idle sessions deactivated by the scheduler.",
		}),

		WebSocketConnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Accepted WebSocket connections.",
		}),
	}

	reg.MustRegister(
		c.EventsTotal,
		c.EventDuration,
		c.LifecycleTotal,
		c.ActiveSessions,
		c.SheetFetchesTotal,
		c.SheetFetchDuration,
		c.SessionsSweptTotal,
		c.WebSocketConnsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveEvent implements router.Observer. result is "ok" or the error kind.
func (c *Collector) ObserveEvent(shape string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = shared.ErrorKind(err)
	}
	c.EventsTotal.WithLabelValues(shape, result).Inc()
	c.EventDuration.WithLabelValues(shape).Observe(elapsed.Seconds())
}

// HandleLifecycle is a shared.EventHandler counting bus notifications.
func (c *Collector) HandleLifecycle(event shared.Event) error {
	c.LifecycleTotal.WithLabelValues(string(event.EventType())).Inc()
	switch event.EventType() {
	case shared.EventSessionStarted:
		c.ActiveSessions.Inc()
	case shared.EventSessionEnded:
		c.ActiveSessions.Dec()
		if e, ok := event.(shared.SessionEndedEvent); ok && e.Reason == sessions.ReasonIdleTimeout {
			c.SessionsSweptTotal.Inc()
		}
	}
	return nil
}

// ObserveSheetFetch matches sheets.ClientConfig.Observe.
func (c *Collector) ObserveSheetFetch(_ string, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, sheets.ErrSheetNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	c.SheetFetchesTotal.WithLabelValues(result).Inc()
	c.SheetFetchDuration.Observe(elapsed.Seconds())
}
