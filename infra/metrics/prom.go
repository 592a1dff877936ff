// Package metrics provides the Prometheus and InfluxDB sink adapters plus the
// Prometheus HTTP endpoint.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/haulex/dispatch/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_lifecycle_events_total",
		Help: "Total number of dispatch lifecycle events",
	}, []string{"kind", "vehicle_type", "accepted"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_event_latency_seconds",
		Help:    "Latency attached to dispatch events that carry one",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	if err := reg.Register(events); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			events = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{events: events, latency: latency}, nil
}

// RecordDispatchEvent increments the counter for each event and observes the
// latency histogram when the event carries one.
func (s *PromSink) RecordDispatchEvent(events []coremetrics.DispatchEvent) error {
	for _, ev := range events {
		s.events.WithLabelValues(ev.Kind, ev.VehicleType, strconv.FormatBool(ev.Accepted)).Inc()
		if ev.Latency > 0 {
			s.latency.WithLabelValues(ev.Kind).Observe(ev.Latency.Seconds())
		}
	}
	return nil
}
