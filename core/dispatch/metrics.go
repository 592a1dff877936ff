package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ordersCreated    prometheus.Counter
	broadcastsTotal  *prometheus.CounterVec
	acceptAttempts   *prometheus.CounterVec
	acceptLatency    prometheus.Histogram
	notifySuccess    prometheus.Counter
	notifyFailure    prometheus.Counter
	expiredEntities  *prometheus.CounterVec
	declinesRecorded prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Histogram, prometheus.Counter, prometheus.Counter, *prometheus.CounterVec, prometheus.Counter) {
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Number of orders created",
	})
	bc := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcasts_total",
		Help: "Number of truck request broadcasts",
	}, []string{"vehicle_type"})
	acc := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accept_attempts_total",
		Help: "Acceptance attempts by outcome",
	}, []string{"outcome"})
	lat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "accept_latency_seconds",
		Help:    "Latency of acceptance attempts from lock to commit",
		Buckets: prometheus.DefBuckets,
	})
	ns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_publish_success_total",
		Help: "Number of successful notification publishes",
	})
	nf := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_publish_failure_total",
		Help: "Number of failed notification publishes",
	})
	exp := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expired_entities_total",
		Help: "Entities transitioned to expired",
	}, []string{"kind"})
	dec := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "declines_recorded_total",
		Help: "Number of broadcast declines recorded",
	})
	return created, bc, acc, lat, ns, nf, exp, dec
}

func init() {
	ordersCreated, broadcastsTotal, acceptAttempts, acceptLatency, notifySuccess, notifyFailure, expiredEntities, declinesRecorded = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(ordersCreated, broadcastsTotal, acceptAttempts, acceptLatency, notifySuccess, notifyFailure, expiredEntities, declinesRecorded)
}

// CountExpired adds n to the expiry counter for the given entity kind. Used
// by the reconciler sweep.
func CountExpired(kind string, n int64) {
	if n > 0 {
		expiredEntities.WithLabelValues(kind).Add(float64(n))
	}
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	ordersCreated, broadcastsTotal, acceptAttempts, acceptLatency, notifySuccess, notifyFailure, expiredEntities, declinesRecorded = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
