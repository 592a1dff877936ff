// Package metrics defines the dispatch event sink contract implemented by
// the Prometheus and InfluxDB adapters.
package metrics

import "time"

// Event kinds recorded by the engine.
const (
	KindOrderCreated = "order_created"
	KindBroadcast    = "broadcast"
	KindAccept       = "accept"
	KindDecline      = "decline"
	KindCancel       = "cancel"
	KindExpire       = "expire"
)

// DispatchEvent is one recorded lifecycle event.
type DispatchEvent struct {
	Kind           string
	OrderID        string
	TruckRequestID string
	TransporterID  string
	VehicleType    string
	Accepted       bool
	Count          int
	Latency        time.Duration
	Time           time.Time
}

// Sink persists dispatch events. Implementations must be safe for concurrent
// use; recording failures are logged by callers and never affect dispatch
// state.
type Sink interface {
	RecordDispatchEvent(events []DispatchEvent) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordDispatchEvent([]DispatchEvent) error { return nil }

// Config defines metric sink settings.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = "9090"
	}
}
