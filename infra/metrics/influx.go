package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/haulex/dispatch/core/metrics"
	"github.com/haulex/dispatch/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordDispatchEvent writes each event as a point in the dispatch_event
// measurement.
func (s *InfluxSink) RecordDispatchEvent(events []coremetrics.DispatchEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ev := range events {
		ts := ev.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		p := write.NewPointWithMeasurement("dispatch_event").
			AddTag("kind", ev.Kind).
			AddTag("accepted", strconv.FormatBool(ev.Accepted)).
			AddTag("component", "dispatch_engine")
		if ev.VehicleType != "" {
			p = p.AddTag("vehicle_type", ev.VehicleType)
		}
		if ev.OrderID != "" {
			p = p.AddTag("order_id", ev.OrderID)
		}
		if ev.TruckRequestID != "" {
			p = p.AddTag("truck_request_id", ev.TruckRequestID)
		}
		if ev.TransporterID != "" {
			p = p.AddTag("transporter_id", ev.TransporterID)
		}
		p = p.AddField("count", ev.Count).
			AddField("latency_ms", ev.Latency.Seconds()*1000).
			SetTime(ts)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
