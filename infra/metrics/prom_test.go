package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/haulex/dispatch/core/metrics"
)

func TestPromSinkRecordDispatchEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	sink, ok := sinkIf.(*PromSink)
	if !ok {
		t.Fatalf("expected PromSink")
	}

	evs := []coremetrics.DispatchEvent{
		{Kind: coremetrics.KindAccept, VehicleType: "flatbed", Accepted: true, Latency: 150 * time.Millisecond},
		{Kind: coremetrics.KindBroadcast, VehicleType: "flatbed", Count: 3},
	}
	if err := sink.RecordDispatchEvent(evs); err != nil {
		t.Fatalf("record error: %v", err)
	}

	expected := `
# HELP dispatch_lifecycle_events_total Total number of dispatch lifecycle events
# TYPE dispatch_lifecycle_events_total counter
dispatch_lifecycle_events_total{accepted="true",kind="accept",vehicle_type="flatbed"} 1
dispatch_lifecycle_events_total{accepted="false",kind="broadcast",vehicle_type="flatbed"} 1
`
	if err := testutil.CollectAndCompare(sink.events, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if c := testutil.CollectAndCount(sink.latency); c == 0 {
		t.Errorf("latency not recorded")
	}
}

func TestPromSinkReregistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	// a second sink on the same registry reuses the collectors
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("second registration: %v", err)
	}
}
