package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	coremetrics "github.com/haulex/dispatch/core/metrics"
)

func TestInfluxSinkRecordDispatchEvent(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	ev := coremetrics.DispatchEvent{
		Kind:           coremetrics.KindAccept,
		OrderID:        "o1",
		TruckRequestID: "tr1",
		TransporterID:  "t1",
		VehicleType:    "flatbed",
		Accepted:       true,
		Latency:        250 * time.Millisecond,
		Time:           time.Now(),
	}
	if err := sink.RecordDispatchEvent([]coremetrics.DispatchEvent{ev}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	for _, want := range []string{"dispatch_event", "kind=accept", "order_id=o1", "transporter_id=t1", "accepted=true"} {
		if !strings.Contains(body, want) {
			t.Errorf("line protocol missing %q: %s", want, body)
		}
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	var first, second int
	a := sinkFunc(func(evs []coremetrics.DispatchEvent) error { first += len(evs); return nil })
	b := sinkFunc(func(evs []coremetrics.DispatchEvent) error { second += len(evs); return nil })

	m := NewMultiSink(a, b)
	if err := m.RecordDispatchEvent([]coremetrics.DispatchEvent{{Kind: coremetrics.KindCancel}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if first != 1 || second != 1 {
		t.Fatalf("fan-out counts = %d, %d", first, second)
	}
}

type sinkFunc func([]coremetrics.DispatchEvent) error

func (f sinkFunc) RecordDispatchEvent(evs []coremetrics.DispatchEvent) error { return f(evs) }
