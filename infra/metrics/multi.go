package metrics

import coremetrics "github.com/haulex/dispatch/core/metrics"

// MultiSink fans dispatch events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDispatchEvent forwards the events to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordDispatchEvent(events []coremetrics.DispatchEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordDispatchEvent(events); err != nil {
			return err
		}
	}
	return nil
}
