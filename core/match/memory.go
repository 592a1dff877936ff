package match

import (
	"context"
	"sync"

	"github.com/haulex/dispatch/core/model"
)

// MemoryIndex is an in-process FleetIndex backed by a map and haversine
// distance. Suitable for tests and single-node deployments.
type MemoryIndex struct {
	mu   sync.RWMutex
	data map[string]model.Transporter
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{data: make(map[string]model.Transporter)}
}

func (m *MemoryIndex) Update(_ context.Context, t model.Transporter) error {
	m.mu.Lock()
	if prev, ok := m.data[t.ID]; ok && !prev.OnlineSince.IsZero() && t.OnlineSince.IsZero() {
		// keep the original online-since through position refreshes
		t.OnlineSince = prev.OnlineSince
	}
	m.data[t.ID] = t
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, transporterID string) error {
	m.mu.Lock()
	delete(m.data, transporterID)
	m.mu.Unlock()
	return nil
}

// List returns every transporter currently in the index.
func (m *MemoryIndex) List(_ context.Context) ([]model.Transporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Transporter, 0, len(m.data))
	for _, t := range m.data {
		out = append(out, t)
	}
	return out, nil
}

func (m *MemoryIndex) Near(_ context.Context, origin model.Point, radiusKm float64, vehicleType, vehicleSubtype string) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Candidate
	for _, t := range m.data {
		if t.VehicleType != vehicleType {
			continue
		}
		if vehicleSubtype != "" && t.VehicleSubtype != vehicleSubtype {
			continue
		}
		d := model.HaversineKm(origin, t.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{TransporterID: t.ID, DistanceKm: d, OnlineSince: t.OnlineSince})
	}
	return out, nil
}
