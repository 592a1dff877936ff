// Package match implements progressive-radius candidate matching over a
// fleet presence index.
package match

import (
	"context"
	"sort"
	"time"

	"github.com/haulex/dispatch/core/logger"
	"github.com/haulex/dispatch/core/model"
)

// Candidate is a transporter eligible for a broadcast, annotated with the
// distance from the pickup point.
type Candidate struct {
	TransporterID string    `json:"transporter_id"`
	DistanceKm    float64   `json:"distance_km"`
	OnlineSince   time.Time `json:"online_since"`
}

// FleetIndex answers radius queries over live transporter presence.
// Implementations: MemoryIndex and the Redis GEO index.
type FleetIndex interface {
	// Near returns all transporters of the given type within radiusKm of
	// origin. An empty subtype matches any subtype.
	Near(ctx context.Context, origin model.Point, radiusKm float64, vehicleType, vehicleSubtype string) ([]Candidate, error)

	// Update records or refreshes a transporter's presence.
	Update(ctx context.Context, t model.Transporter) error

	// Remove drops a transporter from the index.
	Remove(ctx context.Context, transporterID string) error
}

// Config defines the search rings in kilometers.
type Config struct {
	RadiiKm []float64 `json:"radii_km"`
}

// SetDefaults applies the standard ring set.
func (c *Config) SetDefaults() {
	if len(c.RadiiKm) == 0 {
		c.RadiiKm = []float64{10, 25, 50, 75}
	}
}

// Matcher searches in expanding rings, stopping at the first ring that yields
// at least one candidate.
type Matcher struct {
	index FleetIndex
	radii []float64
	log   logger.Logger
}

// NewMatcher creates a Matcher. The config is defaulted if empty.
func NewMatcher(index FleetIndex, cfg Config, log logger.Logger) *Matcher {
	cfg.SetDefaults()
	return &Matcher{index: index, radii: cfg.RadiiKm, log: log}
}

// FindCandidates returns candidates for the first non-empty ring, ordered by
// ascending distance, ties broken by longest continuous online time. An empty
// result after exhausting all rings is a normal outcome, not an error; only
// index transport failures are returned as errors.
func (m *Matcher) FindCandidates(ctx context.Context, origin model.Point, vehicleType, vehicleSubtype string) ([]Candidate, error) {
	for _, radius := range m.radii {
		cands, err := m.index.Near(ctx, origin, radius, vehicleType, vehicleSubtype)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			continue
		}
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].DistanceKm != cands[j].DistanceKm {
				return cands[i].DistanceKm < cands[j].DistanceKm
			}
			return cands[i].OnlineSince.Before(cands[j].OnlineSince)
		})
		m.log.Debugw("candidates found", map[string]any{
			"radius_km":    radius,
			"vehicle_type": vehicleType,
			"count":        len(cands),
		})
		return cands, nil
	}
	return nil, nil
}
