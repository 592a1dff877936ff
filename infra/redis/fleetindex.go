package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haulex/dispatch/core/match"
	"github.com/haulex/dispatch/core/model"
)

// GeoIndex implements match.FleetIndex on Redis GEO sets. Positions live in
// one sorted set per vehicle type, transporter metadata in a hash per
// transporter.
type GeoIndex struct {
	cli *redis.Client
}

// NewGeoIndex creates a GeoIndex.
func NewGeoIndex(cli *redis.Client) *GeoIndex { return &GeoIndex{cli: cli} }

func geoKey(vehicleType string) string { return "fleet:geo:" + vehicleType }
func metaKey(transporterID string) string { return "fleet:meta:" + transporterID }

func (g *GeoIndex) Update(ctx context.Context, t model.Transporter) error {
	pipe := g.cli.TxPipeline()
	pipe.GeoAdd(ctx, geoKey(t.VehicleType), &redis.GeoLocation{
		Name:      t.ID,
		Longitude: t.Location.Lon,
		Latitude:  t.Location.Lat,
	})
	pipe.HSet(ctx, metaKey(t.ID), map[string]any{
		"vehicle_type":    t.VehicleType,
		"vehicle_subtype": t.VehicleSubtype,
		"reported_at":     t.ReportedAt.Unix(),
	})
	// online_since is written once and survives position refreshes
	since := t.OnlineSince
	if since.IsZero() {
		since = t.ReportedAt
	}
	pipe.HSetNX(ctx, metaKey(t.ID), "online_since", since.Unix())
	_, err := pipe.Exec(ctx)
	return err
}

func (g *GeoIndex) Remove(ctx context.Context, transporterID string) error {
	vt, err := g.cli.HGet(ctx, metaKey(transporterID), "vehicle_type").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := g.cli.TxPipeline()
	pipe.ZRem(ctx, geoKey(vt), transporterID)
	pipe.Del(ctx, metaKey(transporterID))
	_, err = pipe.Exec(ctx)
	return err
}

// List scans the metadata hashes and resolves each transporter's position
// from its type's GEO set.
func (g *GeoIndex) List(ctx context.Context) ([]model.Transporter, error) {
	var out []model.Transporter
	iter := g.cli.Scan(ctx, 0, "fleet:meta:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := key[len("fleet:meta:"):]
		meta, err := g.cli.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		t := model.Transporter{
			ID:             id,
			VehicleType:    meta["vehicle_type"],
			VehicleSubtype: meta["vehicle_subtype"],
		}
		if sec, err := strconv.ParseInt(meta["online_since"], 10, 64); err == nil {
			t.OnlineSince = time.Unix(sec, 0)
		}
		if sec, err := strconv.ParseInt(meta["reported_at"], 10, 64); err == nil {
			t.ReportedAt = time.Unix(sec, 0)
		}
		pos, err := g.cli.GeoPos(ctx, geoKey(t.VehicleType), id).Result()
		if err == nil && len(pos) == 1 && pos[0] != nil {
			t.Location = model.Point{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
		}
		out = append(out, t)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GeoIndex) Near(ctx context.Context, origin model.Point, radiusKm float64, vehicleType, vehicleSubtype string) ([]match.Candidate, error) {
	locs, err := g.cli.GeoSearchLocation(ctx, geoKey(vehicleType), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lon,
			Latitude:   origin.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	var out []match.Candidate
	for _, loc := range locs {
		meta, err := g.cli.HGetAll(ctx, metaKey(loc.Name)).Result()
		if err != nil {
			return nil, err
		}
		if vehicleSubtype != "" && meta["vehicle_subtype"] != vehicleSubtype {
			continue
		}
		var since time.Time
		if raw, ok := meta["online_since"]; ok {
			if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
				since = time.Unix(sec, 0)
			}
		}
		out = append(out, match.Candidate{
			TransporterID: loc.Name,
			DistanceKm:    loc.Dist,
			OnlineSince:   since,
		})
	}
	return out, nil
}
