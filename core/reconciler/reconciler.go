// Package reconciler runs the background expiry sweep. The same conditional
// store updates back the engine's lazy read-time path, so entities can never
// be observed active past their deadline regardless of sweep timing.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/haulex/dispatch/core/dispatch"
	"github.com/haulex/dispatch/core/events"
	"github.com/haulex/dispatch/core/logger"
	"github.com/haulex/dispatch/core/model"
	"github.com/haulex/dispatch/internal/eventbus"
)

// Config defines sweep parameters.
type Config struct {
	// IntervalSeconds between sweeps.
	IntervalSeconds int `json:"interval_seconds"`
	// BatchSize bounds the rows expired per sweep round per entity kind.
	BatchSize int `json:"batch_size"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 120
	}
	if c.BatchSize == 0 {
		c.BatchSize = 256
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.IntervalSeconds < 0 || c.BatchSize < 0 {
		return fmt.Errorf("reconciler config values must not be negative")
	}
	return nil
}

// Reconciler expires timed-out orders and truck requests in bounded batches.
type Reconciler struct {
	store dispatch.Store
	cfg   Config
	bus   eventbus.EventBus
	log   logger.Logger
	now   func() time.Time
}

// New creates a Reconciler. bus may be nil.
func New(store dispatch.Store, cfg Config, bus eventbus.EventBus, log logger.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("reconciler: store is required")
	}
	cfg.SetDefaults()
	return &Reconciler{store: store, cfg: cfg, bus: bus, log: log, now: time.Now}, nil
}

// SetClock overrides the time source. Test helper.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Run sweeps on a fixed interval until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := r.Sweep(ctx); err != nil {
				r.log.Errorf("expiry sweep failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// maxRounds caps how many full batches one sweep may process, so a backlog
// cannot keep a single sweep running unbounded.
const maxRounds = 16

// Sweep expires due truck requests, then due orders, in batches of at most
// BatchSize. It repeats while full batches come back, up to maxRounds.
// Assigned and completed work is never touched; orders whose last open
// request just expired are settled to their derived terminal status instead.
func (r *Reconciler) Sweep(ctx context.Context) (ordersExpired, requestsExpired int64, err error) {
	now := r.now()
	touched := make(map[string]struct{})
	for round := 0; round < maxRounds; round++ {
		orderIDs, err := r.store.ExpireDueTruckRequests(ctx, now, r.cfg.BatchSize)
		if err != nil {
			return ordersExpired, requestsExpired, fmt.Errorf("expire truck requests: %w", err)
		}
		requestsExpired += int64(len(orderIDs))
		for _, id := range orderIDs {
			touched[id] = struct{}{}
		}
		if len(orderIDs) < r.cfg.BatchSize {
			break
		}
	}
	for round := 0; round < maxRounds; round++ {
		n, err := r.store.ExpireDueOrders(ctx, now, r.cfg.BatchSize)
		if err != nil {
			return ordersExpired, requestsExpired, fmt.Errorf("expire orders: %w", err)
		}
		ordersExpired += n
		if n < int64(r.cfg.BatchSize) {
			break
		}
	}
	ordersExpired += r.settleOrders(ctx, touched)
	if ordersExpired > 0 || requestsExpired > 0 {
		dispatch.CountExpired("order", ordersExpired)
		dispatch.CountExpired("truck_request", requestsExpired)
		r.log.Infof("expired %d orders and %d truck requests", ordersExpired, requestsExpired)
		if r.bus != nil {
			r.bus.Publish(events.ExpiryEvent{
				OrdersExpired:   int(ordersExpired),
				RequestsExpired: int(requestsExpired),
				At:              now,
			})
		}
	}
	return ordersExpired, requestsExpired, nil
}

// settleOrders re-derives the aggregate status of orders that lost requests
// to expiry and persists it when terminal, so an order never outlives its
// last settled request. Returns how many orders were flipped to expired.
func (r *Reconciler) settleOrders(ctx context.Context, orderIDs map[string]struct{}) int64 {
	var expired int64
	for id := range orderIDs {
		reqs, err := r.store.ListTruckRequests(ctx, id)
		if err != nil {
			r.log.Warnf("list truck requests for %s: %v", id, err)
			continue
		}
		derived := dispatch.DeriveOrderStatus(reqs)
		if !derived.Terminal() {
			continue
		}
		ok, err := r.store.UpdateOrderStatus(ctx, id, model.NonTerminalOrderStatuses(), derived)
		if err != nil {
			r.log.Warnf("settle order %s: %v", id, err)
			continue
		}
		if ok && derived == model.OrderExpired {
			expired++
		}
	}
	return expired
}
