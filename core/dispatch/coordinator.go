package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haulex/dispatch/core/events"
	"github.com/haulex/dispatch/core/logger"
	"github.com/haulex/dispatch/core/match"
	"github.com/haulex/dispatch/core/metrics"
	"github.com/haulex/dispatch/core/model"
	"github.com/haulex/dispatch/core/notify"
	"github.com/haulex/dispatch/internal/eventbus"
)

// Coordinator drives the broadcast lifecycle of truck requests: offering
// them to candidate transporters and arbitrating exclusive acceptance.
//
// Acceptance is linearized by the store's conditional update (first writer
// wins). The distributed lock only reduces wasted work under contention; its
// loss or expiry is never a correctness failure.
type Coordinator struct {
	store   Store
	locks   lockManager
	gateway notify.Gateway
	cfg     Config
	sink    metrics.Sink
	bus     eventbus.EventBus
	log     logger.Logger
	now     func() time.Time
}

// lockManager mirrors core/lock.Manager. Declared locally to keep the
// package dependency direction store-agnostic.
type lockManager interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// NewCoordinator creates a Coordinator. store, locks and gateway are
// mandatory; sink and bus may be nil.
func NewCoordinator(store Store, locks lockManager, gateway notify.Gateway, cfg Config, sink metrics.Sink, bus eventbus.EventBus, log logger.Logger) (*Coordinator, error) {
	if store == nil || locks == nil || gateway == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewCoordinator")
	}
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Coordinator{
		store:   store,
		locks:   locks,
		gateway: gateway,
		cfg:     cfg,
		sink:    sink,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}, nil
}

// SetClock overrides the time source. Test helper.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

type offerPayload struct {
	TruckRequestID string  `json:"truck_request_id"`
	OrderID        string  `json:"order_id"`
	VehicleType    string  `json:"vehicle_type"`
	VehicleSubtype string  `json:"vehicle_subtype,omitempty"`
	PricePerUnit   int64   `json:"price_per_unit"`
	DistanceKm     float64 `json:"distance_km"`
	ExpiresAt      int64   `json:"expires_at"`
}

// Broadcast offers the truck request to the candidate set, excluding
// transporters that previously declined it. Fan-out is fire-and-forget: a
// failed publish is logged and counted, never retried in the caller's path.
func (c *Coordinator) Broadcast(ctx context.Context, tr model.TruckRequest, candidates []match.Candidate) error {
	declined, err := c.store.DeclinedTransporters(ctx, tr.ID)
	if err != nil {
		return fmt.Errorf("load declines: %w", err)
	}
	if len(declined) > 0 {
		skip := make(map[string]bool, len(declined))
		for _, id := range declined {
			skip[id] = true
		}
		kept := candidates[:0]
		for _, cand := range candidates {
			if !skip[cand.TransporterID] {
				kept = append(kept, cand)
			}
		}
		candidates = kept
	}

	broadcastsTotal.WithLabelValues(tr.VehicleType).Inc()
	if c.bus != nil {
		c.bus.Publish(events.BroadcastEvent{TruckRequestID: tr.ID, VehicleType: tr.VehicleType, Candidates: len(candidates)})
	}
	c.recordEvent(metrics.DispatchEvent{
		Kind:           metrics.KindBroadcast,
		OrderID:        tr.OrderID,
		TruckRequestID: tr.ID,
		VehicleType:    tr.VehicleType,
		Count:          len(candidates),
		Time:           c.now(),
	})
	if len(candidates) == 0 {
		c.log.Infof("no candidates for truck request %s (%s)", tr.ID, tr.VehicleType)
		return nil
	}

	if hold := c.cfg.HoldWindow(); hold > 0 {
		if ok, err := c.store.UpdateTruckRequestStatus(ctx, tr.ID, []model.TruckRequestStatus{model.TruckSearching}, model.TruckHeld); err != nil {
			c.log.Warnf("hold update failed for %s: %v", tr.ID, err)
		} else if ok {
			c.scheduleHoldRelease(tr.ID, hold)
		}
	}

	var wg sync.WaitGroup
	for _, cand := range candidates {
		wg.Add(1)
		go func(cand match.Candidate) {
			defer wg.Done()
			payload := offerPayload{
				TruckRequestID: tr.ID,
				OrderID:        tr.OrderID,
				VehicleType:    tr.VehicleType,
				VehicleSubtype: tr.VehicleSubtype,
				PricePerUnit:   tr.PricePerUnit,
				DistanceKm:     cand.DistanceKm,
				ExpiresAt:      tr.ExpiresAt.Unix(),
			}
			if err := c.gateway.Publish(ctx, notify.EventBroadcastOffer, []string{cand.TransporterID}, payload); err != nil {
				notifyFailure.Inc()
				c.log.Warnf("offer publish to %s failed: %v", cand.TransporterID, err)
				return
			}
			notifySuccess.Inc()
		}(cand)
	}
	wg.Wait()
	c.log.Infof("broadcast %s to %d transporters", tr.ID, len(candidates))
	return nil
}

// scheduleHoldRelease reverts held back to searching once the hold window
// lapses. Best-effort: if the request was assigned meanwhile the conditional
// update is a no-op.
func (c *Coordinator) scheduleHoldRelease(truckRequestID string, after time.Duration) {
	time.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.store.UpdateTruckRequestStatus(ctx, truckRequestID, []model.TruckRequestStatus{model.TruckHeld}, model.TruckSearching); err != nil {
			c.log.Warnf("hold release failed for %s: %v", truckRequestID, err)
		}
	})
}

// Accept performs an exclusive acceptance of the truck request for the given
// crew. At most one Accept ever succeeds per request; losers receive a
// ConflictError, not a generic failure.
func (c *Coordinator) Accept(ctx context.Context, truckRequestID string, crew Crew) (*model.Assignment, error) {
	start := c.now()
	asn, err := c.accept(ctx, truckRequestID, crew)
	latency := c.now().Sub(start)
	acceptLatency.Observe(latency.Seconds())

	outcome := "accepted"
	switch {
	case err == nil:
	case IsConflict(err, ""):
		outcome = "conflict"
	case IsExpired(err):
		outcome = "expired"
	case IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	acceptAttempts.WithLabelValues(outcome).Inc()

	if c.bus != nil {
		c.bus.Publish(events.AcceptEvent{
			TruckRequestID: truckRequestID,
			TransporterID:  crew.TransporterID,
			Accepted:       err == nil,
			Err:            err,
			Latency:        latency,
		})
	}
	c.recordEvent(metrics.DispatchEvent{
		Kind:           metrics.KindAccept,
		TruckRequestID: truckRequestID,
		TransporterID:  crew.TransporterID,
		Accepted:       err == nil,
		Latency:        latency,
		Time:           c.now(),
	})
	return asn, err
}

func (c *Coordinator) accept(ctx context.Context, truckRequestID string, crew Crew) (*model.Assignment, error) {
	if truckRequestID == "" || crew.TransporterID == "" {
		return nil, ValidationError{Msg: "truck request id and transporter id are required"}
	}

	key := "truckreq:" + truckRequestID
	token := uuid.NewString()
	acquired, err := c.locks.Acquire(ctx, key, token, c.cfg.LockTTL())
	if err != nil {
		// Store down is not the same as lock held: without exclusion we
		// cannot even bound duplicate fan-out, so refuse conservatively.
		return nil, fmt.Errorf("lock store unavailable: %w", err)
	}
	if !acquired {
		return nil, ConflictError{Reason: ReasonLockHeld, Msg: "another acceptance is in flight"}
	}
	defer func() {
		// Best-effort release; the conditional update already decided the
		// outcome, so a stuck lock only costs contention until its TTL.
		released, rerr := c.locks.Release(ctx, key, token)
		if rerr != nil {
			c.log.Warnf("lock release failed for %s: %v", key, rerr)
		} else if !released {
			c.log.Warnf("lock %s no longer owned at release", key)
		}
	}()

	tr, err := c.store.GetTruckRequest(ctx, truckRequestID)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, NotFoundError{Kind: "truck request", ID: truckRequestID}
	}
	now := c.now()
	if tr.Status.Open() && now.After(tr.ExpiresAt) {
		// Lazy expiry on the accept path: a single conditional update, never
		// read-then-write.
		if ok, uerr := c.store.UpdateTruckRequestStatus(ctx, truckRequestID, []model.TruckRequestStatus{model.TruckSearching, model.TruckHeld}, model.TruckExpired); uerr == nil && ok {
			expiredEntities.WithLabelValues("truck_request").Inc()
		}
		return nil, ExpiredError{Kind: "truck request", ID: truckRequestID}
	}
	if tr.Status == model.TruckExpired {
		return nil, ExpiredError{Kind: "truck request", ID: truckRequestID}
	}
	if !tr.Status.Open() {
		return nil, ConflictError{Reason: ReasonAlreadyAssigned, Msg: "truck request is " + string(tr.Status)}
	}

	// The authoritative conflict check: zero rows updated means someone else
	// won, regardless of the lock.
	ok, err := c.store.AssignTruckRequest(ctx, truckRequestID, crew)
	if err != nil {
		return nil, fmt.Errorf("assign truck request: %w", err)
	}
	if !ok {
		return nil, ConflictError{Reason: ReasonAlreadyAssigned}
	}

	asn := &model.Assignment{
		ID:             uuid.NewString(),
		TruckRequestID: truckRequestID,
		TransporterID:  crew.TransporterID,
		DriverID:       crew.DriverID,
		VehicleID:      crew.VehicleID,
		Status:         model.AssignmentAccepted,
		AcceptedAt:     now,
	}
	if err := c.store.CreateAssignment(ctx, asn); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}

	c.refreshOrderStatus(ctx, tr.OrderID)
	c.notifyAssignment(ctx, tr, asn)
	return asn, nil
}

// Decline records that the transporter opted out of the broadcast. The truck
// request status is untouched; the transporter is excluded from future
// candidate consideration for this request.
func (c *Coordinator) Decline(ctx context.Context, truckRequestID, transporterID, reason string) error {
	if truckRequestID == "" || transporterID == "" {
		return ValidationError{Msg: "truck request id and transporter id are required"}
	}
	tr, err := c.store.GetTruckRequest(ctx, truckRequestID)
	if err != nil {
		return err
	}
	if tr == nil {
		return NotFoundError{Kind: "truck request", ID: truckRequestID}
	}
	d := &model.BroadcastDecline{
		ID:             uuid.NewString(),
		TruckRequestID: truckRequestID,
		TransporterID:  transporterID,
		Reason:         reason,
	}
	if err := c.store.RecordDecline(ctx, d); err != nil {
		return fmt.Errorf("record decline: %w", err)
	}
	declinesRecorded.Inc()
	if c.bus != nil {
		c.bus.Publish(events.DeclineEvent{TruckRequestID: truckRequestID, TransporterID: transporterID, Reason: reason})
	}
	c.recordEvent(metrics.DispatchEvent{
		Kind:           metrics.KindDecline,
		OrderID:        tr.OrderID,
		TruckRequestID: truckRequestID,
		TransporterID:  transporterID,
		VehicleType:    tr.VehicleType,
		Time:           c.now(),
	})
	return nil
}

// refreshOrderStatus recomputes the order's aggregate status from its truck
// requests and persists it with a conditional update. Best-effort: the
// aggregate is always derivable from the requests.
func (c *Coordinator) refreshOrderStatus(ctx context.Context, orderID string) {
	reqs, err := c.store.ListTruckRequests(ctx, orderID)
	if err != nil {
		c.log.Warnf("list truck requests for %s: %v", orderID, err)
		return
	}
	derived := DeriveOrderStatus(reqs)
	if _, err := c.store.UpdateOrderStatus(ctx, orderID, model.NonTerminalOrderStatuses(), derived); err != nil {
		c.log.Warnf("order status refresh for %s: %v", orderID, err)
	}
}

// notifyAssignment informs the winning transporter and the customer.
// Best-effort on both legs.
func (c *Coordinator) notifyAssignment(ctx context.Context, tr *model.TruckRequest, asn *model.Assignment) {
	if err := c.gateway.Publish(ctx, notify.EventAssignmentCreated, []string{asn.TransporterID}, asn); err != nil {
		notifyFailure.Inc()
		c.log.Warnf("assignment publish to %s failed: %v", asn.TransporterID, err)
	} else {
		notifySuccess.Inc()
	}
	o, err := c.store.GetOrder(ctx, tr.OrderID)
	if err != nil || o == nil {
		c.log.Warnf("order lookup for notification failed: %v", err)
		return
	}
	if err := c.gateway.Publish(ctx, notify.EventOrderUpdate, []string{o.CustomerID}, asn); err != nil {
		notifyFailure.Inc()
		c.log.Warnf("order update publish to %s failed: %v", o.CustomerID, err)
	} else {
		notifySuccess.Inc()
	}
}

func (c *Coordinator) recordEvent(ev metrics.DispatchEvent) {
	if err := c.sink.RecordDispatchEvent([]metrics.DispatchEvent{ev}); err != nil {
		c.log.Errorf("metrics sink error: %v", err)
	}
}

// DeriveOrderStatus computes the aggregate order status from its truck
// requests. The aggregate is derived, never independently stored as truth.
// Once every request is terminal the aggregate is terminal too: completed
// when at least one unit was carried out, expired when none was. An order
// can therefore never stay active after all its requests have settled.
func DeriveOrderStatus(reqs []model.TruckRequest) model.OrderStatus {
	if len(reqs) == 0 {
		return model.OrderPending
	}
	completed, filled, terminal := 0, 0, 0
	for _, r := range reqs {
		if r.Status == model.TruckCompleted {
			completed++
		}
		if r.Status.Filled() {
			filled++
		}
		if r.Status.Terminal() {
			terminal++
		}
	}
	switch {
	case terminal == len(reqs) && completed > 0:
		return model.OrderCompleted
	case terminal == len(reqs):
		return model.OrderExpired
	case filled == len(reqs):
		return model.OrderFullyFilled
	case filled > 0:
		return model.OrderPartiallyFilled
	default:
		return model.OrderSearching
	}
}
