package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haulex/dispatch/core/events"
	"github.com/haulex/dispatch/core/idempotency"
	"github.com/haulex/dispatch/core/logger"
	"github.com/haulex/dispatch/core/match"
	"github.com/haulex/dispatch/core/metrics"
	"github.com/haulex/dispatch/core/model"
	"github.com/haulex/dispatch/core/notify"
	"github.com/haulex/dispatch/internal/eventbus"
)

// OrderRequest is the input to CreateOrder.
type OrderRequest struct {
	Pickup model.Point         `json:"pickup"`
	Drop   model.Point         `json:"drop"`
	Specs  []model.VehicleSpec `json:"specs"`
}

// OrderResponse is the typed result returned to the API layer. Aggregate is
// derived from the truck requests on every read, never stored as truth.
type OrderResponse struct {
	Order     model.Order          `json:"order"`
	Requests  []model.TruckRequest `json:"truck_requests"`
	Aggregate model.OrderStatus    `json:"aggregate_status"`
}

// Engine is the top-level order fulfillment entry point. It decomposes a
// multi-vehicle-type order into truck requests, drives them through matching
// and broadcast, and aggregates partial completion into order-level status.
//
// Because exactly one truck request is created per requested unit and an
// assignment is unique per request, the per-type fill count can never exceed
// the requested quantity.
type Engine struct {
	store   Store
	matcher *match.Matcher
	coord   *Coordinator
	idem    idempotency.Cache
	cfg     Config
	sink    metrics.Sink
	bus     eventbus.EventBus
	log     logger.Logger
	now     func() time.Time
}

// NewEngine creates an Engine. store, matcher and coord are mandatory; idem,
// sink and bus may be nil (idempotency disabled when idem is nil).
func NewEngine(store Store, matcher *match.Matcher, coord *Coordinator, idem idempotency.Cache, cfg Config, sink metrics.Sink, bus eventbus.EventBus, log logger.Logger) (*Engine, error) {
	if store == nil || matcher == nil || coord == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Engine{
		store:   store,
		matcher: matcher,
		coord:   coord,
		idem:    idem,
		cfg:     cfg,
		sink:    sink,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}, nil
}

// SetClock overrides the time source. Test helper.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.coord.SetClock(now)
}

// CreateOrder validates and persists a new order plus one truck request per
// requested unit per vehicle type, then matches and broadcasts each request.
// When idemKey is non-empty, a repeated call with the same (customer, key)
// within the TTL window replays the original response without re-executing
// any side effect.
func (e *Engine) CreateOrder(ctx context.Context, customerID string, req OrderRequest, idemKey string) (*OrderResponse, error) {
	now := e.now()
	order := model.Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Status:     model.OrderSearching,
		Specs:      req.Specs,
		PickupLat:  req.Pickup.Lat,
		PickupLon:  req.Pickup.Lon,
		DropLat:    req.Drop.Lat,
		DropLon:    req.Drop.Lon,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.OrderTTL()),
	}
	if err := order.Validate(); err != nil {
		return nil, ValidationError{Msg: err.Error()}
	}

	if idemKey != "" && e.idem != nil {
		cached, hit, err := e.idem.Get(ctx, customerID, idemKey)
		if err != nil {
			e.log.Warnf("idempotency lookup failed: %v", err)
		} else if hit {
			var resp OrderResponse
			if err := json.Unmarshal(cached, &resp); err != nil {
				return nil, fmt.Errorf("decode cached response: %w", err)
			}
			e.log.Infof("replayed order %s for idempotency key", resp.Order.ID)
			return &resp, nil
		}
	}

	// Lazy expiry before the active-order check so a stale order cannot
	// produce a false conflict.
	e.expireForCustomer(ctx, customerID)
	active, err := e.store.ActiveOrder(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("active order lookup: %w", err)
	}
	if active != nil {
		return nil, ConflictError{Reason: ReasonActiveOrderExists, Msg: "order " + active.ID + " is still active"}
	}

	var reqs []model.TruckRequest
	for _, spec := range req.Specs {
		for i := 0; i < spec.Quantity; i++ {
			reqs = append(reqs, model.TruckRequest{
				ID:             uuid.NewString(),
				OrderID:        order.ID,
				VehicleType:    spec.VehicleType,
				VehicleSubtype: spec.VehicleSubtype,
				PricePerUnit:   spec.PricePerUnit,
				Status:         model.TruckSearching,
				CreatedAt:      now,
				ExpiresAt:      order.ExpiresAt,
			})
		}
	}
	if err := e.store.CreateOrder(ctx, &order, reqs); err != nil {
		// the store re-checks the one-active-order rule under its own
		// transaction; a concurrent create loses here, not at the read above
		if IsConflict(err, ReasonActiveOrderExists) {
			return nil, err
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}
	ordersCreated.Inc()
	if e.bus != nil {
		e.bus.Publish(events.OrderCreatedEvent{Order: order, Requests: len(reqs)})
	}
	e.recordEvent(metrics.DispatchEvent{
		Kind:    metrics.KindOrderCreated,
		OrderID: order.ID,
		Count:   len(reqs),
		Time:    now,
	})

	for _, tr := range reqs {
		e.matchAndBroadcast(ctx, order.Pickup(), tr)
	}

	resp := &OrderResponse{Order: order, Requests: reqs, Aggregate: DeriveOrderStatus(reqs)}
	if idemKey != "" && e.idem != nil {
		payload, err := json.Marshal(resp)
		if err != nil {
			e.log.Errorf("encode response for idempotency cache: %v", err)
		} else if err := e.idem.Put(ctx, customerID, idemKey, payload, e.cfg.IdempotencyTTL()); err != nil {
			e.log.Warnf("idempotency store failed: %v", err)
		}
	}
	return resp, nil
}

// matchAndBroadcast finds candidates for one truck request and fans the offer
// out. A fleet index failure does not fail the created order; the request
// stays searching and can be re-broadcast later.
func (e *Engine) matchAndBroadcast(ctx context.Context, pickup model.Point, tr model.TruckRequest) {
	cands, err := e.matcher.FindCandidates(ctx, pickup, tr.VehicleType, tr.VehicleSubtype)
	if err != nil {
		e.log.Warnf("candidate search for %s failed: %v", tr.ID, err)
		return
	}
	if err := e.coord.Broadcast(ctx, tr, cands); err != nil {
		e.log.Warnf("broadcast for %s failed: %v", tr.ID, err)
	}
}

// GetActiveOrder returns the customer's current non-terminal order. Expiry is
// applied lazily first, so a caller can never observe an active status past
// its deadline.
func (e *Engine) GetActiveOrder(ctx context.Context, customerID string) (*OrderResponse, error) {
	if customerID == "" {
		return nil, ValidationError{Msg: "customer id is required"}
	}
	e.expireForCustomer(ctx, customerID)
	o, err := e.store.ActiveOrder(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("active order lookup: %w", err)
	}
	if o == nil {
		return nil, NotFoundError{Kind: "active order for customer", ID: customerID}
	}
	reqs, err := e.store.ListTruckRequests(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list truck requests: %w", err)
	}
	return &OrderResponse{Order: *o, Requests: reqs, Aggregate: DeriveOrderStatus(reqs)}, nil
}

// CancelOrder cancels the order and every non-terminal truck request in one
// transaction; no request may be left non-terminal when this returns nil.
func (e *Engine) CancelOrder(ctx context.Context, orderID, customerID string) error {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil || o.CustomerID != customerID {
		return NotFoundError{Kind: "order", ID: orderID}
	}
	if o.Status == model.OrderExpired {
		return ExpiredError{Kind: "order", ID: orderID}
	}
	if o.Status.Terminal() {
		return ConflictError{Reason: ReasonNotCancelable, Msg: "order is " + string(o.Status)}
	}
	ok, err := e.store.CancelOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if !ok {
		return ConflictError{Reason: ReasonNotCancelable, Msg: "order reached a terminal state concurrently"}
	}
	e.recordEvent(metrics.DispatchEvent{Kind: metrics.KindCancel, OrderID: orderID, Time: e.now()})
	if err := e.coord.gateway.Publish(ctx, notify.EventOrderUpdate, []string{customerID}, map[string]any{
		"order_id": orderID,
		"status":   model.OrderCancelled,
	}); err != nil {
		notifyFailure.Inc()
		e.log.Warnf("cancel publish to %s failed: %v", customerID, err)
	} else {
		notifySuccess.Inc()
	}
	return nil
}

// AcceptBroadcast is the transporter-facing acceptance entry point.
func (e *Engine) AcceptBroadcast(ctx context.Context, truckRequestID, transporterID, driverID, vehicleID string) (*model.Assignment, error) {
	return e.coord.Accept(ctx, truckRequestID, Crew{
		TransporterID: transporterID,
		DriverID:      driverID,
		VehicleID:     vehicleID,
	})
}

// DeclineBroadcast records the decline and re-broadcasts the request to the
// remaining candidates while it is still open.
func (e *Engine) DeclineBroadcast(ctx context.Context, truckRequestID, transporterID, reason string) error {
	if err := e.coord.Decline(ctx, truckRequestID, transporterID, reason); err != nil {
		return err
	}
	tr, err := e.store.GetTruckRequest(ctx, truckRequestID)
	if err != nil || tr == nil || !tr.Status.Open() {
		return nil
	}
	o, err := e.store.GetOrder(ctx, tr.OrderID)
	if err != nil || o == nil {
		return nil
	}
	e.matchAndBroadcast(ctx, o.Pickup(), *tr)
	return nil
}

// assignmentToTruck maps the downstream assignment lifecycle onto the truck
// request status it implies.
var assignmentToTruck = map[model.AssignmentStatus]model.TruckRequestStatus{
	model.AssignmentEnRoute:   model.TruckAccepted,
	model.AssignmentAtPickup:  model.TruckInProgress,
	model.AssignmentInTransit: model.TruckInProgress,
	model.AssignmentCompleted: model.TruckCompleted,
}

// AdvanceAssignment moves an assignment to the next trip stage and keeps the
// owning truck request in step. First writer wins on concurrent updates.
func (e *Engine) AdvanceAssignment(ctx context.Context, truckRequestID string, to model.AssignmentStatus) (*model.Assignment, error) {
	asn, err := e.store.AssignmentByTruckRequest(ctx, truckRequestID)
	if err != nil {
		return nil, err
	}
	if asn == nil {
		return nil, NotFoundError{Kind: "assignment for truck request", ID: truckRequestID}
	}
	from := asn.Status
	if err := model.ApplyTransition(asn, to, e.now()); err != nil {
		return nil, ConflictError{Reason: ReasonInvalidTransition, Msg: err.Error()}
	}
	ok, err := e.store.UpdateAssignmentStatus(ctx, asn, from)
	if err != nil {
		return nil, fmt.Errorf("update assignment: %w", err)
	}
	if !ok {
		return nil, ConflictError{Reason: ReasonInvalidTransition, Msg: "assignment changed concurrently"}
	}
	if trTo, mapped := assignmentToTruck[to]; mapped {
		fromSet := []model.TruckRequestStatus{model.TruckAssigned, model.TruckAccepted, model.TruckInProgress}
		if _, err := e.store.UpdateTruckRequestStatus(ctx, truckRequestID, fromSet, trTo); err != nil {
			e.log.Warnf("truck request sync for %s: %v", truckRequestID, err)
		}
		if to == model.AssignmentCompleted {
			e.coord.refreshOrderStatus(ctx, asnOrderID(ctx, e.store, truckRequestID))
		}
	}
	return asn, nil
}

func asnOrderID(ctx context.Context, s Store, truckRequestID string) string {
	tr, err := s.GetTruckRequest(ctx, truckRequestID)
	if err != nil || tr == nil {
		return ""
	}
	return tr.OrderID
}

// expireForCustomer applies the shared expiry routine to one customer before
// an active-order determination, then settles the surviving order if every
// one of its requests has reached a terminal state.
func (e *Engine) expireForCustomer(ctx context.Context, customerID string) {
	n, err := e.store.ExpireDueForCustomer(ctx, customerID, e.now())
	if err != nil {
		e.log.Warnf("lazy expiry for %s failed: %v", customerID, err)
		return
	}
	if n > 0 {
		expiredEntities.WithLabelValues("lazy").Add(float64(n))
		e.log.Infof("lazily expired %d entities for customer %s", n, customerID)
	}
	e.settleActiveOrder(ctx, customerID)
}

// settleActiveOrder flips the customer's current order to its derived
// terminal status once all truck requests are terminal. Without this a
// partially filled order whose remaining units expired would block new
// creation forever.
func (e *Engine) settleActiveOrder(ctx context.Context, customerID string) {
	o, err := e.store.ActiveOrder(ctx, customerID)
	if err != nil || o == nil {
		return
	}
	reqs, err := e.store.ListTruckRequests(ctx, o.ID)
	if err != nil {
		e.log.Warnf("list truck requests for %s: %v", o.ID, err)
		return
	}
	derived := DeriveOrderStatus(reqs)
	if !derived.Terminal() {
		return
	}
	if _, err := e.store.UpdateOrderStatus(ctx, o.ID, model.NonTerminalOrderStatuses(), derived); err != nil {
		e.log.Warnf("settle order %s: %v", o.ID, err)
	}
}

func (e *Engine) recordEvent(ev metrics.DispatchEvent) {
	if err := e.sink.RecordDispatchEvent([]metrics.DispatchEvent{ev}); err != nil {
		e.log.Errorf("metrics sink error: %v", err)
	}
}
