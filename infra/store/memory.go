package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haulex/dispatch/core/dispatch"
	"github.com/haulex/dispatch/core/model"
)

// MemoryStore is an in-process dispatch.Store with the same conditional
// update semantics as the MySQL implementation. All mutations happen under
// one mutex, so a conditional update is atomic exactly like a single SQL
// statement. Used in tests and local runs.
type MemoryStore struct {
	mu          sync.Mutex
	orders      map[string]model.Order
	requests    map[string]model.TruckRequest
	assignments map[string]model.Assignment          // keyed by truck request id
	declines    map[string]map[string]model.BroadcastDecline // request id -> transporter id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]model.Order),
		requests:    make(map[string]model.TruckRequest),
		assignments: make(map[string]model.Assignment),
		declines:    make(map[string]map[string]model.BroadcastDecline),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order, reqs []model.TruckRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	for _, existing := range s.orders {
		if existing.CustomerID == o.CustomerID && !existing.Status.Terminal() {
			return dispatch.ConflictError{Reason: dispatch.ReasonActiveOrderExists, Msg: "order " + existing.ID + " is still active"}
		}
	}
	s.orders[o.ID] = *o
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := o
	return &cp, nil
}

func (s *MemoryStore) ActiveOrder(_ context.Context, customerID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Order
	for _, o := range s.orders {
		if o.CustomerID != customerID || o.Status.Terminal() {
			continue
		}
		cp := o
		if latest == nil || cp.CreatedAt.After(latest.CreatedAt) {
			latest = &cp
		}
	}
	return latest, nil
}

func (s *MemoryStore) GetTruckRequest(_ context.Context, id string) (*model.TruckRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (s *MemoryStore) ListTruckRequests(_ context.Context, orderID string) ([]model.TruckRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TruckRequest
	for _, r := range s.requests {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func statusInOrder(s model.OrderStatus, set []model.OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func statusInTruck(s model.TruckRequestStatus, set []model.TruckRequestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, from []model.OrderStatus, to model.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || !statusInOrder(o.Status, from) {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return true, nil
}

func (s *MemoryStore) UpdateTruckRequestStatus(_ context.Context, id string, from []model.TruckRequestStatus, to model.TruckRequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || !statusInTruck(r.Status, from) {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	s.requests[id] = r
	return true, nil
}

func (s *MemoryStore) AssignTruckRequest(_ context.Context, id string, crew dispatch.Crew) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || !r.Status.Open() {
		return false, nil
	}
	r.Status = model.TruckAssigned
	r.TransporterID = crew.TransporterID
	r.DriverID = crew.DriverID
	r.VehicleID = crew.VehicleID
	r.UpdatedAt = time.Now()
	s.requests[id] = r
	return true, nil
}

func (s *MemoryStore) CreateAssignment(_ context.Context, a *model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.TruckRequestID]; ok {
		return fmt.Errorf("assignment for truck request %s already exists", a.TruckRequestID)
	}
	s.assignments[a.TruckRequestID] = *a
	return nil
}

func (s *MemoryStore) AssignmentByTruckRequest(_ context.Context, truckRequestID string) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[truckRequestID]
	if !ok {
		return nil, nil
	}
	cp := a
	return &cp, nil
}

func (s *MemoryStore) UpdateAssignmentStatus(_ context.Context, a *model.Assignment, from model.AssignmentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.assignments[a.TruckRequestID]
	if !ok || cur.Status != from {
		return false, nil
	}
	s.assignments[a.TruckRequestID] = *a
	return true, nil
}

func (s *MemoryStore) CancelOrder(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status.Terminal() {
		return false, nil
	}
	o.Status = model.OrderCancelled
	o.UpdatedAt = time.Now()
	s.orders[orderID] = o
	for id, r := range s.requests {
		if r.OrderID == orderID && !r.Status.Terminal() {
			r.Status = model.TruckCancelled
			r.UpdatedAt = time.Now()
			s.requests[id] = r
		}
	}
	return true, nil
}

func (s *MemoryStore) RecordDecline(_ context.Context, d *model.BroadcastDecline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTransporter, ok := s.declines[d.TruckRequestID]
	if !ok {
		byTransporter = make(map[string]model.BroadcastDecline)
		s.declines[d.TruckRequestID] = byTransporter
	}
	// duplicate declines are a no-op, matching the unique index
	if _, exists := byTransporter[d.TransporterID]; !exists {
		byTransporter[d.TransporterID] = *d
	}
	return nil
}

func (s *MemoryStore) DeclinedTransporters(_ context.Context, truckRequestID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.declines[truckRequestID] {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) ExpireDueOrders(_ context.Context, now time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.orders {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if (o.Status == model.OrderPending || o.Status == model.OrderSearching) && !o.ExpiresAt.After(now) {
			o.Status = model.OrderExpired
			o.UpdatedAt = now
			s.orders[id] = o
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ExpireDueTruckRequests(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orderIDs []string
	for id, r := range s.requests {
		if limit > 0 && len(orderIDs) >= limit {
			break
		}
		if r.Status.Open() && !r.ExpiresAt.After(now) {
			r.Status = model.TruckExpired
			r.UpdatedAt = now
			s.requests[id] = r
			orderIDs = append(orderIDs, r.OrderID)
		}
	}
	return orderIDs, nil
}

func (s *MemoryStore) ExpireDueForCustomer(_ context.Context, customerID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for oid, o := range s.orders {
		if o.CustomerID != customerID || o.Status.Terminal() {
			continue
		}
		for rid, r := range s.requests {
			if r.OrderID == oid && r.Status.Open() && !r.ExpiresAt.After(now) {
				r.Status = model.TruckExpired
				r.UpdatedAt = now
				s.requests[rid] = r
				n++
			}
		}
		if (o.Status == model.OrderPending || o.Status == model.OrderSearching) && !o.ExpiresAt.After(now) {
			o.Status = model.OrderExpired
			o.UpdatedAt = now
			s.orders[oid] = o
			n++
		}
	}
	return n, nil
}
