package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haulex/dispatch/core/model"
	"github.com/haulex/dispatch/infra/logger"
	"github.com/haulex/dispatch/infra/store"
)

func seedOrder(t *testing.T, st *store.MemoryStore, customer string, status model.OrderStatus, expires time.Time, reqStatuses ...model.TruckRequestStatus) (model.Order, []model.TruckRequest) {
	t.Helper()
	o := model.Order{
		ID:         uuid.NewString(),
		CustomerID: customer,
		Status:     status,
		Specs:      []model.VehicleSpec{{VehicleType: "flatbed", Quantity: len(reqStatuses)}},
		PickupLat:  48.85, PickupLon: 2.35, DropLat: 45.76, DropLon: 4.83,
		CreatedAt: time.Now(),
		ExpiresAt: expires,
	}
	var reqs []model.TruckRequest
	for i, rs := range reqStatuses {
		reqs = append(reqs, model.TruckRequest{
			ID:          fmt.Sprintf("%s-r%d", o.ID, i),
			OrderID:     o.ID,
			VehicleType: "flatbed",
			Status:      rs,
			CreatedAt:   time.Now(),
			ExpiresAt:   expires,
		})
	}
	if err := st.CreateOrder(context.Background(), &o, reqs); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return o, reqs
}

func TestSweepExpiresDueWork(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due, _ := seedOrder(t, st, "c1", model.OrderSearching, past, model.TruckSearching, model.TruckHeld)
	fresh, _ := seedOrder(t, st, "c2", model.OrderSearching, future, model.TruckSearching)

	r, err := New(st, Config{}, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.SetClock(func() time.Time { return now })

	orders, reqs, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if orders != 1 || reqs != 2 {
		t.Fatalf("expired %d orders / %d requests, want 1 / 2", orders, reqs)
	}

	o, _ := st.GetOrder(context.Background(), due.ID)
	if o.Status != model.OrderExpired {
		t.Fatalf("due order status = %s, want expired", o.Status)
	}
	o, _ = st.GetOrder(context.Background(), fresh.ID)
	if o.Status != model.OrderSearching {
		t.Fatalf("fresh order status = %s, want searching", o.Status)
	}
}

func TestSweepLeavesAssignedWorkAlone(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	past := now.Add(-time.Minute)

	// partially filled past the deadline: the assigned unit keeps running,
	// so the order is still genuinely active and must not be expired
	o, reqs := seedOrder(t, st, "c1", model.OrderPartiallyFilled, past, model.TruckAssigned, model.TruckSearching)

	r, err := New(st, Config{}, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.SetClock(func() time.Time { return now })

	orders, expired, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if orders != 0 {
		t.Fatalf("partially filled order expired by sweep")
	}
	if expired != 1 {
		t.Fatalf("expired %d requests, want only the open one", expired)
	}

	got, _ := st.GetTruckRequest(context.Background(), reqs[0].ID)
	if got.Status != model.TruckAssigned {
		t.Fatalf("assigned request touched by sweep: %s", got.Status)
	}
	got, _ = st.GetTruckRequest(context.Background(), reqs[1].ID)
	if got.Status != model.TruckExpired {
		t.Fatalf("open request status = %s, want expired", got.Status)
	}
	ord, _ := st.GetOrder(context.Background(), o.ID)
	if ord.Status != model.OrderPartiallyFilled {
		t.Fatalf("order status = %s, want partially_filled", ord.Status)
	}
}

func TestSweepSettlesOrderAfterLastOpenRequestExpires(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	past := now.Add(-time.Minute)

	// one unit already carried out, the other never found a truck
	o, reqs := seedOrder(t, st, "c1", model.OrderPartiallyFilled, past, model.TruckCompleted, model.TruckSearching)

	r, err := New(st, Config{}, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.SetClock(func() time.Time { return now })

	orders, expired, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired %d requests, want 1", expired)
	}
	if orders != 0 {
		t.Fatalf("completed order counted as expired")
	}

	got, _ := st.GetTruckRequest(context.Background(), reqs[1].ID)
	if got.Status != model.TruckExpired {
		t.Fatalf("open request status = %s, want expired", got.Status)
	}
	ord, _ := st.GetOrder(context.Background(), o.ID)
	if ord.Status != model.OrderCompleted {
		t.Fatalf("order status = %s, want completed once all requests settled", ord.Status)
	}
}

func TestSweepSettlesUnfilledOrderToExpired(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	past := now.Add(-time.Minute)

	// stale aggregate: no unit is filled anymore, the open one is past due
	o, _ := seedOrder(t, st, "c1", model.OrderPartiallyFilled, past, model.TruckExpired, model.TruckSearching)

	r, err := New(st, Config{}, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.SetClock(func() time.Time { return now })

	orders, expired, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired %d requests, want 1", expired)
	}
	if orders != 1 {
		t.Fatalf("expired %d orders, want the settled one", orders)
	}
	ord, _ := st.GetOrder(context.Background(), o.ID)
	if ord.Status != model.OrderExpired {
		t.Fatalf("order status = %s, want expired", ord.Status)
	}
}

func TestSweepBatchesUntilDrained(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	past := now.Add(-time.Minute)
	for i := 0; i < 7; i++ {
		seedOrder(t, st, fmt.Sprintf("c%d", i), model.OrderSearching, past, model.TruckSearching)
	}

	r, err := New(st, Config{BatchSize: 2}, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.SetClock(func() time.Time { return now })

	orders, reqs, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if orders != 7 || reqs != 7 {
		t.Fatalf("expired %d orders / %d requests, want 7 / 7", orders, reqs)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := store.NewMemoryStore()
	r, err := New(st, Config{IntervalSeconds: 1}, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
