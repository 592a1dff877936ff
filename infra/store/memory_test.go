package store

import (
	"context"
	"testing"
	"time"

	"github.com/haulex/dispatch/core/dispatch"
	"github.com/haulex/dispatch/core/model"
)

func seed(t *testing.T, s *MemoryStore, orderStatus model.OrderStatus, reqStatus model.TruckRequestStatus, expires time.Time) (model.Order, model.TruckRequest) {
	t.Helper()
	o := model.Order{
		ID:         "o1",
		CustomerID: "c1",
		Status:     orderStatus,
		Specs:      []model.VehicleSpec{{VehicleType: "flatbed", Quantity: 1}},
		CreatedAt:  time.Now(),
		ExpiresAt:  expires,
	}
	r := model.TruckRequest{
		ID:          "tr1",
		OrderID:     o.ID,
		VehicleType: "flatbed",
		Status:      reqStatus,
		CreatedAt:   time.Now(),
		ExpiresAt:   expires,
	}
	if err := s.CreateOrder(context.Background(), &o, []model.TruckRequest{r}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return o, r
}

func TestConditionalOrderUpdate(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, model.OrderSearching, model.TruckSearching, time.Now().Add(time.Hour))
	ctx := context.Background()

	ok, err := s.UpdateOrderStatus(ctx, "o1", []model.OrderStatus{model.OrderSearching}, model.OrderPartiallyFilled)
	if err != nil || !ok {
		t.Fatalf("matching update: ok=%v err=%v", ok, err)
	}
	// condition no longer matches: no-op, not an error
	ok, err = s.UpdateOrderStatus(ctx, "o1", []model.OrderStatus{model.OrderSearching}, model.OrderFullyFilled)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if ok {
		t.Fatal("stale condition reported as applied")
	}
	o, _ := s.GetOrder(ctx, "o1")
	if o.Status != model.OrderPartiallyFilled {
		t.Fatalf("status = %s, want partially_filled", o.Status)
	}
}

func TestAssignTruckRequestFirstWriterWins(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, model.OrderSearching, model.TruckSearching, time.Now().Add(time.Hour))
	ctx := context.Background()

	ok, err := s.AssignTruckRequest(ctx, "tr1", dispatch.Crew{TransporterID: "t1", DriverID: "d1", VehicleID: "v1"})
	if err != nil || !ok {
		t.Fatalf("first assign: ok=%v err=%v", ok, err)
	}
	ok, err = s.AssignTruckRequest(ctx, "tr1", dispatch.Crew{TransporterID: "t2"})
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if ok {
		t.Fatal("second writer also won")
	}
	r, _ := s.GetTruckRequest(ctx, "tr1")
	if r.TransporterID != "t1" || r.Status != model.TruckAssigned {
		t.Fatalf("crew overwritten: %s/%s", r.TransporterID, r.Status)
	}
}

func TestCancelOrderCascadesAndIsTerminal(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, model.OrderSearching, model.TruckSearching, time.Now().Add(time.Hour))
	ctx := context.Background()

	ok, err := s.CancelOrder(ctx, "o1")
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	r, _ := s.GetTruckRequest(ctx, "tr1")
	if r.Status != model.TruckCancelled {
		t.Fatalf("request status = %s, want cancelled", r.Status)
	}
	ok, err = s.CancelOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("double cancel: %v", err)
	}
	if ok {
		t.Fatal("terminal order cancelled twice")
	}
}

func TestCreateOrderEnforcesOneActiveOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seed(t, s, model.OrderSearching, model.TruckSearching, time.Now().Add(time.Hour))

	o2 := model.Order{ID: "o2", CustomerID: "c1", Status: model.OrderSearching, CreatedAt: time.Now()}
	err := s.CreateOrder(ctx, &o2, nil)
	if !dispatch.IsConflict(err, dispatch.ReasonActiveOrderExists) {
		t.Fatalf("second active order accepted: %v", err)
	}
	// a terminal order does not block
	if ok, _ := s.CancelOrder(ctx, "o1"); !ok {
		t.Fatal("cancel failed")
	}
	if err := s.CreateOrder(ctx, &o2, nil); err != nil {
		t.Fatalf("create after terminal: %v", err)
	}
	// other customers are never affected
	o3 := model.Order{ID: "o3", CustomerID: "c2", Status: model.OrderSearching, CreatedAt: time.Now()}
	if err := s.CreateOrder(ctx, &o3, nil); err != nil {
		t.Fatalf("other customer blocked: %v", err)
	}
}

func TestActiveOrderPicksLatestNonTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := model.Order{ID: "old", CustomerID: "c1", Status: model.OrderCancelled, CreatedAt: time.Now().Add(-time.Hour)}
	cur := model.Order{ID: "cur", CustomerID: "c1", Status: model.OrderSearching, CreatedAt: time.Now()}
	other := model.Order{ID: "other", CustomerID: "c2", Status: model.OrderSearching, CreatedAt: time.Now()}
	for _, o := range []model.Order{old, cur, other} {
		o := o
		if err := s.CreateOrder(ctx, &o, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, err := s.ActiveOrder(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != "cur" {
		t.Fatalf("active = %s, want cur", got.ID)
	}
	if none, _ := s.ActiveOrder(ctx, "c3"); none != nil {
		t.Fatal("unknown customer has an active order")
	}
}

func TestRecordDeclineDeduplicates(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, model.OrderSearching, model.TruckSearching, time.Now().Add(time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := &model.BroadcastDecline{ID: "d1", TruckRequestID: "tr1", TransporterID: "t1", Reason: "busy"}
		if err := s.RecordDecline(ctx, d); err != nil {
			t.Fatalf("decline %d: %v", i, err)
		}
	}
	ids, err := s.DeclinedTransporters(ctx, "tr1")
	if err != nil {
		t.Fatalf("list declines: %v", err)
	}
	if len(ids) != 1 || ids[0] != "t1" {
		t.Fatalf("declines = %v, want [t1]", ids)
	}
}

func TestExpireDueForCustomerScoping(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)

	mine := model.Order{ID: "mine", CustomerID: "c1", Status: model.OrderSearching, CreatedAt: now, ExpiresAt: past}
	mineReq := model.TruckRequest{ID: "mine-r", OrderID: "mine", Status: model.TruckSearching, ExpiresAt: past}
	theirs := model.Order{ID: "theirs", CustomerID: "c2", Status: model.OrderSearching, CreatedAt: now, ExpiresAt: past}
	if err := s.CreateOrder(ctx, &mine, []model.TruckRequest{mineReq}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateOrder(ctx, &theirs, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := s.ExpireDueForCustomer(ctx, "c1", now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired %d entities, want 2", n)
	}
	o, _ := s.GetOrder(ctx, "theirs")
	if o.Status != model.OrderSearching {
		t.Fatal("other customer's order expired")
	}
}

func TestExpireDueRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		o := model.Order{ID: id, CustomerID: "c-" + id, Status: model.OrderSearching, CreatedAt: now, ExpiresAt: past}
		if err := s.CreateOrder(ctx, &o, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	n, err := s.ExpireDueOrders(ctx, now, 2)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Fatalf("first batch expired %d, want 2", n)
	}
	n, _ = s.ExpireDueOrders(ctx, now, 2)
	if n != 1 {
		t.Fatalf("second batch expired %d, want 1", n)
	}
}

func TestUpdateAssignmentStatusConditional(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, model.OrderSearching, model.TruckSearching, time.Now().Add(time.Hour))
	ctx := context.Background()

	if ok, _ := s.AssignTruckRequest(ctx, "tr1", dispatch.Crew{TransporterID: "t1"}); !ok {
		t.Fatal("assign failed")
	}
	a := &model.Assignment{ID: "a1", TruckRequestID: "tr1", TransporterID: "t1", Status: model.AssignmentAccepted, AcceptedAt: time.Now()}
	if err := s.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if err := s.CreateAssignment(ctx, a); err == nil {
		t.Fatal("duplicate assignment accepted")
	}

	if err := model.ApplyTransition(a, model.AssignmentEnRoute, time.Now()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	ok, err := s.UpdateAssignmentStatus(ctx, a, model.AssignmentAccepted)
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	// stale writer loses
	stale := *a
	stale.Status = model.AssignmentAtPickup
	if ok, _ := s.UpdateAssignmentStatus(ctx, &stale, model.AssignmentAccepted); ok {
		t.Fatal("stale update applied")
	}
}
