package dispatch

import (
	"context"
	"time"

	"github.com/haulex/dispatch/core/model"
)

// Crew identifies the transporter, driver and vehicle accepting a truck
// request.
type Crew struct {
	TransporterID string `json:"transporter_id"`
	DriverID      string `json:"driver_id"`
	VehicleID     string `json:"vehicle_id"`
}

// Store is the durable order store contract. Every mutation of a status field
// is a conditional update keyed on the current status; a zero-row update is
// reported as ok=false, never as an error. The conditional update is the sole
// correctness guarantee under concurrent acceptance, independent of any
// advisory lock.
type Store interface {
	// CreateOrder persists the order and its truck requests in one
	// transaction. The store enforces the one-active-order rule: when the
	// customer already has a non-terminal order the insert is rejected with
	// a ConflictError, so two concurrent creates cannot both land.
	CreateOrder(ctx context.Context, o *model.Order, reqs []model.TruckRequest) error

	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ActiveOrder returns the customer's non-terminal order, or nil when
	// there is none.
	ActiveOrder(ctx context.Context, customerID string) (*model.Order, error)

	GetTruckRequest(ctx context.Context, id string) (*model.TruckRequest, error)
	ListTruckRequests(ctx context.Context, orderID string) ([]model.TruckRequest, error)

	// UpdateOrderStatus sets the order status when the current status is one
	// of from.
	UpdateOrderStatus(ctx context.Context, id string, from []model.OrderStatus, to model.OrderStatus) (bool, error)

	// UpdateTruckRequestStatus sets the request status when the current
	// status is one of from.
	UpdateTruckRequestStatus(ctx context.Context, id string, from []model.TruckRequestStatus, to model.TruckRequestStatus) (bool, error)

	// AssignTruckRequest atomically moves an open (searching or held) request
	// to assigned and stamps the crew. ok=false means the request was already
	// taken, cancelled or expired.
	AssignTruckRequest(ctx context.Context, id string, crew Crew) (bool, error)

	CreateAssignment(ctx context.Context, a *model.Assignment) error
	AssignmentByTruckRequest(ctx context.Context, truckRequestID string) (*model.Assignment, error)

	// UpdateAssignmentStatus persists the assignment's status and timestamps
	// when its current status equals from.
	UpdateAssignmentStatus(ctx context.Context, a *model.Assignment, from model.AssignmentStatus) (bool, error)

	// CancelOrder cancels the order and every non-terminal truck request in
	// one transaction. ok=false means the order was not in a cancelable
	// state.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	RecordDecline(ctx context.Context, d *model.BroadcastDecline) error
	DeclinedTransporters(ctx context.Context, truckRequestID string) ([]string, error)

	// ExpireDueOrders expires at most limit unfilled orders whose deadline
	// has passed, via a single conditional update on an indexed range scan.
	// Orders with filled units are left to aggregate derivation, which
	// settles them terminal once every request is.
	ExpireDueOrders(ctx context.Context, now time.Time, limit int) (int64, error)

	// ExpireDueTruckRequests expires at most limit open requests whose
	// deadline has passed and returns the order id of each expired request,
	// so callers can re-derive those orders' aggregate status. Assigned and
	// completed work is never touched.
	ExpireDueTruckRequests(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ExpireDueForCustomer runs the same expiry for a single customer's
	// entities. Used by the lazy read-time path.
	ExpireDueForCustomer(ctx context.Context, customerID string, now time.Time) (int64, error)
}
