package model

import "time"

// TruckRequestStatus enumerates the per-truck demand lifecycle.
type TruckRequestStatus string

const (
	TruckSearching  TruckRequestStatus = "searching"
	TruckHeld       TruckRequestStatus = "held"
	TruckAssigned   TruckRequestStatus = "assigned"
	TruckAccepted   TruckRequestStatus = "accepted"
	TruckInProgress TruckRequestStatus = "in_progress"
	TruckCompleted  TruckRequestStatus = "completed"
	TruckCancelled  TruckRequestStatus = "cancelled"
	TruckExpired    TruckRequestStatus = "expired"
)

var truckTransitions = map[TruckRequestStatus][]TruckRequestStatus{
	TruckSearching:  {TruckHeld, TruckAssigned, TruckCancelled, TruckExpired},
	TruckHeld:       {TruckAssigned, TruckSearching, TruckCancelled, TruckExpired},
	TruckAssigned:   {TruckAccepted, TruckCancelled, TruckExpired},
	TruckAccepted:   {TruckInProgress, TruckCancelled, TruckExpired},
	TruckInProgress: {TruckCompleted, TruckCancelled, TruckExpired},
	TruckCompleted:  {},
	TruckCancelled:  {},
	TruckExpired:    {},
}

// Terminal reports whether the status is final.
func (s TruckRequestStatus) Terminal() bool {
	switch s {
	case TruckCompleted, TruckCancelled, TruckExpired:
		return true
	}
	return false
}

// Open reports whether the request can still be offered to transporters.
func (s TruckRequestStatus) Open() bool {
	return s == TruckSearching || s == TruckHeld
}

// Filled reports whether the request counts toward the order's fill quota.
func (s TruckRequestStatus) Filled() bool {
	switch s {
	case TruckAssigned, TruckAccepted, TruckInProgress, TruckCompleted:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is an allowed transition.
func (s TruckRequestStatus) CanTransition(to TruckRequestStatus) bool {
	if s == to {
		return true
	}
	for _, n := range truckTransitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// TruckRequest is one unit of vehicle demand within an order. At most one
// assignment ever exists for a request.
type TruckRequest struct {
	ID             string             `gorm:"primaryKey;size:36" json:"id"`
	OrderID        string             `gorm:"size:36;not null;index" json:"order_id"`
	VehicleType    string             `gorm:"size:32;not null" json:"vehicle_type"`
	VehicleSubtype string             `gorm:"size:32" json:"vehicle_subtype"`
	PricePerUnit   int64              `gorm:"not null;default:0" json:"price_per_unit"`
	Status         TruckRequestStatus `gorm:"type:varchar(20);not null;index:idx_truck_requests_status_expires,priority:1" json:"status"`

	// Populated by a successful acceptance.
	TransporterID string `gorm:"size:36" json:"transporter_id,omitempty"`
	DriverID      string `gorm:"size:36" json:"driver_id,omitempty"`
	VehicleID     string `gorm:"size:36" json:"vehicle_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt time.Time `gorm:"index:idx_truck_requests_status_expires,priority:2" json:"expires_at"`
}

func (TruckRequest) TableName() string { return "truck_requests" }
