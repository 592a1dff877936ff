package model

import (
	"fmt"
	"time"
)

// OrderStatus enumerates the order lifecycle. Terminal statuses are immutable.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSearching       OrderStatus = "searching"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFullyFilled     OrderStatus = "fully_filled"
	OrderCompleted       OrderStatus = "completed"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

// orderTransitions defines the allowed status graph. Terminal statuses have
// no out-edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:         {OrderSearching, OrderCancelled, OrderExpired},
	OrderSearching:       {OrderPartiallyFilled, OrderFullyFilled, OrderCancelled, OrderExpired},
	OrderPartiallyFilled: {OrderFullyFilled, OrderCompleted, OrderCancelled, OrderExpired},
	OrderFullyFilled:     {OrderCompleted, OrderCancelled, OrderExpired},
	OrderCompleted:       {},
	OrderCancelled:       {},
	OrderExpired:         {},
}

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled, OrderExpired:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is an allowed transition.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s == to {
		return true
	}
	for _, n := range orderTransitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// NonTerminalOrderStatuses lists every status an active order may carry.
func NonTerminalOrderStatuses() []OrderStatus {
	return []OrderStatus{OrderPending, OrderSearching, OrderPartiallyFilled, OrderFullyFilled}
}

// VehicleSpec is one vehicle requirement line of an order.
type VehicleSpec struct {
	VehicleType    string `json:"vehicle_type"`
	VehicleSubtype string `json:"vehicle_subtype"`
	Quantity       int    `json:"quantity"`
	PricePerUnit   int64  `json:"price_per_unit"` // minor currency units
}

// Order is a customer freight request. It is never deleted; terminal statuses
// are soft-terminal.
type Order struct {
	ID         string        `gorm:"primaryKey;size:36" json:"id"`
	CustomerID string        `gorm:"size:36;not null;index:idx_orders_customer_status,priority:1" json:"customer_id"`
	Status     OrderStatus   `gorm:"type:varchar(20);not null;index:idx_orders_customer_status,priority:2;index:idx_orders_status_expires,priority:1" json:"status"`
	Specs      []VehicleSpec `gorm:"serializer:json" json:"specs"`

	PickupLat float64 `json:"pickup_lat"`
	PickupLon float64 `json:"pickup_lon"`
	DropLat   float64 `json:"drop_lat"`
	DropLon   float64 `json:"drop_lon"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	// ExpiresAt is set once at creation and never extended.
	ExpiresAt time.Time `gorm:"index:idx_orders_status_expires,priority:2" json:"expires_at"`
}

func (Order) TableName() string { return "orders" }

// Pickup returns the pickup point.
func (o Order) Pickup() Point { return Point{Lat: o.PickupLat, Lon: o.PickupLon} }

// Drop returns the drop-off point.
func (o Order) Drop() Point { return Point{Lat: o.DropLat, Lon: o.DropLon} }

// Validate checks that the order request is sound.
func (o Order) Validate() error {
	if o.CustomerID == "" {
		return fmt.Errorf("customer id is required")
	}
	if len(o.Specs) == 0 {
		return fmt.Errorf("at least one vehicle spec is required")
	}
	for _, s := range o.Specs {
		if s.VehicleType == "" {
			return fmt.Errorf("vehicle type is required")
		}
		if s.Quantity <= 0 {
			return fmt.Errorf("vehicle quantity must be positive")
		}
	}
	if !o.Pickup().Valid() || !o.Drop().Valid() {
		return fmt.Errorf("pickup and drop coordinates must be valid")
	}
	return nil
}
