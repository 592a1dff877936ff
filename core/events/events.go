// Package events defines the payload types published on the internal event
// bus during the dispatch lifecycle.
package events

import (
	"time"

	"github.com/haulex/dispatch/core/model"
)

// OrderCreatedEvent is published after an order and its truck requests are
// persisted.
type OrderCreatedEvent struct {
	Order    model.Order
	Requests int
}

// BroadcastEvent is published when a truck request is offered to candidates.
type BroadcastEvent struct {
	TruckRequestID string
	VehicleType    string
	Candidates     int
}

// AcceptEvent is published for every acceptance attempt, won or lost.
type AcceptEvent struct {
	TruckRequestID string
	TransporterID  string
	Accepted       bool
	Err            error
	Latency        time.Duration
}

// DeclineEvent is published when a transporter declines a broadcast.
type DeclineEvent struct {
	TruckRequestID string
	TransporterID  string
	Reason         string
}

// ExpiryEvent summarizes one reconciler sweep.
type ExpiryEvent struct {
	OrdersExpired   int
	RequestsExpired int
	At              time.Time
}
