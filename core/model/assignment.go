package model

import (
	"fmt"
	"time"
)

// AssignmentStatus tracks the downstream trip lifecycle after acceptance.
type AssignmentStatus string

const (
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentEnRoute   AssignmentStatus = "en_route"
	AssignmentAtPickup  AssignmentStatus = "at_pickup"
	AssignmentInTransit AssignmentStatus = "in_transit"
	AssignmentCompleted AssignmentStatus = "completed"
)

var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentAccepted:  {AssignmentEnRoute},
	AssignmentEnRoute:   {AssignmentAtPickup},
	AssignmentAtPickup:  {AssignmentInTransit},
	AssignmentInTransit: {AssignmentCompleted},
	AssignmentCompleted: {},
}

// CanTransition reports whether s -> to is an allowed transition.
func (s AssignmentStatus) CanTransition(to AssignmentStatus) bool {
	if s == to {
		return true
	}
	for _, n := range assignmentTransitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Assignment binds a transporter crew to a truck request. Created only by a
// lock-protected acceptance; TruckRequestID is unique.
type Assignment struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	TruckRequestID string           `gorm:"size:36;not null;uniqueIndex" json:"truck_request_id"`
	TransporterID  string           `gorm:"size:36;not null;index" json:"transporter_id"`
	DriverID       string           `gorm:"size:36" json:"driver_id"`
	VehicleID      string           `gorm:"size:36" json:"vehicle_id"`
	Status         AssignmentStatus `gorm:"type:varchar(16);not null" json:"status"`

	AcceptedAt  time.Time  `json:"accepted_at"`
	EnRouteAt   *time.Time `json:"en_route_at,omitempty"`
	AtPickupAt  *time.Time `json:"at_pickup_at,omitempty"`
	InTransitAt *time.Time `json:"in_transit_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Assignment) TableName() string { return "assignments" }

// ApplyTransition moves the assignment to the target status and stamps the
// matching timestamp field. Call only after CanTransition.
func ApplyTransition(a *Assignment, to AssignmentStatus, now time.Time) error {
	if a == nil {
		return fmt.Errorf("assignment is nil")
	}
	if !a.Status.CanTransition(to) {
		return fmt.Errorf("invalid assignment transition: %s -> %s", a.Status, to)
	}
	a.Status = to
	switch to {
	case AssignmentEnRoute:
		if a.EnRouteAt == nil {
			t := now
			a.EnRouteAt = &t
		}
	case AssignmentAtPickup:
		if a.AtPickupAt == nil {
			t := now
			a.AtPickupAt = &t
		}
	case AssignmentInTransit:
		if a.InTransitAt == nil {
			t := now
			a.InTransitAt = &t
		}
	case AssignmentCompleted:
		if a.CompletedAt == nil {
			t := now
			a.CompletedAt = &t
		}
	}
	return nil
}
