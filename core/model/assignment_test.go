package model

import (
	"testing"
	"time"
)

func TestApplyTransitionStampsTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := &Assignment{ID: "a1", TruckRequestID: "tr1", Status: AssignmentAccepted, AcceptedAt: now}

	stages := []struct {
		to    AssignmentStatus
		stamp func() *time.Time
	}{
		{AssignmentEnRoute, func() *time.Time { return a.EnRouteAt }},
		{AssignmentAtPickup, func() *time.Time { return a.AtPickupAt }},
		{AssignmentInTransit, func() *time.Time { return a.InTransitAt }},
		{AssignmentCompleted, func() *time.Time { return a.CompletedAt }},
	}
	for i, s := range stages {
		at := now.Add(time.Duration(i+1) * time.Minute)
		if err := ApplyTransition(a, s.to, at); err != nil {
			t.Fatalf("transition to %s: %v", s.to, err)
		}
		if a.Status != s.to {
			t.Fatalf("status = %s, want %s", a.Status, s.to)
		}
		got := s.stamp()
		if got == nil || !got.Equal(at) {
			t.Fatalf("timestamp for %s not stamped", s.to)
		}
	}
}

func TestApplyTransitionRejectsSkips(t *testing.T) {
	a := &Assignment{Status: AssignmentAccepted}
	if err := ApplyTransition(a, AssignmentInTransit, time.Now()); err == nil {
		t.Error("accepted -> in_transit should be rejected")
	}
	a.Status = AssignmentCompleted
	if err := ApplyTransition(a, AssignmentEnRoute, time.Now()); err == nil {
		t.Error("completed -> en_route should be rejected")
	}
	if err := ApplyTransition(nil, AssignmentEnRoute, time.Now()); err == nil {
		t.Error("nil assignment should be rejected")
	}
}
