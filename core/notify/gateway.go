// Package notify defines the outbound notification contract. Delivery is
// best-effort and fire-and-forget: the dispatch engine never blocks on it and
// a failed publish never rolls back a committed state transition.
package notify

import "context"

// Event names carried on the notification channel.
const (
	EventBroadcastOffer    = "broadcast_offer"
	EventAssignmentCreated = "assignment_created"
	EventOrderUpdate       = "order_update"
)

// Gateway fans a payload out to the given recipients. Implementations report
// transport errors so callers can log and count them, but callers must treat
// the outcome as advisory.
type Gateway interface {
	Publish(ctx context.Context, event string, recipientIDs []string, payload any) error
}
