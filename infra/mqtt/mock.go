package mqtt

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage is a single delivery recorded by the MockGateway.
type SentMessage struct {
	Event       string
	RecipientID string
	Payload     any
}

// MockGateway is a notify.Gateway used in tests. It records every delivery
// and can be configured to fail for specific recipients.
type MockGateway struct {
	mu       sync.Mutex
	Messages []SentMessage
	FailIDs  map[string]bool
}

// NewMockGateway creates a new MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{FailIDs: make(map[string]bool)}
}

// Publish records the delivery or returns an error if configured to fail.
func (m *MockGateway) Publish(_ context.Context, event string, recipientIDs []string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, id := range recipientIDs {
		if m.FailIDs[id] {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish to %s failed", id)
			}
			continue
		}
		m.Messages = append(m.Messages, SentMessage{Event: event, RecipientID: id, Payload: payload})
	}
	return firstErr
}

// Sent returns a copy of the recorded deliveries.
func (m *MockGateway) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// SentTo returns the deliveries recorded for one recipient.
func (m *MockGateway) SentTo(recipientID string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, msg := range m.Messages {
		if msg.RecipientID == recipientID {
			out = append(out, msg)
		}
	}
	return out
}
