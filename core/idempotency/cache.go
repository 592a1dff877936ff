package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL bounds how long a cached create-order response is replayed.
const DefaultTTL = 5 * time.Minute

// Cache maps a (customer, client-supplied key) pair to the serialized
// response of the original request for a bounded window. Scoped per customer
// so keys cannot collide across tenants.
type Cache interface {
	Get(ctx context.Context, customerID, key string) ([]byte, bool, error)
	Put(ctx context.Context, customerID, key string, payload []byte, ttl time.Duration) error
}

// Key builds the customer-scoped cache key.
func Key(customerID, key string) string {
	return fmt.Sprintf("idem:%s:%s", customerID, key)
}

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// Memory is an in-process Cache used in tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetClock overrides the time source. Test helper.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, customerID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[Key(customerID, key)]
	if !ok || m.now().After(e.expires) {
		return nil, false, nil
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true, nil
}

func (m *Memory) Put(_ context.Context, customerID, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.mu.Lock()
	m.entries[Key(customerID, key)] = memoryEntry{payload: cp, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}
