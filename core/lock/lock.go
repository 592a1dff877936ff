package lock

import (
	"context"
	"sync"
	"time"
)

// Manager provides short-lived, ownership-checked mutual exclusion across
// server processes. Locks are advisory: holders must still rely on atomic
// conditional store updates as the source of truth, because TTL expiry can
// hand the key to another owner at any time.
type Manager interface {
	// Acquire takes the lock if it is currently free. It returns (false, nil)
	// when another owner holds the key and a non-nil error only when the lock
	// store itself failed.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes the lock only if token matches the current owner.
	// Releasing a key acquired by someone else must be a no-op.
	Release(ctx context.Context, key, token string) (bool, error)
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is an in-process Manager with the same semantics as the Redis
// implementation. Used in tests.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetClock overrides the time source. Test helper.
func (m *MemoryLocker) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryLocker) Acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && m.now().Before(e.expires) {
		return false, nil
	}
	m.entries[key] = memoryEntry{token: token, expires: m.now().Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) Release(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.token != token {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}
