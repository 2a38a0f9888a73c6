package healthstore

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is a single-process Store: one value cell with an expiry.
// Suitable for single-instance deployments and tests; a fleet of proxy
// instances should share a RedisStore instead.
type MemoryStore struct {
	clock clockwork.Clock

	mu      sync.Mutex
	status  Status
	expires time.Time
}

// NewMemoryStore creates an empty in-memory store using the real clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

// NewMemoryStoreWithClock creates an empty store on the given clock.
func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{clock: clock}
}

func (m *MemoryStore) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expires.IsZero() || m.clock.Now().After(m.expires) {
		return StatusUnknown, nil
	}
	return m.status, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, s Status, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	m.expires = m.clock.Now().Add(ttl)
	return nil
}
