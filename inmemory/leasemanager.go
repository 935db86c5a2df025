package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sharedcode/latch"
)

type leaseEntry struct {
	owner  latch.UUID
	expiry time.Time
}

// LeaseManager is an in-process latch.LeaseManager honoring TTL expiry.
// One grant per target until release or expiry, like the remote protocols.
type LeaseManager struct {
	mux          sync.Mutex
	leases       map[string]leaseEntry
	releaseCalls int
}

func NewLeaseManager() *LeaseManager {
	return &LeaseManager{
		leases: make(map[string]leaseEntry),
	}
}

// ReleaseCalls reports how many Release round trips were received, so tests
// can assert idempotent release issues no extra calls.
func (m *LeaseManager) ReleaseCalls() int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.releaseCalls
}

func (m *LeaseManager) TryAcquire(ctx context.Context, target string, owner latch.UUID, ttl time.Duration) (bool, latch.UUID, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	e, ok := m.leases[target]
	if ok && e.expiry.After(latch.Now()) && e.owner.Compare(owner) != 0 {
		return false, e.owner, nil
	}
	m.leases[target] = leaseEntry{owner: owner, expiry: latch.Now().Add(ttl)}
	return true, owner, nil
}

func (m *LeaseManager) Renew(ctx context.Context, target string, owner latch.UUID, ttl time.Duration) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	e, ok := m.leases[target]
	if !ok || !e.expiry.After(latch.Now()) || e.owner.Compare(owner) != 0 {
		return fmt.Errorf("lease on %s is no longer held", target)
	}
	m.leases[target] = leaseEntry{owner: owner, expiry: latch.Now().Add(ttl)}
	return nil
}

func (m *LeaseManager) Release(ctx context.Context, target string, owner latch.UUID) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.releaseCalls++
	e, ok := m.leases[target]
	if !ok || e.owner.Compare(owner) != 0 {
		// Not held (anymore) by this owner; releasing is a no-op.
		return nil
	}
	delete(m.leases, target)
	return nil
}
