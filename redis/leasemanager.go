package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/latch"
)

// leaseManager implements latch.LeaseManager over the Redis cache: the lease
// key holds the owner's lock id, TTL'd so a crashed holder can't block the
// target forever.
type leaseManager struct {
	cache latch.Cache
}

// NewLeaseManager returns a LeaseManager on the package's Redis connection.
func NewLeaseManager() latch.LeaseManager {
	return &leaseManager{
		cache: NewClient(),
	}
}

// NewLeaseManagerWithCache returns a LeaseManager on the provided cache.
func NewLeaseManagerWithCache(cache latch.Cache) latch.LeaseManager {
	return &leaseManager{
		cache: cache,
	}
}

// FormatLeaseKey prefixes the target with 'L' to form the namespaced Redis key used for leasing.
func FormatLeaseKey(target string) string {
	return fmt.Sprintf("L%s", target)
}

func (m *leaseManager) TryAcquire(ctx context.Context, target string, owner latch.UUID, ttl time.Duration) (bool, latch.UUID, error) {
	k := FormatLeaseKey(target)
	found, readItem, err := m.cache.Get(ctx, k)
	if err != nil {
		return false, latch.NilUUID, err
	}
	if found {
		if readItem != owner.String() {
			// Somebody else holds the lease.
			id, _ := latch.ParseUUID(readItem)
			return false, id, nil
		}
		// Re-acquire by the same owner, slide the TTL.
		if _, _, err := m.cache.GetEx(ctx, k, ttl); err != nil {
			return false, latch.NilUUID, err
		}
		return true, owner, nil
	}

	// Key does not exist, upsert it.
	if err := m.cache.Set(ctx, k, owner.String(), ttl); err != nil {
		return false, latch.NilUUID, err
	}
	// Use a 2nd "get" to ensure we "won" the lease attempt & fail if not.
	found, readItem2, err := m.cache.Get(ctx, k)
	if !found || err != nil {
		return false, latch.NilUUID, err
	}
	if readItem2 != owner.String() {
		// Key found with another owner's id, lease attempt failed.
		id, _ := latch.ParseUUID(readItem2)
		return false, id, nil
	}
	return true, owner, nil
}

func (m *leaseManager) Renew(ctx context.Context, target string, owner latch.UUID, ttl time.Duration) error {
	k := FormatLeaseKey(target)
	found, readItem, err := m.cache.GetEx(ctx, k, ttl)
	if err != nil {
		return err
	}
	if !found || readItem != owner.String() {
		return fmt.Errorf("lease on %s is no longer held", target)
	}
	return nil
}

func (m *leaseManager) Release(ctx context.Context, target string, owner latch.UUID) error {
	k := FormatLeaseKey(target)
	found, readItem, err := m.cache.Get(ctx, k)
	if err != nil {
		return err
	}
	if !found || readItem != owner.String() {
		// Not ours (anymore); expiry or another owner took it. Not an issue.
		return nil
	}
	if _, err := m.cache.Delete(ctx, []string{k}); err != nil {
		return err
	}
	return nil
}
