package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/sharedcode/latch"
)

type leaseManager struct{}

// NewLeaseManager manages leases in the keyspace's lease table. A lease is a
// TTL'd row inserted IF NOT EXISTS, so the cluster arbitrates who won and a
// crashed holder's row evaporates on its own.
func NewLeaseManager() latch.LeaseManager {
	return &leaseManager{}
}

func (m *leaseManager) TryAcquire(ctx context.Context, target string, owner latch.UUID, ttl time.Duration) (bool, latch.UUID, error) {
	if connection == nil {
		return false, latch.NilUUID, fmt.Errorf("Cassandra connection is closed, 'call OpenConnection(config) to open it")
	}
	ttlSeconds := int(ttl / time.Second)
	insertStatement := fmt.Sprintf("INSERT INTO %s.lease (target, owner) VALUES(?,?) IF NOT EXISTS USING TTL ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, target, gocql.UUID(owner), ttlSeconds).WithContext(ctx)

	previous := map[string]interface{}{}
	applied, err := qry.MapScanCAS(previous)
	if err != nil {
		return false, latch.NilUUID, err
	}
	if applied {
		return true, owner, nil
	}
	holder := latch.NilUUID
	if v, ok := previous["owner"].(gocql.UUID); ok {
		holder = latch.UUID(v)
	}
	if holder.Compare(owner) == 0 {
		// Re-acquire by the same owner, slide the TTL.
		if err := m.Renew(ctx, target, owner, ttl); err != nil {
			return false, holder, err
		}
		return true, owner, nil
	}
	return false, holder, nil
}

func (m *leaseManager) Renew(ctx context.Context, target string, owner latch.UUID, ttl time.Duration) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call OpenConnection(config) to open it")
	}
	ttlSeconds := int(ttl / time.Second)
	updateStatement := fmt.Sprintf("UPDATE %s.lease USING TTL ? SET owner = ? WHERE target = ? IF owner = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(updateStatement, ttlSeconds, gocql.UUID(owner), target, gocql.UUID(owner)).WithContext(ctx)

	applied, err := qry.MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("lease on %s is no longer held", target)
	}
	return nil
}

func (m *leaseManager) Release(ctx context.Context, target string, owner latch.UUID) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call OpenConnection(config) to open it")
	}
	deleteStatement := fmt.Sprintf("DELETE FROM %s.lease WHERE target = ? IF owner = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(deleteStatement, target, gocql.UUID(owner)).WithContext(ctx)

	// Not-applied means expiry or another owner took it; releasing is a no-op then.
	if _, err := qry.MapScanCAS(map[string]interface{}{}); err != nil {
		return err
	}
	return nil
}
