package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/sharedcode/latch"
)

type recordStore struct{}

// NewRecordStore manages records in the keyspace's record table. Conditioned
// writes use Cassandra lightweight transactions (IF NOT EXISTS / IF ver = ?);
// a not-applied outcome surfaces as a latch.ConflictError.
func NewRecordStore() latch.RecordStore {
	return &recordStore{}
}

func (rs *recordStore) Read(ctx context.Context, key latch.Key) (*latch.Record, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call OpenConnection(config) to open it")
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	selectStatement := fmt.Sprintf("SELECT ver, fields FROM %s.record WHERE p = ? AND r = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, key.Partition, key.Row).WithContext(ctx)
	if connection.Config.ConsistencyBook.RecordGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.RecordGet)
	}

	var ver int64
	fields := make(map[string]string)
	if err := qry.Scan(&ver, &fields); err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &latch.Record{Key: key, Fields: fields, Version: ver}, nil
}

func (rs *recordStore) Write(ctx context.Context, record *latch.Record, mode latch.WriteMode) (*latch.Record, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call OpenConnection(config) to open it")
	}
	if err := record.Key.Validate(); err != nil {
		return nil, err
	}

	if record.Version == 0 {
		// Record must not exist yet. Insert and merge collapse to the same
		// statement on a fresh record.
		insertStatement := fmt.Sprintf("INSERT INTO %s.record (p, r, ver, fields) VALUES(?,?,?,?) IF NOT EXISTS;", connection.Config.Keyspace)
		qry := connection.Session.Query(insertStatement, record.Key.Partition, record.Key.Row, int64(1), record.Fields).WithContext(ctx)

		applied, err := qry.MapScanCAS(map[string]interface{}{})
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("record already exists")}
		}
		written := record.Clone()
		written.Version = 1
		return written, nil
	}

	newVersion := record.Version + 1
	var updateStatement string
	if mode == latch.InsertOrMerge {
		// Field level union, done server side on the map column.
		updateStatement = fmt.Sprintf("UPDATE %s.record SET fields = fields + ?, ver = ? WHERE p = ? AND r = ? IF ver = ?;", connection.Config.Keyspace)
	} else {
		updateStatement = fmt.Sprintf("UPDATE %s.record SET fields = ?, ver = ? WHERE p = ? AND r = ? IF ver = ?;", connection.Config.Keyspace)
	}
	qry := connection.Session.Query(updateStatement, record.Fields, newVersion, record.Key.Partition, record.Key.Row, record.Version).WithContext(ctx)

	applied, err := qry.MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("version %d is stale", record.Version)}
	}

	written := record.Clone()
	written.Version = newVersion
	if mode == latch.InsertOrMerge {
		// The union happened server side; re-read to return the merged fields.
		merged, err := rs.Read(ctx, record.Key)
		if err == nil && merged != nil {
			written = merged
		}
	}
	return written, nil
}

func (rs *recordStore) Remove(ctx context.Context, key latch.Key) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call OpenConnection(config) to open it")
	}
	if err := key.Validate(); err != nil {
		return err
	}
	deleteStatement := fmt.Sprintf("DELETE FROM %s.record WHERE p = ? AND r = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(deleteStatement, key.Partition, key.Row).WithContext(ctx)
	if connection.Config.ConsistencyBook.RecordRemove > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.RecordRemove)
	}
	return qry.Exec()
}
