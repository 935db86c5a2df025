// Package inmemory provides in-process implementations of the latch ports
// with real version and TTL semantics. Package tests across the module use
// these; they are not meant for production coordination.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharedcode/latch"
)

// RecordStore is a map backed latch.RecordStore with monotonic versions and
// genuine conflict detection on conditioned writes.
type RecordStore struct {
	mux              sync.Mutex
	lookup           map[string]*latch.Record
	nextVersion      int64
	inducedConflicts int
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		lookup: make(map[string]*latch.Record),
	}
}

// InduceWriteConflicts makes the next n Write calls fail with a ConflictError
// regardless of version, for tests exercising retry paths.
func (s *RecordStore) InduceWriteConflicts(n int) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.inducedConflicts = n
}

func (s *RecordStore) Read(ctx context.Context, key latch.Key) (*latch.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	r, ok := s.lookup[key.String()]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *RecordStore) Write(ctx context.Context, record *latch.Record, mode latch.WriteMode) (*latch.Record, error) {
	if err := record.Key.Validate(); err != nil {
		return nil, err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.inducedConflicts > 0 {
		s.inducedConflicts--
		return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("induced conflict")}
	}
	k := record.Key.String()
	current, exists := s.lookup[k]
	if record.Version == 0 {
		if exists {
			return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("record already exists at version %d", current.Version)}
		}
	} else {
		if !exists {
			return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("record no longer exists")}
		}
		if current.Version != record.Version {
			return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("version %d is stale, stored is %d", record.Version, current.Version)}
		}
	}
	next := record.Clone()
	if mode == latch.InsertOrMerge && exists {
		merged := current.Clone()
		for fk, fv := range record.Fields {
			merged.Fields[fk] = fv
		}
		next = merged
	}
	s.nextVersion++
	next.Version = s.nextVersion
	s.lookup[k] = next
	return next.Clone(), nil
}

func (s *RecordStore) Remove(ctx context.Context, key latch.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.lookup, key.String())
	return nil
}
