// Package refcount attaches reference-count metadata to a stored target under
// an exclusive lease, making the multi-step fetch-mutate-write appear atomic
// to any other party mutating the same target through the lease. It also
// supplies the guarded deletion path that refuses to destroy a target while
// references remain.
//
// Correctness precondition: every code path that mutates a target's
// attachment metadata must go through this package (and thus the lease).
package refcount

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sharedcode/latch"
	"github.com/sharedcode/latch/lease"
)

// FieldPrefix marks attachment entries in the target's metadata record. The
// live reference count is the number of fields carrying it.
const FieldPrefix = "ref."

// metadataPartition is the record partition holding per-target metadata.
const metadataPartition = "target_meta"

// FieldKey derives the deterministic metadata field name for a reference id.
func FieldKey(refID latch.UUID) string {
	return FieldPrefix + refID.String()
}

// MetadataKey is the record key carrying the target's attachment metadata.
func MetadataKey(target string) latch.Key {
	return latch.Key{Partition: metadataPartition, Row: target}
}

// Tracker coordinates reference-count mutations on target metadata records.
// One Tracker can serve many targets; each operation scopes its own lease.
type Tracker struct {
	store  latch.RecordStore
	leases latch.LeaseManager
	// LeaseTTL bounds how long a crashed holder can block others.
	LeaseTTL time.Duration
	// AcquireTimeout bounds how long an operation waits for the lease.
	AcquireTimeout time.Duration
}

func NewTracker(store latch.RecordStore, leases latch.LeaseManager) *Tracker {
	return &Tracker{
		store:          store,
		leases:         leases,
		LeaseTTL:       30 * time.Second,
		AcquireTimeout: time.Minute,
	}
}

// Attach records refID as a live dependent of target and returns the resulting
// reference count. Attaching an already attached id is a no-op (the count is
// simply reported). label defaults to the reference id string.
func (t *Tracker) Attach(ctx context.Context, target string, refID latch.UUID, label string) (int, error) {
	if refID.IsNil() {
		return 0, &latch.ConfigurationError{Msg: "reference id is required"}
	}
	if label == "" {
		label = refID.String()
	}
	count := 0
	err := lease.With(ctx, t.leases, target, t.LeaseTTL, t.AcquireTimeout, func(ctx context.Context, _ *lease.Lease) error {
		// Fresh read under the lease; never trust a cached copy.
		rec, err := t.store.Read(ctx, MetadataKey(target))
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &latch.Record{Key: MetadataKey(target), Fields: make(map[string]string)}
		}
		fk := FieldKey(refID)
		if _, exists := rec.Fields[fk]; !exists {
			rec.Fields[fk] = label
			if _, err := t.store.Write(ctx, rec, latch.InsertOrReplace); err != nil {
				return err
			}
		}
		count = countRefs(rec.Fields)
		return nil
	})
	return count, err
}

// Detach removes refID from target's live dependents and returns the
// resulting count. Detaching a missing id is a no-op.
func (t *Tracker) Detach(ctx context.Context, target string, refID latch.UUID) (int, error) {
	if refID.IsNil() {
		return 0, &latch.ConfigurationError{Msg: "reference id is required"}
	}
	count := 0
	err := lease.With(ctx, t.leases, target, t.LeaseTTL, t.AcquireTimeout, func(ctx context.Context, _ *lease.Lease) error {
		rec, err := t.store.Read(ctx, MetadataKey(target))
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		fk := FieldKey(refID)
		if _, exists := rec.Fields[fk]; exists {
			delete(rec.Fields, fk)
			if _, err := t.store.Write(ctx, rec, latch.InsertOrReplace); err != nil {
				return err
			}
		}
		count = countRefs(rec.Fields)
		return nil
	})
	return count, err
}

// References lists the target's live references as id/label pairs, sorted by
// id for stable output. Point-in-time only; hold the target's lease if the
// list must stay accurate across further calls.
func (t *Tracker) References(ctx context.Context, target string) ([]latch.KeyValuePair[latch.UUID, string], error) {
	rec, err := t.store.Read(ctx, MetadataKey(target))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	refs := make([]latch.KeyValuePair[latch.UUID, string], 0, len(rec.Fields))
	for k, label := range rec.Fields {
		if !strings.HasPrefix(k, FieldPrefix) {
			continue
		}
		id, err := latch.ParseUUID(strings.TrimPrefix(k, FieldPrefix))
		if err != nil {
			continue
		}
		refs = append(refs, latch.KeyValuePair[latch.UUID, string]{Key: id, Value: label})
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Key.Compare(refs[j].Key) < 0
	})
	return refs, nil
}

// Count reports the target's current live reference count.
func (t *Tracker) Count(ctx context.Context, target string) (int, error) {
	rec, err := t.store.Read(ctx, MetadataKey(target))
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	return countRefs(rec.Fields), nil
}

// Delete removes the target's metadata record and then invokes remove (when
// not nil) to destroy the target itself, all under the lease. While one or
// more references remain it fails with a StillReferencedError and removes
// nothing, preventing silent data loss for dependents.
func (t *Tracker) Delete(ctx context.Context, target string, remove func(ctx context.Context) error) error {
	return lease.With(ctx, t.leases, target, t.LeaseTTL, t.AcquireTimeout, func(ctx context.Context, _ *lease.Lease) error {
		rec, err := t.store.Read(ctx, MetadataKey(target))
		if err != nil {
			return err
		}
		if rec != nil {
			if n := countRefs(rec.Fields); n > 0 {
				return latch.Error[string]{
					Code:     latch.StillReferenced,
					Err:      &latch.StillReferencedError{Target: target, Count: n},
					UserData: target,
				}
			}
			if err := t.store.Remove(ctx, rec.Key); err != nil {
				return err
			}
		}
		if remove != nil {
			return remove(ctx)
		}
		return nil
	})
}

func countRefs(fields map[string]string) int {
	n := 0
	for k := range fields {
		if strings.HasPrefix(k, FieldPrefix) {
			n++
		}
	}
	return n
}
