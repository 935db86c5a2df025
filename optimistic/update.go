// Package optimistic implements compare-and-retry mutation of a single stored
// record: read the current record, apply the caller's pure transform, attempt
// a conditioned write, and on a conflict consult a RequestContext to decide
// whether to re-read and recompute. It emulates compare-and-swap over stores
// that only expose "write succeeds unless the record changed underneath you".
package optimistic

import (
	"context"

	"github.com/sharedcode/latch"
)

// Transform produces the candidate record from the current one (nil when the
// record is absent). It may be invoked several times within one update, so it
// must be a pure function of current: no side effects that aren't idempotent.
// Returning a nil record aborts the update without writing.
type Transform func(current *latch.Record) (*latch.Record, error)

// Update runs the read-transform-conditioned-write loop on key using a fresh
// optimistic concurrency RequestContext. The write mode selects merge vs
// replace semantics; the loop is the same for both. Non-conflict errors
// propagate immediately (transient transport retries belong to the store
// call itself, not this loop); retry exhaustion surfaces the most recent
// ConflictError unchanged. Returns the stored record on success.
func Update(ctx context.Context, store latch.RecordStore, key latch.Key, transform Transform, mode latch.WriteMode) (*latch.Record, error) {
	return UpdateWithContext(ctx, latch.NewOptimisticConcurrencyContext(), store, key, transform, mode)
}

// UpdateWithContext is Update with a caller supplied RequestContext, which
// must treat precondition failures as retryable for the loop to make progress
// under contention. The context's RetryCount reflects the conflicts absorbed.
func UpdateWithContext(ctx context.Context, rc *latch.RequestContext, store latch.RecordStore, key latch.Key, transform Transform, mode latch.WriteMode) (*latch.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	for {
		current, err := store.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		candidate, err := transform(current)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return current, nil
		}
		candidate.Key = key
		if current != nil {
			candidate.Version = current.Version
		} else {
			candidate.Version = 0
		}
		written, err := store.Write(ctx, candidate, mode)
		if err == nil {
			return written, nil
		}
		if !latch.IsConflict(err) {
			return nil, err
		}
		if !rc.ShouldRetry(ctx, err) {
			return nil, err
		}
	}
}

// valueField is the record field the typed variant stores its payload under.
const valueField = "value"

// UpdateValue is the typed variant: it keeps T marshaled in a single record
// field and hands the transform a decoded *T (nil when absent). The returned
// value is the one stored; on error it is the zero T.
func UpdateValue[T any](ctx context.Context, store latch.RecordStore, key latch.Key, marshaler latch.Marshaler, transform func(current *T) (T, error), mode latch.WriteMode) (T, error) {
	var out T
	if marshaler == nil {
		marshaler = latch.DefaultMarshaler
	}
	_, err := Update(ctx, store, key, func(cur *latch.Record) (*latch.Record, error) {
		var curVal *T
		if cur != nil {
			if s, ok := cur.Fields[valueField]; ok {
				var v T
				if err := marshaler.Unmarshal([]byte(s), &v); err != nil {
					return nil, err
				}
				curVal = &v
			}
		}
		next, err := transform(curVal)
		if err != nil {
			return nil, err
		}
		ba, err := marshaler.Marshal(next)
		if err != nil {
			return nil, err
		}
		out = next
		return &latch.Record{Key: key, Fields: map[string]string{valueField: string(ba)}}, nil
	}, mode)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
