package latch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// KeySeparator joins the partition and row parts of a Key. Neither part may
// contain it.
const KeySeparator = "/"

// Key addresses a single record in the remote store, partition + row style.
type Key struct {
	Partition string
	Row       string
}

// NewKey is a convenience constructor for Key.
func NewKey(partition, row string) Key {
	return Key{Partition: partition, Row: row}
}

// Validate checks the key parts, returning a ConfigurationError when a part
// is missing or contains the reserved separator.
func (k Key) Validate() error {
	if k.Partition == "" || k.Row == "" {
		return &ConfigurationError{Msg: "key partition and row are both required"}
	}
	if strings.Contains(k.Partition, KeySeparator) || strings.Contains(k.Row, KeySeparator) {
		return &ConfigurationError{Msg: fmt.Sprintf("key parts can't contain %q", KeySeparator)}
	}
	return nil
}

func (k Key) String() string {
	return k.Partition + KeySeparator + k.Row
}

// Record is a single addressable record. Version is the server side version
// the store reported on read; 0 means "record must not exist" when writing.
// The local copy is never authoritative, only the next round trip is.
type Record struct {
	Key     Key
	Fields  map[string]string
	Version int64
}

// Clone returns a deep copy, so loop transforms can't alias store internals.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{Key: r.Key, Version: r.Version, Fields: make(map[string]string, len(r.Fields))}
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return c
}

// WriteMode selects how a conditioned write combines with the stored record.
type WriteMode int

const (
	// InsertOrMerge unions the candidate's fields with the stored fields.
	InsertOrMerge WriteMode = iota
	// InsertOrReplace overwrites the whole record.
	InsertOrReplace
)

// RecordStore is the conditioned single-record surface of the remote store.
type RecordStore interface {
	// Read returns the current record, or nil (and nil error) when absent.
	Read(ctx context.Context, key Key) (*Record, error)
	// Write performs a conditioned write: it succeeds only when the stored
	// version still equals record.Version (0 meaning "must not exist"),
	// otherwise it fails with a ConflictError. Returns the stored record
	// carrying the new server side version.
	Write(ctx context.Context, record *Record, mode WriteMode) (*Record, error)
	// Remove deletes the record. A missing record is not an error.
	Remove(ctx context.Context, key Key) error
}

// LeaseManager is the remote lease protocol consumed by package lease. The
// remote service is the lock manager of record; implementations only relay.
type LeaseManager interface {
	// TryAcquire attempts to take the lease on target for owner. It does not
	// wait: when the lease is held by somebody else it returns false plus the
	// holder's id and a nil error. Re-acquiring an owned lease refreshes it.
	TryAcquire(ctx context.Context, target string, owner UUID, ttl time.Duration) (bool, UUID, error)
	// Renew extends the lease TTL if owner still holds it, erroring otherwise.
	Renew(ctx context.Context, target string, owner UUID, ttl time.Duration) error
	// Release relinquishes the lease when held by owner. Releasing a lease
	// that is not held (expired, or never acquired) is a no-op.
	Release(ctx context.Context, target string, owner UUID) error
}

// Cache is the interface for remote out of process cache access, e.g. Redis.
type Cache interface {
	// Set stores value under key with the given expiration, no expiry if 0.
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get fetches the value of key, found flag first.
	Get(ctx context.Context, key string) (bool, string, error)
	// GetEx fetches the value of key and slides its expiration.
	GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error)
	// SetStruct marshals value and stores it under key.
	SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// GetStruct fetches key and unmarshals it into target, found flag first.
	GetStruct(ctx context.Context, key string, target interface{}) (bool, error)
	// Delete removes the given keys, reporting false when none were found.
	Delete(ctx context.Context, keys []string) (bool, error)
	Ping(ctx context.Context) error
}
