package latch

import (
	"errors"
	"fmt"
	"time"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	LeaseAcquisitionFailure
	StillReferenced
	ObjectIOError
)

// Error is the latch custom error, carrying a code plus caller supplied data.
type Error[T any] struct {
	Code     ErrorCode
	Err      error
	UserData T
}

func (e Error[T]) Error() string {
	return fmt.Sprintf("Error %d: %v, user data: %v", e.Code, e.Err, e.UserData)
}

func (e Error[T]) Unwrap() error {
	return e.Err
}

// ConflictError signals a conditioned write that lost the race: the record
// changed (or appeared) since it was last read. The optimistic update loop
// watches for exactly this error; everything else propagates on first sight.
type ConflictError struct {
	Key Key
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("write conflict on %s", e.Key.String())
	}
	return fmt.Sprintf("write conflict on %s: %v", e.Key.String(), e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// LeaseTimeoutError is returned when a lease was not granted within the
// caller's timeout. Distinct from transport errors so callers can tell
// "target stayed busy" from "store unreachable".
type LeaseTimeoutError struct {
	Target  string
	Timeout time.Duration
}

func (e *LeaseTimeoutError) Error() string {
	return fmt.Sprintf("lease on %s not acquired within %v", e.Target, e.Timeout)
}

// StillReferencedError blocks destructive deletion of a target that still has
// attached references.
type StillReferencedError struct {
	Target string
	Count  int
}

func (e *StillReferencedError) Error() string {
	return fmt.Sprintf("%s still has %d attached reference(s)", e.Target, e.Count)
}

// ConfigurationError reports an invalid caller supplied parameter, e.g. a
// malformed key or an out of range duration.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}
