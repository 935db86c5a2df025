package latch

import (
	"errors"
	"fmt"
)

// Status codes surfaced by the remote store collaborators. They mirror the
// HTTP-style codes the storage services report so that retry policies and
// caller overrides can speak one vocabulary across backends.
const (
	StatusTimeout            = 408
	StatusConflict           = 409
	StatusPreconditionFailed = 412
	StatusTooManyRequests    = 429
	StatusInternal           = 500
	StatusBadGateway         = 502
	StatusServiceUnavailable = 503
	StatusGatewayTimeout     = 504
)

// StatusError is a transport or service failure tagged with the status code
// the remote store reported. Backends wrap their SDK errors in this so the
// retry engine can classify them without knowing the SDK.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError wraps err with the given store status code.
func NewStatusError(code int, err error) error {
	return &StatusError{Code: code, Err: err}
}

// StatusCode extracts the store status code carried by err. A ConflictError
// classifies as StatusPreconditionFailed. Returns false when err carries no
// classifiable code, e.g. a plain transport error.
func StatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return StatusPreconditionFailed, true
	}
	return 0, false
}

// retryableStatus reports whether a status code is transient per the default
// classification. Caller overrides on a RequestContext supersede this.
func retryableStatus(code int) bool {
	switch code {
	case StatusTimeout, StatusTooManyRequests, StatusInternal,
		StatusBadGateway, StatusServiceUnavailable, StatusGatewayTimeout:
		return true
	}
	return false
}
