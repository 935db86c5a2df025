package latch

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusCode(t *testing.T) {
	if _, ok := StatusCode(nil); ok {
		t.Fatalf("nil error should carry no code")
	}
	if _, ok := StatusCode(errors.New("plain transport error")); ok {
		t.Fatalf("uncoded error should carry no code")
	}

	err := fmt.Errorf("write %s failed: %w", "p/r",
		NewStatusError(StatusServiceUnavailable, errors.New("throttled")))
	code, ok := StatusCode(err)
	if !ok || code != StatusServiceUnavailable {
		t.Fatalf("expected wrapped 503, got %d ok=%v", code, ok)
	}

	code, ok = StatusCode(&ConflictError{Key: NewKey("p", "r")})
	if !ok || code != StatusPreconditionFailed {
		t.Fatalf("conflict should classify as 412, got %d ok=%v", code, ok)
	}
}

func TestIsConflict(t *testing.T) {
	err := fmt.Errorf("update gave up: %w", &ConflictError{Key: NewKey("p", "r")})
	if !IsConflict(err) {
		t.Fatalf("wrapped ConflictError should match")
	}
	if IsConflict(NewStatusError(StatusConflict, errors.New("busy"))) {
		t.Fatalf("a coded 409 is not a versioned write conflict")
	}
}

func TestKeyValidate(t *testing.T) {
	cases := []struct {
		key     Key
		wantErr bool
	}{
		{NewKey("users", "42"), false},
		{NewKey("", "42"), true},
		{NewKey("users", ""), true},
		{NewKey("us/ers", "42"), true},
		{NewKey("users", "4/2"), true},
	}
	for i, c := range cases {
		err := c.key.Validate()
		if (err != nil) != c.wantErr {
			t.Fatalf("case %d (%v): got err %v, wantErr %v", i, c.key, err, c.wantErr)
		}
	}
}

func TestRecordClone(t *testing.T) {
	r := &Record{Key: NewKey("p", "r"), Version: 3, Fields: map[string]string{"a": "1"}}
	c := r.Clone()
	c.Fields["a"] = "2"
	c.Fields["b"] = "3"
	if r.Fields["a"] != "1" || len(r.Fields) != 1 {
		t.Fatalf("clone must not alias the original's fields: %v", r.Fields)
	}
}
