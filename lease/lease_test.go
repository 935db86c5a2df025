package lease

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/sharedcode/latch"
	"github.com/sharedcode/latch/inmemory"
)

func init() {
	// Deterministic acquire jitter.
	latch.SetJitterRNG(rand.New(rand.NewSource(1)))
}

func TestAcquireValidation(t *testing.T) {
	ctx := context.Background()
	mgr := inmemory.NewLeaseManager()

	var cfgErr *latch.ConfigurationError
	if _, err := Acquire(ctx, mgr, "", time.Minute, 0); !errors.As(err, &cfgErr) {
		t.Fatalf("empty target: expected ConfigurationError, got %v", err)
	}
	if _, err := Acquire(ctx, mgr, "vm-7", 10*time.Millisecond, 0); !errors.As(err, &cfgErr) {
		t.Fatalf("sub-minimum ttl: expected ConfigurationError, got %v", err)
	}
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	mgr := inmemory.NewLeaseManager()

	l, err := Acquire(ctx, mgr, "vm-7", time.Minute, 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if l.Target() != "vm-7" {
		t.Fatalf("unexpected target %s", l.Target())
	}
	if l.Owner().IsNil() {
		t.Fatalf("granted lease should carry a lock id")
	}
	l.Release(ctx)

	// Target is free again.
	l2, err := Acquire(ctx, mgr, "vm-7", time.Minute, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	l2.Release(ctx)
}

func TestReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr := inmemory.NewLeaseManager()

	l, err := Acquire(ctx, mgr, "vm-7", time.Minute, 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	l.Release(ctx)
	l.Release(ctx)
	l.Release(ctx)
	if got := mgr.ReleaseCalls(); got != 1 {
		t.Fatalf("expected a single release round trip, got %d", got)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	ctx := context.Background()
	mgr := inmemory.NewLeaseManager()

	holder, err := Acquire(ctx, mgr, "vm-7", time.Minute, 0)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer holder.Release(ctx)

	_, err = Acquire(ctx, mgr, "vm-7", time.Minute, 150*time.Millisecond)
	var lte *latch.LeaseTimeoutError
	if !errors.As(err, &lte) {
		t.Fatalf("expected LeaseTimeoutError, got %v", err)
	}
	if lte.Target != "vm-7" || lte.Timeout != 150*time.Millisecond {
		t.Fatalf("timeout error lacks detail: %+v", lte)
	}
}

func TestAcquireCancelled(t *testing.T) {
	mgr := inmemory.NewLeaseManager()
	bg := context.Background()

	holder, err := Acquire(bg, mgr, "vm-7", time.Minute, 0)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer holder.Release(bg)

	ctx, cancel := context.WithTimeout(bg, 100*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, mgr, "vm-7", time.Minute, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the context error unchanged, got %v", err)
	}
	var lte *latch.LeaseTimeoutError
	if errors.As(err, &lte) {
		t.Fatalf("cancellation must not masquerade as a lease timeout")
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	mgr := inmemory.NewLeaseManager()

	holder, err := Acquire(ctx, mgr, "vm-7", time.Minute, 0)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	go func() {
		latch.Sleep(ctx, 120*time.Millisecond)
		holder.Release(ctx)
	}()

	l, err := Acquire(ctx, mgr, "vm-7", time.Minute, 5*time.Second)
	if err != nil {
		t.Fatalf("waiting acquire failed: %v", err)
	}
	l.Release(ctx)
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	mgr := inmemory.NewLeaseManager()

	l, err := Acquire(ctx, mgr, "vm-7", time.Minute, 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := l.Renew(ctx, 2*time.Minute); err != nil {
		t.Fatalf("renew while held failed: %v", err)
	}
	l.Release(ctx)
	if err := l.Renew(ctx, time.Minute); err == nil {
		t.Fatalf("renew after release should error")
	}
}

func TestWithReleasesOnError(t *testing.T) {
	ctx := context.Background()
	mgr := inmemory.NewLeaseManager()

	wantErr := errors.New("work failed")
	err := With(ctx, mgr, "vm-7", time.Minute, 0, func(ctx context.Context, l *Lease) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the callback error back, got %v", err)
	}
	if got := mgr.ReleaseCalls(); got != 1 {
		t.Fatalf("lease not released on the error path, release calls %d", got)
	}

	// And the target is immediately grantable again.
	l, err := Acquire(ctx, mgr, "vm-7", time.Minute, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after With failed: %v", err)
	}
	l.Release(ctx)
}
