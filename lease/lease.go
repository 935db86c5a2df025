// Package lease implements a scoped, disposable exclusive lease over a remote
// lease manager. The remote service is the lock manager of record; the local
// Lease value is only a capability token plus the responsibility to release it.
package lease

import (
	"context"
	"fmt"
	log "log/slog"
	"sync/atomic"
	"time"

	"github.com/sharedcode/latch"
)

// MinimumTTL is the smallest lease duration accepted; anything shorter risks
// the lease expiring between two dependent round trips.
const MinimumTTL = time.Second

// acquireJitterUnit staggers contending acquirers between attempts.
var acquireJitterUnit = 50 * time.Millisecond

// Lease represents ownership of the time-bounded remote lock on one target.
// Immutable once acquired, release-at-most-once.
type Lease struct {
	target   string
	owner    latch.UUID
	ttl      time.Duration
	mgr      latch.LeaseManager
	disposed atomic.Bool
}

// Target returns the object this lease protects. The lease holds no ownership
// of the target's lifetime.
func (l *Lease) Target() string {
	return l.target
}

// Owner returns the lock id the remote service granted this holder.
func (l *Lease) Owner() latch.UUID {
	return l.owner
}

// Acquire blocks until the lease manager grants the lease on target or the
// timeout elapses, in which case it fails with a LeaseTimeoutError. A timeout
// <= 0 means wait indefinitely; ctx cancellation always applies and surfaces
// the context error unchanged, without a lease being held.
func Acquire(ctx context.Context, mgr latch.LeaseManager, target string, ttl time.Duration, timeout time.Duration) (*Lease, error) {
	if target == "" {
		return nil, &latch.ConfigurationError{Msg: "lease target is required"}
	}
	if ttl < MinimumTTL {
		return nil, &latch.ConfigurationError{Msg: fmt.Sprintf("lease ttl %v is below the %v minimum", ttl, MinimumTTL)}
	}
	owner := latch.NewUUID()
	startTime := latch.Now()
	for {
		acquired, holder, err := mgr.TryAcquire(ctx, target, owner, ttl)
		if err != nil {
			return nil, err
		}
		if acquired {
			return &Lease{target: target, owner: owner, ttl: ttl, mgr: mgr}, nil
		}
		log.Debug("lease busy", "target", target, "holder", holder.String())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if timeout > 0 {
			if err := latch.TimedOut(ctx, "lease acquire", startTime, timeout); err != nil {
				return nil, latch.Error[string]{
					Code:     latch.LeaseAcquisitionFailure,
					Err:      &latch.LeaseTimeoutError{Target: target, Timeout: timeout},
					UserData: target,
				}
			}
		}
		latch.RandomSleepWithUnit(ctx, acquireJitterUnit)
	}
}

// Release tells the lease manager to relinquish the lease. It is idempotent:
// repeat calls (or a release racing another release) do nothing and issue no
// further remote call. Manager errors are suppressed, the lease expires server
// side regardless and surfacing them would mask the primary operation's outcome.
func (l *Lease) Release(ctx context.Context) {
	if !l.disposed.CompareAndSwap(false, true) {
		return
	}
	if err := l.mgr.Release(ctx, l.target, l.owner); err != nil {
		log.Warn("lease release failed", "target", l.target, "error", err.Error())
	}
}

// Renew extends the lease TTL. Errors if the lease was already released here
// or is no longer held remotely (e.g. it expired).
func (l *Lease) Renew(ctx context.Context, ttl time.Duration) error {
	if l.disposed.Load() {
		return fmt.Errorf("lease on %s is already released", l.target)
	}
	if ttl < MinimumTTL {
		ttl = l.ttl
	}
	return l.mgr.Renew(ctx, l.target, l.owner, ttl)
}

// With acquires the lease, runs fn while holding it, and releases on every
// exit path including panics unwinding through fn.
func With(ctx context.Context, mgr latch.LeaseManager, target string, ttl, timeout time.Duration, fn func(ctx context.Context, l *Lease) error) error {
	l, err := Acquire(ctx, mgr, target, ttl, timeout)
	if err != nil {
		return err
	}
	defer l.Release(ctx)
	return fn(ctx, l)
}
