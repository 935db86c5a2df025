package latch

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy decides whether a failed attempt should be retried and with what
// backoff. Implementations are stateless: the attempt number is passed in so
// one policy value can serve many operations.
type RetryPolicy interface {
	// Decide returns whether to retry attempt number attempt (0 based) that
	// failed with the given status code, and the backoff to wait when true.
	Decide(attempt int, statusCode int, err error) (bool, time.Duration)
}

// RetryPolicyFunc adapts a plain function to the RetryPolicy interface.
type RetryPolicyFunc func(attempt int, statusCode int, err error) (bool, time.Duration)

func (f RetryPolicyFunc) Decide(attempt int, statusCode int, err error) (bool, time.Duration) {
	return f(attempt, statusCode, err)
}

// ExponentialPolicyConfig are the knobs of the default policy.
type ExponentialPolicyConfig struct {
	// InitialInterval is the first backoff, doubled each retry. Default 500ms.
	InitialInterval time.Duration
	// MaxInterval caps the computed backoff. Default 30s.
	MaxInterval time.Duration
	// MaxAttempts is the number of retries allowed. Default 5.
	MaxAttempts int
	// JitterPercent randomizes each backoff by +/- the percentage. Default 25.
	JitterPercent uint64
}

type exponentialPolicy struct {
	cfg ExponentialPolicyConfig
}

// NewExponentialPolicy returns the default policy kind: exponential backoff
// with jitter and a cap, retrying the transient status codes.
func NewExponentialPolicy(cfg ExponentialPolicyConfig) RetryPolicy {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &exponentialPolicy{cfg: cfg}
}

// Decide walks a fresh go-retry backoff out to the requested attempt so the
// policy itself stays stateless.
func (p *exponentialPolicy) Decide(attempt int, statusCode int, err error) (bool, time.Duration) {
	if attempt >= p.cfg.MaxAttempts {
		return false, 0
	}
	if !retryableStatus(statusCode) {
		return false, 0
	}
	var b retry.Backoff = retry.NewExponential(p.cfg.InitialInterval)
	if p.cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.cfg.JitterPercent, b)
	}
	b = retry.WithCappedDuration(p.cfg.MaxInterval, b)
	interval := p.cfg.InitialInterval
	for i := 0; i <= attempt; i++ {
		next, stop := b.Next()
		if stop {
			return false, 0
		}
		interval = next
	}
	return true, interval
}

// The default policy is resolved lazily from injected configuration, guarded
// by a mutex, rather than read from ambient globals at call time.
var (
	defaultPolicyMux sync.Mutex
	defaultPolicyCfg ExponentialPolicyConfig
	defaultPolicy    RetryPolicy
)

// SetDefaultRetryPolicyConfig replaces the configuration the default policy
// is built from. Contexts created afterwards pick it up; already resolved
// contexts keep the policy they bound.
func SetDefaultRetryPolicyConfig(cfg ExponentialPolicyConfig) {
	defaultPolicyMux.Lock()
	defer defaultPolicyMux.Unlock()
	defaultPolicyCfg = cfg
	defaultPolicy = nil
}

func resolveDefaultPolicy() RetryPolicy {
	defaultPolicyMux.Lock()
	defer defaultPolicyMux.Unlock()
	if defaultPolicy == nil {
		defaultPolicy = NewExponentialPolicy(defaultPolicyCfg)
	}
	return defaultPolicy
}

// RequestContext tracks the retry decisions of one logical operation: the
// attempt counter, the policy, and the caller's status code overrides.
// Create one per logical operation and discard it when the operation finishes;
// it is not safe for concurrent use across unrelated operations.
type RequestContext struct {
	// RetryCount is incremented on each accepted retry.
	RetryCount int

	policy   RetryPolicy
	resolve  sync.Once
	resolved RetryPolicy

	included map[int]struct{}
	excluded map[int]struct{}
}

// NewRequestContext creates a context bound to the given policy. Passing nil
// binds the package default policy, resolved once on first use.
func NewRequestContext(policy RetryPolicy) *RequestContext {
	return &RequestContext{
		policy:   policy,
		included: make(map[int]struct{}),
		excluded: make(map[int]struct{}),
	}
}

// NewOptimisticConcurrencyContext returns a RequestContext pre-configured to
// treat precondition failures (lost conditioned writes) as retryable. This is
// the context the optimistic update loop consults on conflict.
func NewOptimisticConcurrencyContext() *RequestContext {
	c := NewRequestContext(nil)
	c.IncludeStatus(StatusPreconditionFailed)
	return c
}

// IncludeStatus forces code to be treated as retryable, superseding both the
// policy's classification and a prior ExcludeStatus. Idempotent.
func (c *RequestContext) IncludeStatus(code int) {
	delete(c.excluded, code)
	c.included[code] = struct{}{}
}

// ExcludeStatus forces code to be treated as non-retryable, superseding both
// the policy's classification and a prior IncludeStatus. Idempotent.
func (c *RequestContext) ExcludeStatus(code int) {
	delete(c.included, code)
	c.excluded[code] = struct{}{}
}

// ResetStatus removes code from both override sets.
func (c *RequestContext) ResetStatus(code int) {
	delete(c.included, code)
	delete(c.excluded, code)
}

func (c *RequestContext) getPolicy() RetryPolicy {
	c.resolve.Do(func() {
		if c.policy != nil {
			c.resolved = c.policy
			return
		}
		c.resolved = resolveDefaultPolicy()
	})
	return c.resolved
}

// DecideRetry is the non-blocking decision: true means "please retry" and
// carries the backoff to wait first. It never returns an error; a "do not
// retry" outcome leaves aborting to the caller. Unclassifiable errors and
// excluded codes decide "do not retry"; included codes are remapped to the
// canonical timeout code before consulting the policy, so the policy can't
// veto a caller forced retry class. An accepted retry increments RetryCount.
func (c *RequestContext) DecideRetry(err error) (bool, time.Duration) {
	code, ok := StatusCode(err)
	if !ok {
		return false, 0
	}
	if _, found := c.excluded[code]; found {
		return false, 0
	}
	if _, found := c.included[code]; found {
		code = StatusTimeout
	}
	r, interval := c.getPolicy().Decide(c.RetryCount, code, err)
	if !r {
		return false, 0
	}
	c.RetryCount++
	return true, interval
}

// ShouldRetry is the blocking form of DecideRetry: on an accepted retry it
// sleeps the computed backoff (or until ctx is done) before returning. Both
// forms share one polarity: true always means "please retry". Cancellation
// mid-backoff turns the decision into "do not retry".
func (c *RequestContext) ShouldRetry(ctx context.Context, err error) bool {
	r, interval := c.DecideRetry(err)
	if !r {
		return false
	}
	log.Debug("retry backoff", "attempt", c.RetryCount, "interval", interval)
	Sleep(ctx, interval)
	return ctx.Err() == nil
}
