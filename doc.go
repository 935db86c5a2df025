// Package latch defines the core types and helpers for client-side concurrency
// control over remote stores that offer no native transactions, only
// single-record conditioned writes and time-bounded leases.
// It provides the retry decision engine (RetryPolicy & RequestContext), the
// status code and error vocabulary, and the ports (RecordStore, LeaseManager,
// Cache) that concrete backends implement. Concrete backends live in
// subpackages such as cassandra, redis, and aws_s3, while the algorithms built
// on top live in lease (pessimistic exclusive leases), optimistic
// (compare-and-retry record updates), and refcount (a lease-guarded
// reference-counting consumer).
// It is a foundational package that the other components build upon.
package latch

// Timeout model
//
// Operations here are bounded by two timers:
//  1. The caller-provided context deadline/cancellation which propagates across subsystems.
//  2. An operation-specific maximum duration (e.g., lease acquisition timeout) used for
//     internal safety limits and lock TTLs.
//
// Lease TTLs are owned by the remote service: even when a caller's context is canceled
// before a release round-trip completes, the lease expires server side and the target
// becomes acquirable again. Acquisition timeouts are normalized into LeaseTimeoutError
// while context cancellation surfaces the context error unchanged, so callers can tell
// "the target stayed busy" apart from "I gave up".
