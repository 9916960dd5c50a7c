// Package resource governs the shared budgets of one index.
//
// A Controller manages three resource types:
//
//   - Memory: bytes charged by caches and in-flight batches (non-blocking, fail-fast)
//   - Credits: the bounded window of embedding batches in flight (blocking)
//   - IO: a token bucket pacing background storage calls such as reconcile stats
//
// # Memory
//
// AcquireMemory never blocks. It returns ErrMemoryLimitExceeded when the
// reservation would cross the ceiling and the caller decides what to evict
// or skip:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 150 << 20})
//	if err := rc.AcquireMemory(n); err != nil {
//	    // evict, shrink the batch, or retry later
//	}
//	defer rc.ReleaseMemory(n)
//
// Pressure reports usage as a fraction of the ceiling and feeds the
// scheduler's memory probe.
//
// # Credits
//
// AcquireCredit blocks until one of the configured credits is free or the
// context ends:
//
//	if err := rc.AcquireCredit(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseCredit()
//
// # IO
//
// WaitIO blocks until the token bucket admits n units. The rate-limited
// reader and writer wrap streams with the same bucket.
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
