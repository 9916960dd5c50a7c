package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// DefaultCredits is the default number of embedding batches in flight.
const DefaultCredits = 3

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the ceiling for managed memory.
	// If 0, no limit is enforced (only tracking).
	MemoryLimitBytes int64

	// Credits is the size of the in-flight batch window.
	// If 0, defaults to DefaultCredits.
	Credits int64

	// IOOpsPerSec paces background storage calls.
	// If 0, unlimited.
	IOOpsPerSec float64

	// IOBurst is the token bucket size. If 0, it equals one second of IOOpsPerSec.
	IOBurst int
}

// Controller manages the memory, credit and IO budgets of one index.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Credits
	creditSem *semaphore.Weighted
	inFlight  atomic.Int64

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.Credits <= 0 {
		cfg.Credits = DefaultCredits
	}

	c := &Controller{
		cfg:       cfg,
		creditSem: semaphore.NewWeighted(cfg.Credits),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOOpsPerSec > 0 {
		burst := cfg.IOBurst
		if burst <= 0 {
			burst = max(1, int(cfg.IOOpsPerSec))
		}
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOOpsPerSec), burst)
	}

	return c
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// Pressure returns usage as a fraction of the limit, or 0 without a limit.
func (c *Controller) Pressure() float64 {
	limit := c.MemoryLimit()
	if limit <= 0 {
		return 0
	}
	return float64(c.MemoryUsage()) / float64(limit)
}

// AcquireCredit reserves one in-flight slot, blocking until one is free.
func (c *Controller) AcquireCredit(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.creditSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inFlight.Add(1)
	return nil
}

// TryAcquireCredit reserves one in-flight slot without blocking.
func (c *Controller) TryAcquireCredit() bool {
	if c == nil {
		return true
	}
	if !c.creditSem.TryAcquire(1) {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// ReleaseCredit returns an in-flight slot.
func (c *Controller) ReleaseCredit() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	c.creditSem.Release(1)
}

// CreditsInFlight returns the number of reserved credits.
func (c *Controller) CreditsInFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// Credits returns the configured window size.
func (c *Controller) Credits() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.Credits
}

// WaitIO waits until the IO limit admits n units.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, min(n, c.ioLimiter.Burst()))
}

// TryAcquireIO attempts to acquire IO tokens without blocking.
func (c *Controller) TryAcquireIO(n int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), n)
}
