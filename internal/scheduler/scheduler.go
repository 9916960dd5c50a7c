// Package scheduler runs indexing work on a single cooperative loop.
//
// Tasks wait in three FIFO lanes and run one at a time, high before normal
// before low. The loop works in time slices: between tasks it checks the
// slice budget, and between slices it yields for an adaptive interval that
// grows under memory pressure. A running task is never interrupted.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/semindex/internal/errs"
)

// Priority selects a lane.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

const numLanes = 3

// Task is one unit of work. The context is cancelled when the scheduler closes.
type Task func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	// SliceBudget bounds how long one slice keeps starting tasks.
	SliceBudget time.Duration
	// Yield is the initial pause between slices.
	Yield time.Duration
	// YieldStep is added to the yield when memory exceeds the ceiling.
	YieldStep time.Duration
	// YieldRelief is removed from the yield when memory is below 70% of the ceiling.
	YieldRelief time.Duration
	MaxYield    time.Duration
	// ProbeEvery samples memory every n-th slice.
	ProbeEvery int

	MemoryUsage   func() int64
	MemoryCeiling int64
	OnPressure    func(usage, ceiling int64)

	// OnTask observes every finished task.
	OnTask func(name string, p Priority, d time.Duration, err error)

	Logger *slog.Logger
}

// DefaultOptions returns a 12ms slice, no initial yield and a probe on every
// 10th slice that moves the yield in steps of 10ms up and 5ms down, capped at
// 100ms.
func DefaultOptions() Options {
	return Options{
		SliceBudget: 12 * time.Millisecond,
		YieldStep:   10 * time.Millisecond,
		YieldRelief: 5 * time.Millisecond,
		MaxYield:    100 * time.Millisecond,
		ProbeEvery:  10,
	}
}

// Metrics is a point-in-time view of the scheduler.
type Metrics struct {
	Enqueued       uint64
	Completed      uint64
	Failed         uint64
	Slices         uint64
	PressureEvents uint64
	Queued         [numLanes]int
	Yield          time.Duration
	Paused         bool
	Running        bool
}

// Pending returns the number of queued tasks across lanes.
func (m Metrics) Pending() int {
	return m.Queued[PriorityHigh] + m.Queued[PriorityNormal] + m.Queued[PriorityLow]
}

type job struct {
	name     string
	priority Priority
	fn       Task
}

// Scheduler is a cooperative single-loop task runner.
type Scheduler struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wakeCh chan struct{}

	mu      sync.Mutex
	lanes   [numLanes][]job
	paused  bool
	closed  bool
	active  bool
	idleCh  chan struct{}
	yield   time.Duration
	metrics Metrics
}

// New starts a scheduler loop.
func New(opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.SliceBudget <= 0 {
		opts.SliceBudget = def.SliceBudget
	}
	if opts.YieldStep <= 0 {
		opts.YieldStep = def.YieldStep
	}
	if opts.YieldRelief <= 0 {
		opts.YieldRelief = def.YieldRelief
	}
	if opts.MaxYield <= 0 {
		opts.MaxYield = def.MaxYield
	}
	if opts.ProbeEvery <= 0 {
		opts.ProbeEvery = def.ProbeEvery
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	s := &Scheduler{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		wakeCh: make(chan struct{}, 1),
		idleCh: idle,
		yield:  min(opts.Yield, opts.MaxYield),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue appends a task to the lane of p and wakes the loop.
func (s *Scheduler) Enqueue(name string, p Priority, fn Task) error {
	if p < PriorityHigh || p > PriorityLow {
		return fmt.Errorf("%w: %s", errs.ErrInvalidArgument, p)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrClosed
	}
	s.lanes[p] = append(s.lanes[p], job{name: name, priority: p, fn: fn})
	s.metrics.Enqueued++
	s.markBusyLocked()
	s.mu.Unlock()

	s.wake()
	return nil
}

// Pause stops the loop after the running task. Queued tasks are kept.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts a paused loop.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.wake()
}

// Clear drops every queued task and returns how many were dropped. A running
// task is not affected.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.queuedLocked()
	for i := range s.lanes {
		s.lanes[i] = nil
	}
	if s.isIdleLocked() {
		s.markIdleLocked()
	}
	return n
}

// Paused reports whether the loop is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// WaitIdle blocks until no task is queued or running. While paused with
// queued tasks it waits for Resume.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		ch := s.idleCh
		s.mu.Unlock()

		select {
		case <-ch:
			s.mu.Lock()
			idle := s.isIdleLocked()
			s.mu.Unlock()
			if idle {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Metrics returns a snapshot of the counters.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics
	for i := range s.lanes {
		m.Queued[i] = len(s.lanes[i])
	}
	m.Yield = s.yield
	m.Paused = s.paused
	m.Running = s.active
	return m
}

// Close cancels the task context, waits for the running task and drops the
// queue.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	for i := range s.lanes {
		s.lanes[i] = nil
	}
	s.markIdleLocked()
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wakeCh:
		}

		for s.runSlice() {
			if !s.sleep(s.currentYield()) {
				return
			}
		}
	}
}

// runSlice starts tasks until the budget is spent and reports whether more
// work is ready.
func (s *Scheduler) runSlice() bool {
	start := time.Now()
	ran := false
	for {
		s.mu.Lock()
		j, ok := s.popLocked()
		if ok {
			s.active = true
		}
		s.mu.Unlock()
		if !ok {
			break
		}

		s.execute(j)
		ran = true

		s.mu.Lock()
		s.active = false
		s.mu.Unlock()

		if time.Since(start) >= s.opts.SliceBudget {
			break
		}
	}

	if ran {
		s.mu.Lock()
		s.metrics.Slices++
		probe := s.metrics.Slices%uint64(s.opts.ProbeEvery) == 0
		s.mu.Unlock()
		if probe {
			s.probeMemory()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isIdleLocked() {
		s.markIdleLocked()
	}
	return s.readyLocked()
}

func (s *Scheduler) execute(j job) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", j.name, r)
			}
		}()
		return j.fn(s.ctx)
	}()
	d := time.Since(start)

	s.mu.Lock()
	if err != nil {
		s.metrics.Failed++
	} else {
		s.metrics.Completed++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("task failed", "task", j.name, "priority", j.priority.String(), "duration", d, "error", err)
	} else {
		s.logger.Debug("task done", "task", j.name, "priority", j.priority.String(), "duration", d)
	}
	if s.opts.OnTask != nil {
		s.opts.OnTask(j.name, j.priority, d, err)
	}
}

func (s *Scheduler) probeMemory() {
	if s.opts.MemoryUsage == nil || s.opts.MemoryCeiling <= 0 {
		return
	}
	used, ceiling := s.opts.MemoryUsage(), s.opts.MemoryCeiling

	switch {
	case used > ceiling:
		s.mu.Lock()
		s.yield = min(s.yield+s.opts.YieldStep, s.opts.MaxYield)
		s.metrics.PressureEvents++
		yield := s.yield
		s.mu.Unlock()

		s.logger.Warn("memory pressure", "usage", used, "ceiling", ceiling, "yield", yield)
		if s.opts.OnPressure != nil {
			s.opts.OnPressure(used, ceiling)
		}
	case float64(used) < 0.7*float64(ceiling):
		s.mu.Lock()
		s.yield = max(s.yield-s.opts.YieldRelief, 0)
		s.mu.Unlock()
	}
}

func (s *Scheduler) currentYield() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yield
}

// sleep waits d and reports false when the scheduler closed meanwhile.
func (s *Scheduler) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) popLocked() (job, bool) {
	if s.paused || s.closed {
		return job{}, false
	}
	for p := range s.lanes {
		if len(s.lanes[p]) == 0 {
			continue
		}
		j := s.lanes[p][0]
		s.lanes[p][0] = job{}
		s.lanes[p] = s.lanes[p][1:]
		return j, true
	}
	return job{}, false
}

func (s *Scheduler) queuedLocked() int {
	n := 0
	for i := range s.lanes {
		n += len(s.lanes[i])
	}
	return n
}

func (s *Scheduler) readyLocked() bool {
	return !s.paused && !s.closed && s.queuedLocked() > 0
}

func (s *Scheduler) isIdleLocked() bool {
	return !s.active && s.queuedLocked() == 0
}

func (s *Scheduler) markBusyLocked() {
	select {
	case <-s.idleCh:
		s.idleCh = make(chan struct{})
	default:
	}
}

func (s *Scheduler) markIdleLocked() {
	select {
	case <-s.idleCh:
	default:
		close(s.idleCh)
	}
}
