package scheduler

import (
	"context"
	"sync"
	"time"
)

// ReconcileTaskName names the recurring task in logs and metrics.
const ReconcileTaskName = "reconcile"

// Reconciler schedules a low-priority task every interval. The next run is
// armed after the previous one finishes.
type Reconciler struct {
	s        *Scheduler
	interval time.Duration
	task     Task

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	// gen identifies the current chain of runs. Stop and Start begin a new
	// one; runs of an older chain never rearm.
	gen uint64
}

// NewReconciler creates a stopped Reconciler on top of s.
func NewReconciler(s *Scheduler, interval time.Duration, task Task) *Reconciler {
	return &Reconciler{s: s, interval: interval, task: task, stopped: true}
}

// Start arms the first run. It is a no-op when already started or when the
// interval is not positive.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped || r.interval <= 0 {
		return
	}
	r.stopped = false
	r.gen++
	r.armLocked()
}

// Stop cancels the pending run and pauses the scheduler.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	r.s.Pause()
}

// Trigger queues a run now without changing the timer.
func (r *Reconciler) Trigger() error {
	return r.s.Enqueue(ReconcileTaskName, PriorityLow, r.task)
}

func (r *Reconciler) armLocked() {
	gen := r.gen
	r.timer = time.AfterFunc(r.interval, func() { r.fire(gen) })
}

func (r *Reconciler) fire(gen uint64) {
	r.mu.Lock()
	current := !r.stopped && gen == r.gen
	r.mu.Unlock()
	if !current {
		return
	}

	err := r.s.Enqueue(ReconcileTaskName, PriorityLow, func(ctx context.Context) error {
		defer r.rearm(gen)
		return r.task(ctx)
	})
	if err != nil {
		r.s.logger.Debug("reconcile not scheduled", "error", err)
	}
}

func (r *Reconciler) rearm(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped && gen == r.gen {
		r.armLocked()
	}
}
