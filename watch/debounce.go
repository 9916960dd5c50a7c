package watch

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of events per path. A path fires once no event
// arrived for delay, and at the latest maxDelay after its first event.
type debouncer struct {
	delay    time.Duration
	maxDelay time.Duration
	out      chan string
	done     chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingPath
	closed  bool
}

type pendingPath struct {
	first time.Time
	timer *time.Timer
}

func newDebouncer(delay, maxDelay time.Duration, capacity int) *debouncer {
	if maxDelay < delay {
		maxDelay = delay
	}
	return &debouncer{
		delay:    delay,
		maxDelay: maxDelay,
		out:      make(chan string, capacity),
		done:     make(chan struct{}),
		pending:  make(map[string]*pendingPath),
	}
}

// add records an event for p.
func (d *debouncer) add(p string) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	pp, ok := d.pending[p]
	if !ok {
		pp = &pendingPath{first: now}
		pp.timer = time.AfterFunc(d.delay, func() { d.flush(p) })
		d.pending[p] = pp
		return
	}

	wait := d.delay
	if rest := d.maxDelay - now.Sub(pp.first); rest < wait {
		wait = max(rest, 0)
	}
	pp.timer.Reset(wait)
}

func (d *debouncer) flush(p string) {
	d.mu.Lock()
	if _, ok := d.pending[p]; !ok || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, p)
	d.mu.Unlock()

	select {
	case d.out <- p:
	case <-d.done:
	}
}

// Pending returns the number of paths waiting to fire.
func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *debouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, pp := range d.pending {
		pp.timer.Stop()
	}
	clear(d.pending)
	close(d.done)
}
