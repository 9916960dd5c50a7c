package semindex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordCommit is called after each indexing job.
	// rows is the number of chunks published, err is nil if successful.
	RecordCommit(rows int, duration time.Duration, err error)

	// RecordSearch is called after each search.
	// mode is hybrid, dense or lexical; results is the number of hits returned.
	RecordSearch(mode string, k, results int, duration time.Duration, err error)

	// RecordTask is called after each scheduler task.
	RecordTask(priority string, duration time.Duration, err error)

	// RecordQueueDepth reports the number of queued scheduler tasks.
	RecordQueueDepth(depth int)

	// RecordMemoryPressure is called when managed memory exceeds the ceiling.
	RecordMemoryPressure(usage, ceiling int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCommit(int, time.Duration, error)              {}
func (NoopMetricsCollector) RecordSearch(string, int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordTask(string, time.Duration, error)             {}
func (NoopMetricsCollector) RecordQueueDepth(int)                                {}
func (NoopMetricsCollector) RecordMemoryPressure(int64, int64)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitRows       atomic.Int64
	CommitTotalNanos atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	TaskCount        atomic.Int64
	TaskErrors       atomic.Int64
	QueueDepth       atomic.Int64
	PressureEvents   atomic.Int64
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(rows int, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommitRows.Add(int64(rows))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(mode string, k, results int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordTask implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTask(priority string, duration time.Duration, err error) {
	b.TaskCount.Add(1)
	if err != nil {
		b.TaskErrors.Add(1)
	}
}

// RecordQueueDepth implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQueueDepth(depth int) {
	b.QueueDepth.Store(int64(depth))
}

// RecordMemoryPressure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMemoryPressure(usage, ceiling int64) {
	b.PressureEvents.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		CommitRows:     b.CommitRows.Load(),
		CommitAvgNanos: avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		TaskCount:      b.TaskCount.Load(),
		TaskErrors:     b.TaskErrors.Load(),
		QueueDepth:     b.QueueDepth.Load(),
		PressureEvents: b.PressureEvents.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CommitCount    int64
	CommitErrors   int64
	CommitRows     int64
	CommitAvgNanos int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	TaskCount      int64
	TaskErrors     int64
	QueueDepth     int64
	PressureEvents int64
}
