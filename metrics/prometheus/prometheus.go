// Package prometheus exports index metrics through client_golang.
//
//	reg := prometheus.NewRegistry()
//	collector, _ := semprom.New(reg)
//	idx, _ := semindex.Open(ctx, docs, semindex.WithMetricsCollector(collector))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/semindex"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "semindex"

// Collector implements semindex.MetricsCollector.
type Collector struct {
	opLatency     *prometheus.HistogramVec
	commits       *prometheus.CounterVec
	rows          prometheus.Counter
	searches      *prometheus.CounterVec
	results       prometheus.Histogram
	tasks         *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	pressure      prometheus.Counter
	memoryUsage   prometheus.Gauge
	memoryCeiling prometheus.Gauge
}

var _ semindex.MetricsCollector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
}

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithBuckets sets the latency histogram buckets in seconds.
func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// New creates a Collector and registers it on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer, optFns ...Option) (*Collector, error) {
	o := options{namespace: DefaultNamespace, buckets: prometheus.DefBuckets}
	for _, fn := range optFns {
		fn(&o)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of index operations",
			Buckets:   o.buckets,
		}, []string{"op", "status"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "commits_total",
			Help:      "Indexing jobs by outcome",
		}, []string{"status"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "rows_committed_total",
			Help:      "Chunks published in segments",
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "searches_total",
			Help:      "Searches by mode and outcome",
		}, []string{"mode", "status"}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "search_results",
			Help:      "Number of hits returned per search",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "scheduler_tasks_total",
			Help:      "Scheduler tasks by priority and outcome",
		}, []string{"priority", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Name:      "scheduler_queue_depth",
			Help:      "Queued scheduler tasks",
		}),
		pressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "memory_pressure_events_total",
			Help:      "Times managed memory exceeded the ceiling",
		}),
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Name:      "memory_usage_bytes",
			Help:      "Managed memory at the last pressure event",
		}),
		memoryCeiling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Name:      "memory_ceiling_bytes",
			Help:      "Managed memory ceiling",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.opLatency, c.commits, c.rows, c.searches, c.results,
		c.tasks, c.queueDepth, c.pressure, c.memoryUsage, c.memoryCeiling,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordCommit implements semindex.MetricsCollector.
func (c *Collector) RecordCommit(rows int, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues("commit", s).Observe(d.Seconds())
	c.commits.WithLabelValues(s).Inc()
	if err == nil {
		c.rows.Add(float64(rows))
	}
}

// RecordSearch implements semindex.MetricsCollector.
func (c *Collector) RecordSearch(mode string, k, results int, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues("search", s).Observe(d.Seconds())
	c.searches.WithLabelValues(mode, s).Inc()
	if err == nil {
		c.results.Observe(float64(results))
	}
}

// RecordTask implements semindex.MetricsCollector.
func (c *Collector) RecordTask(priority string, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues("task", s).Observe(d.Seconds())
	c.tasks.WithLabelValues(priority, s).Inc()
}

// RecordQueueDepth implements semindex.MetricsCollector.
func (c *Collector) RecordQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordMemoryPressure implements semindex.MetricsCollector.
func (c *Collector) RecordMemoryPressure(usage, ceiling int64) {
	c.pressure.Inc()
	c.memoryUsage.Set(float64(usage))
	c.memoryCeiling.Set(float64(ceiling))
}
