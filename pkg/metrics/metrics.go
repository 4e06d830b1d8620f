package metrics

import (
	"strings"
	"sync"
	"time"
)

// Exporter defines the interface for cache and queue metrics exporters.
// This abstraction allows supporting multiple observability systems.
type Exporter interface {
	// ExportCacheStats exports a cache statistics snapshot; labels must carry LabelCache
	ExportCacheStats(stats CacheSnapshot, labels Labels) error

	// ExportQueueStats exports a queue statistics snapshot; labels must carry LabelQueue
	ExportQueueStats(stats QueueSnapshot, labels Labels) error

	// RecordOperation records one cache or queue operation with its outcome and timing
	RecordOperation(operation Operation, result Result, duration time.Duration, labels Labels) error

	// Close shuts down the exporter and flushes any pending metrics
	Close() error
}

// Labels represents key-value pairs for metric labels/tags
type Labels map[string]string

// Well-known label keys
const (
	LabelCache = "cache_name"
	LabelQueue = "queue"
)

// CacheSnapshot is a point-in-time copy of a cache backend's statistics.
// Hits, Misses, Sets, Deletes and Evictions are cumulative; a value lower
// than the previous export is read as a reset.
type CacheSnapshot struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
	Entries   int64
	SizeBytes int64
	HitRate   float64
}

// QueueSnapshot is a point-in-time copy of a queue's statistics.
// Completed and Failed are cumulative; the rest describe current state.
type QueueSnapshot struct {
	Pending               int64
	Processing            int64
	Completed             int64
	Failed                int64
	DeadLetter            int64
	AverageProcessingTime time.Duration
	ErrorRate             float64
}

// Operation represents different cache and queue operations for metrics
type Operation string

const (
	// Cache operations
	OperationGet         Operation = "get"
	OperationSet         Operation = "set"
	OperationDelete      Operation = "delete"
	OperationClearByTags Operation = "clear_by_tags"
	OperationGetOrSet    Operation = "get_or_set"

	// Queue operations
	OperationEnqueue Operation = "enqueue"
	OperationProcess Operation = "process"
)

// Result represents the result of an operation
type Result string

const (
	ResultHit   Result = "hit"
	ResultMiss  Result = "miss"
	ResultOK    Result = "ok"
	ResultError Result = "error"
)

// MetricNames defines standard metric names used across exporters
type MetricNames struct {
	// Cache counters
	CacheHitsTotal      string
	CacheMissesTotal    string
	CacheSetsTotal      string
	CacheDeletesTotal   string
	CacheEvictionsTotal string

	// Cache gauges
	CacheEntries   string
	CacheSizeBytes string
	CacheHitRate   string

	// Queue counters
	QueueCompletedTotal string
	QueueFailedTotal    string

	// Queue gauges
	QueuePending           string
	QueueProcessing        string
	QueueDeadLetter        string
	QueueAvgProcessingTime string
	QueueErrorRate         string

	// Operations
	OperationsTotal   string
	OperationDuration string
}

// DefaultMetricNames returns the default metric names under namespace
func DefaultMetricNames(namespace string) MetricNames {
	n := func(name string) string {
		if namespace == "" {
			return name
		}
		return namespace + "_" + name
	}

	return MetricNames{
		CacheHitsTotal:         n("cache_hits_total"),
		CacheMissesTotal:       n("cache_misses_total"),
		CacheSetsTotal:         n("cache_sets_total"),
		CacheDeletesTotal:      n("cache_deletes_total"),
		CacheEvictionsTotal:    n("cache_evictions_total"),
		CacheEntries:           n("cache_entries"),
		CacheSizeBytes:         n("cache_size_bytes"),
		CacheHitRate:           n("cache_hit_rate"),
		QueueCompletedTotal:    n("queue_completed_total"),
		QueueFailedTotal:       n("queue_failed_total"),
		QueuePending:           n("queue_pending"),
		QueueProcessing:        n("queue_processing"),
		QueueDeadLetter:        n("queue_dead_letter"),
		QueueAvgProcessingTime: n("queue_avg_processing_seconds"),
		QueueErrorRate:         n("queue_error_rate"),
		OperationsTotal:        n("operations_total"),
		OperationDuration:      n("operation_duration_seconds"),
	}
}

// Config holds configuration for metrics exporters
type Config struct {
	// Enabled determines whether metrics collection is enabled
	Enabled bool `yaml:"enabled"`

	// Namespace is prepended to all metric names
	Namespace string `yaml:"namespace"`

	// Labels are default labels applied to all metrics
	Labels Labels `yaml:"labels"`

	// MetricNames allows customizing metric names
	MetricNames MetricNames `yaml:"-"`

	// ReportingInterval determines how often snapshots are exported
	ReportingInterval time.Duration `yaml:"reporting_interval"`

	// IncludeDetailedTimings enables operation duration histograms
	IncludeDetailedTimings bool `yaml:"detailed_timings"`
}

// NewDefaultConfig creates a default metrics configuration
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:           true,
		Namespace:         "funnelcore",
		Labels:            make(Labels),
		MetricNames:       DefaultMetricNames("funnelcore"),
		ReportingInterval: 30 * time.Second,
	}
}

// WithNamespace sets the metrics namespace and regenerates the default names
func (c *Config) WithNamespace(namespace string) *Config {
	c.Namespace = namespace
	c.MetricNames = DefaultMetricNames(namespace)
	return c
}

// WithLabels adds default labels to all metrics
func (c *Config) WithLabels(labels Labels) *Config {
	if c.Labels == nil {
		c.Labels = make(Labels)
	}
	for k, v := range labels {
		c.Labels[k] = v
	}
	return c
}

// WithReportingInterval sets the snapshot reporting interval
func (c *Config) WithReportingInterval(interval time.Duration) *Config {
	c.ReportingInterval = interval
	return c
}

// WithDetailedTimings enables operation duration histograms
func (c *Config) WithDetailedTimings(enabled bool) *Config {
	c.IncludeDetailedTimings = enabled
	return c
}

// names returns the configured metric names, filling defaults when unset
func (c *Config) names() MetricNames {
	if c.MetricNames == (MetricNames{}) {
		return DefaultMetricNames(c.Namespace)
	}
	return c.MetricNames
}

// deltas turns cumulative snapshot values into counter increments
type deltas struct {
	mu   sync.Mutex
	last map[string]int64
}

func newDeltas() *deltas {
	return &deltas{last: make(map[string]int64)}
}

// next returns how much series grew since the previous call.
// A smaller value than before means the source was reset, so the whole value counts.
func (d *deltas) next(series string, value int64) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, seen := d.last[series]
	d.last[series] = value
	if !seen || value < prev {
		return value
	}
	return value - prev
}

func seriesKey(metric string, labels ...string) string {
	return metric + "|" + strings.Join(labels, "|")
}

// MultiExporter allows using multiple exporters simultaneously
type MultiExporter struct {
	exporters []Exporter
}

// NewMultiExporter creates an exporter that writes to multiple backends
func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	return &MultiExporter{
		exporters: exporters,
	}
}

// ExportCacheStats exports to all configured exporters
func (m *MultiExporter) ExportCacheStats(stats CacheSnapshot, labels Labels) error {
	for _, exporter := range m.exporters {
		if err := exporter.ExportCacheStats(stats, labels); err != nil {
			return err
		}
	}
	return nil
}

// ExportQueueStats exports to all configured exporters
func (m *MultiExporter) ExportQueueStats(stats QueueSnapshot, labels Labels) error {
	for _, exporter := range m.exporters {
		if err := exporter.ExportQueueStats(stats, labels); err != nil {
			return err
		}
	}
	return nil
}

// RecordOperation records to all configured exporters
func (m *MultiExporter) RecordOperation(operation Operation, result Result, duration time.Duration, labels Labels) error {
	for _, exporter := range m.exporters {
		if err := exporter.RecordOperation(operation, result, duration, labels); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all configured exporters
func (m *MultiExporter) Close() error {
	for _, exporter := range m.exporters {
		if err := exporter.Close(); err != nil {
			return err
		}
	}
	return nil
}

// NoOpExporter provides a no-op implementation for when metrics are disabled
type NoOpExporter struct{}

// NewNoOpExporter creates a no-op exporter
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (n *NoOpExporter) ExportCacheStats(CacheSnapshot, Labels) error { return nil }
func (n *NoOpExporter) ExportQueueStats(QueueSnapshot, Labels) error { return nil }
func (n *NoOpExporter) RecordOperation(Operation, Result, time.Duration, Labels) error {
	return nil
}
func (n *NoOpExporter) Close() error { return nil }

var (
	_ Exporter = (*MultiExporter)(nil)
	_ Exporter = (*NoOpExporter)(nil)
)
