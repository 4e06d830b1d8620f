package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter implements the Exporter interface for Prometheus metrics
type PrometheusExporter struct {
	config *Config
	names  MetricNames
	reg    prometheus.Registerer
	deltas *deltas

	// Cache
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSets      *prometheus.CounterVec
	cacheDeletes   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheEntries   *prometheus.GaugeVec
	cacheSize      *prometheus.GaugeVec
	cacheHitRate   *prometheus.GaugeVec

	// Queue
	queueCompleted  *prometheus.CounterVec
	queueFailed     *prometheus.CounterVec
	queuePending    *prometheus.GaugeVec
	queueProcessing *prometheus.GaugeVec
	queueDeadLetter *prometheus.GaugeVec
	queueAvgTime    *prometheus.GaugeVec
	queueErrorRate  *prometheus.GaugeVec

	// Operations
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// PrometheusConfig holds Prometheus-specific configuration
type PrometheusConfig struct {
	// Registry is the Prometheus registry to use (optional, uses default if nil)
	Registry prometheus.Registerer

	// DurationBuckets for the operation duration histogram
	DurationBuckets []float64
}

// NewPrometheusExporter creates a new Prometheus metrics exporter
func NewPrometheusExporter(config *Config, promConfig *PrometheusConfig) (*PrometheusExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if promConfig == nil {
		promConfig = &PrometheusConfig{}
	}

	registry := promConfig.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	durationBuckets := promConfig.DurationBuckets
	if durationBuckets == nil {
		durationBuckets = []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30}
	}

	p := &PrometheusExporter{
		config: config,
		names:  config.names(),
		reg:    registry,
		deltas: newDeltas(),
	}

	if err := p.createStandardMetrics(prometheus.Labels(config.Labels), durationBuckets); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return p, nil
}

func (p *PrometheusExporter) createStandardMetrics(constLabels prometheus.Labels, durationBuckets []float64) error {
	cacheLabels := []string{LabelCache}
	queueLabels := []string{LabelQueue}

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&p.cacheHits, p.names.CacheHitsTotal, "Total number of cache hits", cacheLabels},
		{&p.cacheMisses, p.names.CacheMissesTotal, "Total number of cache misses", cacheLabels},
		{&p.cacheSets, p.names.CacheSetsTotal, "Total number of cache writes", cacheLabels},
		{&p.cacheDeletes, p.names.CacheDeletesTotal, "Total number of cache deletions", cacheLabels},
		{&p.cacheEvictions, p.names.CacheEvictionsTotal, "Total number of cache evictions", cacheLabels},
		{&p.queueCompleted, p.names.QueueCompletedTotal, "Total number of messages completed", queueLabels},
		{&p.queueFailed, p.names.QueueFailedTotal, "Total number of failed processing attempts", queueLabels},
		{&p.operationsTotal, p.names.OperationsTotal, "Total number of operations by outcome", []string{"operation", "result"}},
	}
	for _, c := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: c.name, Help: c.help, ConstLabels: constLabels}, c.labels)
		if err := p.reg.Register(vec); err != nil {
			return fmt.Errorf("register %s: %w", c.name, err)
		}
		*c.dst = vec
	}

	gauges := []struct {
		dst    **prometheus.GaugeVec
		name   string
		help   string
		labels []string
	}{
		{&p.cacheEntries, p.names.CacheEntries, "Current number of cache entries", cacheLabels},
		{&p.cacheSize, p.names.CacheSizeBytes, "Current cache size in bytes", cacheLabels},
		{&p.cacheHitRate, p.names.CacheHitRate, "Cache hit rate as a ratio", cacheLabels},
		{&p.queuePending, p.names.QueuePending, "Messages waiting to be processed", queueLabels},
		{&p.queueProcessing, p.names.QueueProcessing, "Messages currently owned by a worker", queueLabels},
		{&p.queueDeadLetter, p.names.QueueDeadLetter, "Messages in the dead-letter list", queueLabels},
		{&p.queueAvgTime, p.names.QueueAvgProcessingTime, "Average processing time in seconds", queueLabels},
		{&p.queueErrorRate, p.names.QueueErrorRate, "Failed attempts over all finished attempts", queueLabels},
	}
	for _, g := range gauges {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: g.name, Help: g.help, ConstLabels: constLabels}, g.labels)
		if err := p.reg.Register(vec); err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
		*g.dst = vec
	}

	if p.config.IncludeDetailedTimings {
		p.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        p.names.OperationDuration,
			Help:        "Operation duration in seconds",
			ConstLabels: constLabels,
			Buckets:     durationBuckets,
		}, []string{"operation"})
		if err := p.reg.Register(p.operationDuration); err != nil {
			return fmt.Errorf("register %s: %w", p.names.OperationDuration, err)
		}
	}

	return nil
}

// ExportCacheStats exports a cache snapshot to Prometheus
func (p *PrometheusExporter) ExportCacheStats(stats CacheSnapshot, labels Labels) error {
	name := labels[LabelCache]
	l := prometheus.Labels{LabelCache: name}

	p.addDelta(p.cacheHits, p.names.CacheHitsTotal, name, stats.Hits, l)
	p.addDelta(p.cacheMisses, p.names.CacheMissesTotal, name, stats.Misses, l)
	p.addDelta(p.cacheSets, p.names.CacheSetsTotal, name, stats.Sets, l)
	p.addDelta(p.cacheDeletes, p.names.CacheDeletesTotal, name, stats.Deletes, l)
	p.addDelta(p.cacheEvictions, p.names.CacheEvictionsTotal, name, stats.Evictions, l)

	p.cacheEntries.With(l).Set(float64(stats.Entries))
	p.cacheSize.With(l).Set(float64(stats.SizeBytes))
	p.cacheHitRate.With(l).Set(stats.HitRate)

	return nil
}

// ExportQueueStats exports a queue snapshot to Prometheus
func (p *PrometheusExporter) ExportQueueStats(stats QueueSnapshot, labels Labels) error {
	queue := labels[LabelQueue]
	l := prometheus.Labels{LabelQueue: queue}

	p.addDelta(p.queueCompleted, p.names.QueueCompletedTotal, queue, stats.Completed, l)
	p.addDelta(p.queueFailed, p.names.QueueFailedTotal, queue, stats.Failed, l)

	p.queuePending.With(l).Set(float64(stats.Pending))
	p.queueProcessing.With(l).Set(float64(stats.Processing))
	p.queueDeadLetter.With(l).Set(float64(stats.DeadLetter))
	p.queueAvgTime.With(l).Set(stats.AverageProcessingTime.Seconds())
	p.queueErrorRate.With(l).Set(stats.ErrorRate)

	return nil
}

// RecordOperation counts an operation and observes its duration when detailed timings are on
func (p *PrometheusExporter) RecordOperation(operation Operation, result Result, duration time.Duration, _ Labels) error {
	p.operationsTotal.With(prometheus.Labels{"operation": string(operation), "result": string(result)}).Inc()

	if p.operationDuration != nil {
		p.operationDuration.With(prometheus.Labels{"operation": string(operation)}).Observe(duration.Seconds())
	}

	return nil
}

// Close shuts down the exporter
func (p *PrometheusExporter) Close() error {
	// Prometheus metrics don't need explicit cleanup
	return nil
}

func (p *PrometheusExporter) addDelta(vec *prometheus.CounterVec, metric, series string, value int64, labels prometheus.Labels) {
	if d := p.deltas.next(seriesKey(metric, series), value); d > 0 {
		vec.With(labels).Add(float64(d))
	}
}

var _ Exporter = (*PrometheusExporter)(nil)
