package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenTelemetryExporter implements the Exporter interface for OpenTelemetry metrics
type OpenTelemetryExporter struct {
	config *Config
	names  MetricNames
	meter  metric.Meter
	ctx    context.Context
	deltas *deltas

	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheSets      metric.Int64Counter
	cacheDeletes   metric.Int64Counter
	cacheEvictions metric.Int64Counter
	cacheEntries   metric.Int64Gauge
	cacheSize      metric.Int64Gauge
	cacheHitRate   metric.Float64Gauge

	queueCompleted  metric.Int64Counter
	queueFailed     metric.Int64Counter
	queuePending    metric.Int64Gauge
	queueProcessing metric.Int64Gauge
	queueDeadLetter metric.Int64Gauge
	queueAvgTime    metric.Float64Gauge
	queueErrorRate  metric.Float64Gauge

	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
}

// OpenTelemetryConfig holds OpenTelemetry-specific configuration
type OpenTelemetryConfig struct {
	// Meter is the OpenTelemetry meter to use
	Meter metric.Meter

	// Context is the context to use for metric operations
	Context context.Context
}

var (
	errOTelConfigRequired = errors.New("metrics: OpenTelemetry configuration is required")
	errOTelMeterRequired  = errors.New("metrics: OpenTelemetry meter is required")
)

// NewOpenTelemetryExporter creates a new OpenTelemetry metrics exporter
func NewOpenTelemetryExporter(config *Config, otelConfig *OpenTelemetryConfig) (*OpenTelemetryExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if otelConfig == nil {
		return nil, errOTelConfigRequired
	}

	if otelConfig.Meter == nil {
		return nil, errOTelMeterRequired
	}

	ctx := otelConfig.Context
	if ctx == nil {
		ctx = context.Background()
	}

	o := &OpenTelemetryExporter{
		config: config,
		names:  config.names(),
		meter:  otelConfig.Meter,
		ctx:    ctx,
		deltas: newDeltas(),
	}

	if err := o.createStandardMetrics(); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return o, nil
}

func (o *OpenTelemetryExporter) createStandardMetrics() error {
	var err error

	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = o.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			err = fmt.Errorf("create %s: %w", name, err)
		}
	}
	intGauge := func(dst *metric.Int64Gauge, name, desc, unit string) {
		if err != nil {
			return
		}
		*dst, err = o.meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("create %s: %w", name, err)
		}
	}
	floatGauge := func(dst *metric.Float64Gauge, name, desc, unit string) {
		if err != nil {
			return
		}
		*dst, err = o.meter.Float64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("create %s: %w", name, err)
		}
	}

	counter(&o.cacheHits, o.names.CacheHitsTotal, "Total number of cache hits")
	counter(&o.cacheMisses, o.names.CacheMissesTotal, "Total number of cache misses")
	counter(&o.cacheSets, o.names.CacheSetsTotal, "Total number of cache writes")
	counter(&o.cacheDeletes, o.names.CacheDeletesTotal, "Total number of cache deletions")
	counter(&o.cacheEvictions, o.names.CacheEvictionsTotal, "Total number of cache evictions")
	intGauge(&o.cacheEntries, o.names.CacheEntries, "Current number of cache entries", "1")
	intGauge(&o.cacheSize, o.names.CacheSizeBytes, "Current cache size", "By")
	floatGauge(&o.cacheHitRate, o.names.CacheHitRate, "Cache hit rate as a ratio", "1")

	counter(&o.queueCompleted, o.names.QueueCompletedTotal, "Total number of messages completed")
	counter(&o.queueFailed, o.names.QueueFailedTotal, "Total number of failed processing attempts")
	intGauge(&o.queuePending, o.names.QueuePending, "Messages waiting to be processed", "1")
	intGauge(&o.queueProcessing, o.names.QueueProcessing, "Messages currently owned by a worker", "1")
	intGauge(&o.queueDeadLetter, o.names.QueueDeadLetter, "Messages in the dead-letter list", "1")
	floatGauge(&o.queueAvgTime, o.names.QueueAvgProcessingTime, "Average processing time", "s")
	floatGauge(&o.queueErrorRate, o.names.QueueErrorRate, "Failed attempts over all finished attempts", "1")

	counter(&o.operationsTotal, o.names.OperationsTotal, "Total number of operations by outcome")
	if err != nil {
		return err
	}

	if o.config.IncludeDetailedTimings {
		o.operationDuration, err = o.meter.Float64Histogram(
			o.names.OperationDuration,
			metric.WithDescription("Operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return fmt.Errorf("create %s: %w", o.names.OperationDuration, err)
		}
	}

	return nil
}

// ExportCacheStats exports a cache snapshot to OpenTelemetry
func (o *OpenTelemetryExporter) ExportCacheStats(stats CacheSnapshot, labels Labels) error {
	name := labels[LabelCache]
	attrs := metric.WithAttributes(o.attributes(labels)...)

	o.addDelta(o.cacheHits, o.names.CacheHitsTotal, name, stats.Hits, attrs)
	o.addDelta(o.cacheMisses, o.names.CacheMissesTotal, name, stats.Misses, attrs)
	o.addDelta(o.cacheSets, o.names.CacheSetsTotal, name, stats.Sets, attrs)
	o.addDelta(o.cacheDeletes, o.names.CacheDeletesTotal, name, stats.Deletes, attrs)
	o.addDelta(o.cacheEvictions, o.names.CacheEvictionsTotal, name, stats.Evictions, attrs)

	o.cacheEntries.Record(o.ctx, stats.Entries, attrs)
	o.cacheSize.Record(o.ctx, stats.SizeBytes, attrs)
	o.cacheHitRate.Record(o.ctx, stats.HitRate, attrs)

	return nil
}

// ExportQueueStats exports a queue snapshot to OpenTelemetry
func (o *OpenTelemetryExporter) ExportQueueStats(stats QueueSnapshot, labels Labels) error {
	queue := labels[LabelQueue]
	attrs := metric.WithAttributes(o.attributes(labels)...)

	o.addDelta(o.queueCompleted, o.names.QueueCompletedTotal, queue, stats.Completed, attrs)
	o.addDelta(o.queueFailed, o.names.QueueFailedTotal, queue, stats.Failed, attrs)

	o.queuePending.Record(o.ctx, stats.Pending, attrs)
	o.queueProcessing.Record(o.ctx, stats.Processing, attrs)
	o.queueDeadLetter.Record(o.ctx, stats.DeadLetter, attrs)
	o.queueAvgTime.Record(o.ctx, stats.AverageProcessingTime.Seconds(), attrs)
	o.queueErrorRate.Record(o.ctx, stats.ErrorRate, attrs)

	return nil
}

// RecordOperation records an operation with its outcome and timing
func (o *OpenTelemetryExporter) RecordOperation(operation Operation, result Result, duration time.Duration, labels Labels) error {
	attrs := append(o.attributes(labels),
		attribute.String("operation", string(operation)),
		attribute.String("result", string(result)),
	)

	o.operationsTotal.Add(o.ctx, 1, metric.WithAttributes(attrs...))

	if o.operationDuration != nil {
		o.operationDuration.Record(o.ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}

	return nil
}

// Close shuts down the exporter
func (o *OpenTelemetryExporter) Close() error {
	// The meter provider owns flushing
	return nil
}

func (o *OpenTelemetryExporter) addDelta(counter metric.Int64Counter, name, series string, value int64, opt metric.AddOption) {
	if d := o.deltas.next(seriesKey(name, series), value); d > 0 {
		counter.Add(o.ctx, d, opt)
	}
}

func (o *OpenTelemetryExporter) attributes(labels Labels) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)+len(o.config.Labels))

	for k, v := range o.config.Labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	return attrs
}

var _ Exporter = (*OpenTelemetryExporter)(nil)
