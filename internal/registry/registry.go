// Package registry owns the long-lived components of the process. It is
// built once at startup and handed to consumers explicitly.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/internal/config"
	"github.com/vnykmshr/funnelcore/pkg/cache"
	"github.com/vnykmshr/funnelcore/pkg/metrics"
	"github.com/vnykmshr/funnelcore/pkg/queue"
)

// CacheName labels the metrics of the process cache
const CacheName = "funnelcore"

// Registry holds the cache manager, the queue manager and the metrics pipeline
type Registry struct {
	Cache   *cache.Manager
	Queue   *queue.Manager
	Metrics metrics.Exporter

	// Gatherer serves /metrics; nil unless the Prometheus exporter is enabled
	Gatherer prometheus.Gatherer

	logger   *zap.Logger
	interval time.Duration

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds every component from cfg without connecting to anything
func New(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		logger: logger.With(zap.String("component", "registry")),
		done:   make(chan struct{}),
	}

	if err := r.buildMetrics(cfg); err != nil {
		return nil, err
	}

	cc := cfg.CacheManagerConfig().
		WithMetrics(r.Metrics, CacheName).
		WithLogger(logger)
	cm, err := cache.New(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache manager: %w", err)
	}

	qc := cfg.QueueManagerConfig().
		WithMetrics(r.Metrics).
		WithLogger(logger)
	qm, err := queue.New(qc)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue manager: %w", err)
	}

	r.Cache = cm
	r.Queue = qm
	return r, nil
}

func (r *Registry) buildMetrics(cfg *config.Config) error {
	if !cfg.Metrics.Enabled {
		r.Metrics = metrics.NewNoOpExporter()
		return nil
	}

	mc := cfg.MetricsExporterConfig()
	r.interval = mc.ReportingInterval

	var exporters []metrics.Exporter

	if cfg.Metrics.Exporter == config.ExporterPrometheus || cfg.Metrics.Exporter == config.ExporterBoth {
		reg := prometheus.NewRegistry()
		prom, err := metrics.NewPrometheusExporter(mc, &metrics.PrometheusConfig{Registry: reg})
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		exporters = append(exporters, prom)
		r.Gatherer = reg
	}

	if cfg.Metrics.Exporter == config.ExporterOpenTelemetry || cfg.Metrics.Exporter == config.ExporterBoth {
		exp, err := metrics.NewOpenTelemetryExporter(mc, &metrics.OpenTelemetryConfig{
			Meter: otel.GetMeterProvider().Meter("github.com/vnykmshr/funnelcore"),
		})
		if err != nil {
			return fmt.Errorf("failed to create opentelemetry exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if len(exporters) == 1 {
		r.Metrics = exporters[0]
	} else {
		r.Metrics = metrics.NewMultiExporter(exporters...)
	}
	return nil
}

// Start initialises the cache and the queue and starts the metrics reporter
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Cache.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if err := r.Queue.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	reportCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	if r.interval > 0 {
		go r.reportLoop(reportCtx)
	} else {
		close(r.done)
	}

	r.logger.Info("registry started",
		zap.String("cache_backend", string(r.Cache.Backend())),
		zap.Bool("cache_connected", r.Cache.Connected()),
		zap.String("queue_backend", string(r.Queue.ActiveBackend())))
	return nil
}

// Stop shuts every component down. Only the first call has an effect.
func (r *Registry) Stop(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}

		err = errors.Join(
			r.Queue.Shutdown(ctx),
			r.Cache.Shutdown(ctx),
			r.Metrics.Close(),
		)
		r.logger.Info("registry stopped", zap.Error(err))
	})
	return err
}

func (r *Registry) reportLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report exports one snapshot of every cache tier and every known queue
func (r *Registry) Report(ctx context.Context) {
	for tier, tr := range r.Cache.Stats(ctx).Tiers() {
		if tr == nil {
			continue
		}
		err := r.Metrics.ExportCacheStats(metrics.CacheSnapshot{
			Hits:      tr.Hits,
			Misses:    tr.Misses,
			Sets:      tr.Sets,
			Deletes:   tr.Deletes,
			Evictions: tr.Evictions,
			Entries:   tr.Entries,
			SizeBytes: tr.SizeBytes,
			HitRate:   tr.HitRate,
		}, metrics.Labels{metrics.LabelCache: CacheName + "_" + tier})
		if err != nil {
			r.logger.Warn("failed to export cache stats", zap.String("tier", tier), zap.Error(err))
		}
	}

	for _, name := range r.Queue.Queues() {
		s, err := r.Queue.QueueStats(ctx, name)
		if err != nil {
			return
		}
		err = r.Metrics.ExportQueueStats(metrics.QueueSnapshot{
			Pending:               s.Pending,
			Processing:            s.Processing,
			Completed:             s.Completed,
			Failed:                s.Failed,
			DeadLetter:            s.DeadLetter,
			AverageProcessingTime: s.AverageProcessingTime,
			ErrorRate:             s.ErrorRate(),
		}, metrics.Labels{metrics.LabelQueue: name})
		if err != nil {
			r.logger.Warn("failed to export queue stats", zap.String("queue", name), zap.Error(err))
		}
	}
}
