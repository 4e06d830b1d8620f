// Package config loads the process configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/vnykmshr/funnelcore/pkg/cache"
	"github.com/vnykmshr/funnelcore/pkg/codec"
	"github.com/vnykmshr/funnelcore/pkg/metrics"
	"github.com/vnykmshr/funnelcore/pkg/queue"
)

// Metrics exporter names
const (
	ExporterPrometheus    = "prometheus"
	ExporterOpenTelemetry = "otel"
	ExporterBoth          = "both"
)

// Config is the root configuration of the funnelcore process
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Cache   CacheConfig   `yaml:"cache"`
	Queue   QueueConfig   `yaml:"queue"`
	Metrics MetricsConfig `yaml:"metrics"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// LogConfig selects the log level and encoding
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig is shared by the cache and the queue
type RedisConfig struct {
	URL             string `yaml:"url"`
	ConnectAttempts int    `yaml:"connect_attempts"`
}

// CacheConfig configures the cache manager
type CacheConfig struct {
	Backend         string            `yaml:"backend"`
	DefaultTTL      time.Duration     `yaml:"default_ttl"`
	MaxEntries      int               `yaml:"max_entries"`
	MaxBytes        int64             `yaml:"max_bytes"`
	CleanupInterval time.Duration     `yaml:"cleanup_interval"`
	PopulateTTL     time.Duration     `yaml:"populate_ttl"`
	SingleFlight    bool              `yaml:"single_flight"`
	KeyPrefix       string            `yaml:"key_prefix"`
	OpTimeout       time.Duration     `yaml:"op_timeout"`
	Namespaces      []cache.Namespace `yaml:"namespaces"`
	Compression     codec.Config      `yaml:"compression"`
}

// QueueConfig configures the message queue manager
type QueueConfig struct {
	Backend    string        `yaml:"backend"`
	MaxSize    int           `yaml:"max_size"`
	PopTimeout time.Duration `yaml:"pop_timeout"`
	KeyPrefix  string        `yaml:"key_prefix"`
}

// MetricsConfig extends the exporter configuration with the exporter choice
type MetricsConfig struct {
	metrics.Config `yaml:",inline"`

	// Exporter is prometheus, otel or both
	Exporter string `yaml:"exporter"`
}

// HTTPConfig configures the ops HTTP server
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used for every unset field
func Default() *Config {
	cacheDefaults := cache.NewDefaultConfig()

	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Redis: RedisConfig{
			URL:             "redis://localhost:6379/0",
			ConnectAttempts: 3,
		},
		Cache: CacheConfig{
			Backend:         string(cache.BackendHybrid),
			DefaultTTL:      cacheDefaults.DefaultTTL,
			MaxEntries:      cacheDefaults.MaxEntries,
			MaxBytes:        cacheDefaults.MaxBytes,
			CleanupInterval: cacheDefaults.CleanupInterval,
			KeyPrefix:       "optrixtrades:",
			OpTimeout:       500 * time.Millisecond,
			Namespaces:      cache.DefaultNamespaces(),
			Compression:     *codec.NewDefaultConfig(),
		},
		Queue: QueueConfig{
			Backend:   string(queue.BackendHybrid),
			MaxSize:   queue.DefaultMaxSize,
			KeyPrefix: queue.DefaultKeyPrefix,
		},
		Metrics: MetricsConfig{
			Config:   *metrics.NewDefaultConfig(),
			Exporter: ExporterPrometheus,
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	if !cache.Backend(c.Cache.Backend).Valid() {
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries))
	}
	if c.Cache.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes must be positive, got %d", c.Cache.MaxBytes))
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.default_ttl must not be negative, got %s", c.Cache.DefaultTTL))
	}

	if !queue.BackendKind(c.Queue.Backend).Valid() {
		errs = append(errs, fmt.Errorf("queue.backend: unknown backend %q", c.Queue.Backend))
	}
	if c.Queue.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_size must be positive, got %d", c.Queue.MaxSize))
	}

	needsRedis := c.Cache.Backend != string(cache.BackendMemory) || c.Queue.Backend != string(queue.BackendMemory)
	if needsRedis && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required unless both cache and queue use the memory backend"))
	}

	if c.Metrics.Enabled {
		switch c.Metrics.Exporter {
		case ExporterPrometheus, ExporterOpenTelemetry, ExporterBoth:
		default:
			errs = append(errs, fmt.Errorf("metrics.exporter: unknown exporter %q", c.Metrics.Exporter))
		}
		if c.Metrics.ReportingInterval <= 0 {
			errs = append(errs, fmt.Errorf("metrics.reporting_interval must be positive, got %s", c.Metrics.ReportingInterval))
		}
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	return errors.Join(errs...)
}

// CacheManagerConfig builds the cache manager configuration. Runtime collaborators
// such as the logger and metrics exporter are attached by the caller.
func (c *Config) CacheManagerConfig() *cache.Config {
	cc := cache.NewDefaultConfig().
		WithBackend(cache.Backend(c.Cache.Backend)).
		WithDefaultTTL(c.Cache.DefaultTTL).
		WithMaxEntries(c.Cache.MaxEntries).
		WithMaxBytes(c.Cache.MaxBytes).
		WithCleanupInterval(c.Cache.CleanupInterval).
		WithPopulateTTL(c.Cache.PopulateTTL).
		WithSingleFlight(c.Cache.SingleFlight)

	if len(c.Cache.Namespaces) > 0 {
		cc.Namespaces = append([]cache.Namespace(nil), c.Cache.Namespaces...)
	}
	if c.Cache.Compression.Enabled {
		compression := c.Cache.Compression
		cc.WithCompression(&compression)
	}
	if cc.Backend != cache.BackendMemory {
		cc.WithRedisURL(c.Redis.URL).WithKeyPrefix(c.Cache.KeyPrefix)
		cc.Redis.OpTimeout = c.Cache.OpTimeout
		cc.Redis.ConnectAttempts = c.Redis.ConnectAttempts
	}
	return cc
}

// QueueManagerConfig builds the queue manager configuration
func (c *Config) QueueManagerConfig() *queue.Config {
	qc := queue.NewDefaultConfig().
		WithBackend(queue.BackendKind(c.Queue.Backend)).
		WithMaxSize(c.Queue.MaxSize).
		WithPopTimeout(c.Queue.PopTimeout).
		WithKeyPrefix(c.Queue.KeyPrefix)

	if qc.Backend != queue.BackendMemory {
		qc.WithRedisURL(c.Redis.URL)
		qc.Redis.ConnectAttempts = c.Redis.ConnectAttempts
	}
	return qc
}

// MetricsExporterConfig returns the exporter configuration with metric
// names derived from the configured namespace
func (c *Config) MetricsExporterConfig() *metrics.Config {
	mc := c.Metrics.Config
	labels := mc.Labels
	mc.Labels = nil
	return (&mc).WithNamespace(mc.Namespace).WithLabels(labels)
}
