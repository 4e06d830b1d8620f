package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/pkg/codec"
	"github.com/vnykmshr/funnelcore/pkg/metrics"
)

// Backend selects the storage behind a Manager
type Backend string

const (
	// BackendMemory keeps entries in a process-local LRU
	BackendMemory Backend = "memory"
	// BackendRedis keeps entries in Redis only
	BackendRedis Backend = "redis"
	// BackendHybrid reads through a local LRU and writes through to Redis
	BackendHybrid Backend = "hybrid"
)

// Valid reports whether b names a known backend
func (b Backend) Valid() bool {
	switch b {
	case BackendMemory, BackendRedis, BackendHybrid:
		return true
	}
	return false
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Client is a pre-configured Redis client owned by the caller.
	// If nil, a client is opened from URL during Initialize and closed on Shutdown.
	Client redis.UniversalClient

	// URL is a redis:// or rediss:// connection string
	// Only used if Client is nil
	URL string

	// KeyPrefix is prepended to all cache keys
	// Default: "optrixtrades:"
	KeyPrefix string

	// OpTimeout bounds a single Redis round trip
	// Default: 500ms
	OpTimeout time.Duration

	// ConnectAttempts is how many pings Initialize tries before giving up
	// Default: 3
	ConnectAttempts int
}

// MetricsConfig holds metrics exporter configuration
type MetricsConfig struct {
	// Exporter receives one operation record per Get, Set, Delete and GetOrSet
	Exporter metrics.Exporter

	// CacheName is the name label applied to all metrics for this cache instance
	CacheName string

	// Labels are additional labels applied to all metrics
	Labels metrics.Labels
}

// Config defines the configuration options for a Manager
type Config struct {
	// Backend determines which storage to use
	// Default: BackendHybrid
	Backend Backend

	// DefaultTTL applies when no namespace matches and no TTL is given
	// Default: 1 hour
	DefaultTTL time.Duration

	// Namespaces maps key prefixes to TTLs; the first matching prefix wins
	// Default: DefaultNamespaces()
	Namespaces []Namespace

	// MaxEntries bounds the local LRU
	// Only applies to memory and hybrid backends
	// Default: 1000
	MaxEntries int

	// MaxBytes bounds the estimated size of the local LRU; zero means unbounded
	// Default: 100 MiB
	MaxBytes int64

	// CleanupInterval sets how often expired local entries are purged
	// Default: 1 minute
	CleanupInterval time.Duration

	// PopulateTTL is applied to entries copied into the local tier on a remote hit
	// Only applies to the hybrid backend. Zero keeps them until evicted.
	PopulateTTL time.Duration

	// SingleFlight collapses concurrent GetOrSet misses for one key into a single factory call
	SingleFlight bool

	// Redis holds Redis-specific configuration
	// Required for redis and hybrid backends
	Redis *RedisConfig

	// Compression configures compression of binary values written to Redis
	// If nil, compression is disabled
	Compression *codec.Config

	// Hooks defines event callbacks for cache operations
	Hooks *Hooks

	// Metrics holds metrics exporter configuration
	// If nil, no operation metrics are recorded
	Metrics *MetricsConfig

	Logger *zap.Logger
}

// NewDefaultConfig returns a hybrid Config with the standard namespace table.
// Redis must still be configured with WithRedisURL or WithRedisClient.
func NewDefaultConfig() *Config {
	return &Config{
		Backend:         BackendHybrid,
		DefaultTTL:      time.Hour,
		Namespaces:      DefaultNamespaces(),
		MaxEntries:      1000,
		MaxBytes:        100 << 20,
		CleanupInterval: time.Minute,
		Hooks:           &Hooks{},
	}
}

// NewMemoryConfig returns a Config for a process-local cache
func NewMemoryConfig(maxEntries int) *Config {
	return NewDefaultConfig().WithBackend(BackendMemory).WithMaxEntries(maxEntries)
}

// WithBackend sets the storage backend
func (c *Config) WithBackend(backend Backend) *Config {
	c.Backend = backend
	return c
}

// WithDefaultTTL sets the fallback TTL
func (c *Config) WithDefaultTTL(ttl time.Duration) *Config {
	c.DefaultTTL = ttl
	return c
}

// WithNamespace appends a namespace TTL rule after the existing ones
func (c *Config) WithNamespace(prefix string, ttl time.Duration) *Config {
	c.Namespaces = append(c.Namespaces, Namespace{Prefix: prefix, TTL: ttl})
	return c
}

// WithMaxEntries sets the local LRU capacity
func (c *Config) WithMaxEntries(maxEntries int) *Config {
	c.MaxEntries = maxEntries
	return c
}

// WithMaxBytes sets the local LRU size bound
func (c *Config) WithMaxBytes(maxBytes int64) *Config {
	c.MaxBytes = maxBytes
	return c
}

// WithCleanupInterval sets the local janitor interval; zero disables it
func (c *Config) WithCleanupInterval(interval time.Duration) *Config {
	c.CleanupInterval = interval
	return c
}

// WithPopulateTTL sets the TTL of entries copied locally after a remote hit
func (c *Config) WithPopulateTTL(ttl time.Duration) *Config {
	c.PopulateTTL = ttl
	return c
}

// WithSingleFlight enables collapsing of concurrent GetOrSet misses
func (c *Config) WithSingleFlight(enabled bool) *Config {
	c.SingleFlight = enabled
	return c
}

// WithRedisURL configures Redis by connection URL
func (c *Config) WithRedisURL(url string) *Config {
	c.redis().URL = url
	return c
}

// WithRedisClient configures Redis with a caller-owned client
func (c *Config) WithRedisClient(client redis.UniversalClient) *Config {
	c.redis().Client = client
	return c
}

// WithKeyPrefix sets the Redis key prefix
func (c *Config) WithKeyPrefix(prefix string) *Config {
	c.redis().KeyPrefix = prefix
	return c
}

// WithCompression enables compression for Redis values
func (c *Config) WithCompression(config *codec.Config) *Config {
	c.Compression = config
	return c
}

// WithHooks sets the event hooks
func (c *Config) WithHooks(hooks *Hooks) *Config {
	c.Hooks = hooks
	return c
}

// WithMetrics records operations through exporter under cacheName
func (c *Config) WithMetrics(exporter metrics.Exporter, cacheName string) *Config {
	c.Metrics = &MetricsConfig{Exporter: exporter, CacheName: cacheName}
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	c.Logger = logger
	return c
}

func (c *Config) redis() *RedisConfig {
	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	return c.Redis
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if !c.Backend.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.Backend != BackendRedis && c.MaxEntries <= 0 {
		return fmt.Errorf("cache: max entries must be positive, got %d", c.MaxEntries)
	}
	if c.Backend != BackendMemory && (c.Redis == nil || (c.Redis.Client == nil && c.Redis.URL == "")) {
		return ErrRedisConfigRequired
	}
	return nil
}
