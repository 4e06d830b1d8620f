package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vnykmshr/funnelcore/internal/store"
	"github.com/vnykmshr/funnelcore/internal/store/hybrid"
	"github.com/vnykmshr/funnelcore/internal/store/memory"
	redisstore "github.com/vnykmshr/funnelcore/internal/store/redis"
	"github.com/vnykmshr/funnelcore/pkg/codec"
	"github.com/vnykmshr/funnelcore/pkg/metrics"
	"github.com/vnykmshr/funnelcore/pkg/redisconn"
)

// Factory produces the value for a key that is not cached
type Factory func(ctx context.Context) (any, error)

// Manager is the application-facing cache. It resolves TTLs from key
// namespaces and delegates storage to a single backend chosen at construction.
type Manager struct {
	config *Config
	logger *zap.Logger
	hooks  *Hooks
	codec  *codec.Codec
	sf     singleflight.Group

	metricsExporter metrics.Exporter
	metricsLabels   metrics.Labels

	mu          sync.RWMutex
	backend     store.Backend
	local       *memory.LRU
	client      redis.UniversalClient
	ownsClient  bool
	initialized bool
	closed      bool
}

// New creates a Manager. Redis is not contacted until Initialize; until then
// the redis backend misses and the hybrid backend serves from memory only.
func New(config *Config) (*Manager, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := codec.Default()
	if config.Compression != nil {
		var err error
		if c, err = codec.New(config.Compression); err != nil {
			return nil, fmt.Errorf("failed to initialize codec: %w", err)
		}
	}

	m := &Manager{
		config: config,
		logger: logger.With(zap.String("component", "cache_manager"), zap.String("backend", string(config.Backend))),
		hooks:  config.Hooks,
		codec:  c,
	}

	m.initializeMetrics()

	if config.Backend != BackendRedis {
		local, err := memory.New(memory.NewDefaultConfig().
			WithMaxEntries(config.MaxEntries).
			WithMaxBytes(config.MaxBytes).
			WithCleanupInterval(config.CleanupInterval))
		if err != nil {
			return nil, fmt.Errorf("failed to create memory store: %w", err)
		}
		m.local = local
	}

	m.backend = m.buildBackend(nil)

	return m, nil
}

// buildBackend assembles the configured backend around client, which may be nil
func (m *Manager) buildBackend(client redis.UniversalClient) store.Backend {
	switch m.config.Backend {
	case BackendMemory:
		return m.local
	case BackendRedis:
		return m.redisStore(client)
	default:
		h := hybrid.New(m.local, m.redisStore(client), &hybrid.Config{
			PopulateTTL: m.config.PopulateTTL,
			Logger:      m.logger,
		})
		h.EnableRemote(client != nil)
		return h
	}
}

func (m *Manager) redisStore(client redis.UniversalClient) *redisstore.Store {
	rc := redisstore.NewDefaultConfig(nil)
	if client != nil {
		rc.Client = client
	}
	if p := m.config.Redis; p != nil {
		if p.KeyPrefix != "" {
			rc.KeyPrefix = p.KeyPrefix
		}
		if p.OpTimeout > 0 {
			rc.OpTimeout = p.OpTimeout
		}
	}
	rc.Codec = m.codec
	rc.Logger = m.logger
	return redisstore.New(rc)
}

// Initialize connects to Redis for the redis and hybrid backends. A failed
// connection is logged, not returned: hybrid keeps serving from memory and
// redis degrades to misses. Calling Initialize again is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.initialized {
		return nil
	}
	m.initialized = true

	if m.config.Backend == BackendMemory {
		m.logger.Info("cache manager initialized")
		return nil
	}

	client, owned, err := m.connect(ctx)
	if err != nil {
		m.logger.Warn("redis unavailable, cache running degraded", zap.Error(err))
		m.logger.Info("cache manager initialized", zap.Bool("redis", false))
		return nil
	}

	m.client = client
	m.ownsClient = owned
	m.backend = m.buildBackend(client)

	m.logger.Info("cache manager initialized", zap.Bool("redis", true))
	return nil
}

// connect returns the configured client after a ping, or opens one from the URL
func (m *Manager) connect(ctx context.Context) (redis.UniversalClient, bool, error) {
	rc := m.config.Redis

	if rc.Client != nil {
		if err := redisconn.Healthcheck(rc.Client)(ctx); err != nil {
			return nil, false, err
		}
		return rc.Client, false, nil
	}

	attempts := rc.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}

	client, err := redisconn.Open(ctx, rc.URL,
		redisconn.WithRetry(attempts, 500*time.Millisecond),
		redisconn.WithLogger(m.logger),
	)
	if err != nil {
		return nil, false, err
	}
	return client, true, nil
}

// Shutdown stops the local janitor and closes a Redis client the manager opened.
// It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.local != nil {
		err = m.local.Close()
	}
	if m.ownsClient {
		if cerr := redisconn.Shutdown(m.client)(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}

	m.logger.Info("cache manager shut down")
	return err
}

func (m *Manager) current() store.Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// Backend returns the configured backend kind
func (m *Manager) Backend() Backend {
	return m.config.Backend
}

// Connected reports whether the Redis tier is reachable.
// A memory backend is never connected.
func (m *Manager) Connected() bool {
	if c, ok := m.current().(store.Connector); ok {
		return c.Connected()
	}
	return false
}

// Client returns the Redis client in use, or nil before a successful Initialize
func (m *Manager) Client() redis.UniversalClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// TTLFor returns the TTL applied to key when Set is called without one
func (m *Manager) TTLFor(key string) time.Duration {
	return resolveTTL(m.config.Namespaces, key, m.config.DefaultTTL)
}

// Get retrieves a value by key
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	start := time.Now()

	value, found := m.current().Get(ctx, key)
	if found {
		m.hooks.invokeOnHit(ctx, key, value)
		m.recordOperation(metrics.OperationGet, metrics.ResultHit, time.Since(start))
	} else {
		m.hooks.invokeOnMiss(ctx, key)
		m.recordOperation(metrics.OperationGet, metrics.ResultMiss, time.Since(start))
	}

	return value, found
}

// GetInto reads key into the value dst points to and reports whether it was
// found. Values come back with the same Go type from every backend, where
// Get returns whatever the backend decoded (int64 or map[string]any from Redis).
func (m *Manager) GetInto(ctx context.Context, key string, dst any) (bool, error) {
	value, found := m.Get(ctx, key)
	if !found {
		return false, nil
	}
	if err := codec.Convert(value, dst); err != nil {
		return true, fmt.Errorf("cache: read %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key. A zero ttl resolves through the namespace table;
// a negative ttl stores without expiry.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) bool {
	start := time.Now()

	if ttl == 0 {
		ttl = m.TTLFor(key)
	}

	ok := m.current().Set(ctx, key, value, ttl, tags)
	m.recordOperation(metrics.OperationSet, result(ok), time.Since(start))
	return ok
}

// Delete removes key, reporting whether it existed
func (m *Manager) Delete(ctx context.Context, key string) bool {
	start := time.Now()

	ok := m.current().Delete(ctx, key)
	if ok {
		m.hooks.invokeOnInvalidate(ctx, key)
	}
	m.recordOperation(metrics.OperationDelete, result(ok), time.Since(start))
	return ok
}

// ClearNamespace deletes every key starting with prefix and returns how many were removed
func (m *Manager) ClearNamespace(ctx context.Context, prefix string) int {
	count := 0
	for _, key := range m.current().KeysByPattern(ctx, prefix+"*") {
		if m.Delete(ctx, key) {
			count++
		}
	}
	return count
}

// ClearByTags removes every entry carrying any of tags
func (m *Manager) ClearByTags(ctx context.Context, tags ...string) int {
	start := time.Now()

	n := m.current().ClearByTags(ctx, tags)
	m.recordOperation(metrics.OperationClearByTags, metrics.ResultOK, time.Since(start))
	return n
}

// Clear empties the cache and resets its statistics
func (m *Manager) Clear(ctx context.Context) {
	m.current().Clear(ctx)
}

// Keys returns the keys matching a glob pattern
func (m *Manager) Keys(ctx context.Context, pattern string) []string {
	return m.current().KeysByPattern(ctx, pattern)
}

// GetOrSet returns the cached value for key, or calls factory, stores its
// result and returns it. A factory error is returned and nothing is cached.
//
// Without SingleFlight, concurrent misses for one key each call factory.
// With it, they share the first caller's call and its context.
func (m *Manager) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, tags ...string) (any, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	if value, found := m.Get(ctx, key); found {
		return value, nil
	}

	start := time.Now()
	compute := func() (any, error) {
		value, err := factory(ctx)
		if err != nil {
			m.hooks.invokeOnFactoryError(ctx, key, err)
			m.logger.Debug("factory failed", zap.String("key", key), zap.Error(err))
			return nil, err
		}
		m.Set(ctx, key, value, ttl, tags...)
		return value, nil
	}

	var (
		value any
		err   error
	)
	if m.config.SingleFlight {
		value, err, _ = m.sf.Do(key, compute)
	} else {
		value, err = compute()
	}

	if err != nil {
		m.recordOperation(metrics.OperationGetOrSet, metrics.ResultError, time.Since(start))
		return nil, err
	}
	m.recordOperation(metrics.OperationGetOrSet, metrics.ResultOK, time.Since(start))
	return value, nil
}

func result(ok bool) metrics.Result {
	if ok {
		return metrics.ResultOK
	}
	return metrics.ResultError
}

// initializeMetrics sets up operation recording if configured
func (m *Manager) initializeMetrics() {
	mc := m.config.Metrics
	if mc == nil || mc.Exporter == nil {
		m.metricsExporter = metrics.NewNoOpExporter()
		return
	}

	m.metricsExporter = mc.Exporter
	m.metricsLabels = metrics.Labels{metrics.LabelCache: m.Name()}
	for k, v := range mc.Labels {
		m.metricsLabels[k] = v
	}
}

// Name returns the metrics name of this cache
func (m *Manager) Name() string {
	if mc := m.config.Metrics; mc != nil && mc.CacheName != "" {
		return mc.CacheName
	}
	return "default"
}

// recordOperation records a cache operation with timing for metrics
func (m *Manager) recordOperation(operation metrics.Operation, res metrics.Result, duration time.Duration) {
	_ = m.metricsExporter.RecordOperation(operation, res, duration, m.metricsLabels) //nolint:errcheck // exporters never block cache calls
}
