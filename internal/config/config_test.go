package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/funnelcore/pkg/cache"
	"github.com/vnykmshr/funnelcore/pkg/codec"
	"github.com/vnykmshr/funnelcore/pkg/queue"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

const sample = `
log:
  level: debug
  format: console
redis:
  url: ${TEST_REDIS}
cache:
  backend: memory
  default_ttl: 45m
  max_entries: 500
  single_flight: true
  namespaces:
    - prefix: "user:"
      ttl: 10m
  compression:
    enabled: true
    algorithm: deflate
    min_size: 256
queue:
  backend: redis
  pop_timeout: 2s
metrics:
  namespace: funnel
  exporter: both
  reporting_interval: 15s
http:
  addr: ":9090"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample), env(map[string]string{"TEST_REDIS": "redis://cache:6379/1"}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, 45*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, []cache.Namespace{{Prefix: "user:", TTL: 10 * time.Minute}}, cfg.Cache.Namespaces)
	assert.Equal(t, codec.CompressorDeflate, cfg.Cache.Compression.Algorithm)
	assert.Equal(t, 2*time.Second, cfg.Queue.PopTimeout)
	assert.Equal(t, ExporterBoth, cfg.Metrics.Exporter)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ReportingInterval)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)

	// untouched fields keep their defaults
	assert.Equal(t, queue.DefaultMaxSize, cfg.Queue.MaxSize)
	assert.Equal(t, 3, cfg.Redis.ConnectAttempts)
}

func TestParse_EnvOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sample), env(map[string]string{
		"TEST_REDIS":         "redis://cache:6379/1",
		EnvRedisURL:          "redis://override:6379/0",
		EnvLogLevel:          "warn",
		EnvCacheBackend:      "hybrid",
		EnvQueueBackend:      "memory",
		EnvHTTPAddr:          ":7000",
		"FUNNEL_UNRELATED_X": "ignored",
	}))
	require.NoError(t, err)

	assert.Equal(t, "redis://override:6379/0", cfg.Redis.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "hybrid", cfg.Cache.Backend)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "cache: [", "failed to parse YAML"},
		{"cache backend", "cache:\n  backend: disk", `cache.backend: unknown backend "disk"`},
		{"queue backend", "queue:\n  backend: kafka", `queue.backend: unknown backend "kafka"`},
		{"queue size", "queue:\n  max_size: 0", "queue.max_size must be positive"},
		{"exporter", "metrics:\n  exporter: statsd", `unknown exporter "statsd"`},
		{"redis url", "redis:\n  url: \"\"", "redis.url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), env(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Setenv(EnvHTTPAddr, "")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default().HTTP.Addr, cfg.HTTP.Addr)
	})

	t.Run("reads the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "funnelcore.yaml")
		require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":9999\"\n"), 0o600))
		t.Setenv(EnvHTTPAddr, "")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":9999", cfg.HTTP.Addr)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestManagerConfigs(t *testing.T) {
	cfg := Default()
	cfg.Cache.Compression.Enabled = true

	cc := cfg.CacheManagerConfig()
	require.NoError(t, cc.Validate())
	assert.Equal(t, cache.BackendHybrid, cc.Backend)
	assert.Equal(t, cfg.Redis.URL, cc.Redis.URL)
	assert.Equal(t, "optrixtrades:", cc.Redis.KeyPrefix)
	require.NotNil(t, cc.Compression)
	assert.True(t, cc.Compression.Enabled)

	qc := cfg.QueueManagerConfig()
	require.NoError(t, qc.Validate())
	assert.Equal(t, queue.BackendHybrid, qc.Backend)
	assert.Equal(t, cfg.Redis.URL, qc.Redis.URL)

	cfg.Metrics.Namespace = "funnel"
	mc := cfg.MetricsExporterConfig()
	assert.Equal(t, "funnel_cache_hits_total", mc.MetricNames.CacheHitsTotal)

	memory := Default()
	memory.Cache.Backend = string(cache.BackendMemory)
	assert.Nil(t, memory.CacheManagerConfig().Redis)
}

func TestParse_ExampleFile(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "configs", "funnelcore.example.yaml"))
	require.NoError(t, err)

	cfg, err := Parse(data, env(map[string]string{EnvRedisURL: "redis://redis:6379/0"}))
	require.NoError(t, err)

	assert.Equal(t, "redis://redis:6379/0", cfg.Redis.URL)
	assert.Equal(t, cache.DefaultNamespaces(), cfg.Cache.Namespaces)
	assert.Equal(t, Default().Queue, cfg.Queue)
	assert.Equal(t, Default().Metrics.Namespace, cfg.Metrics.Namespace)

	// unset references are kept verbatim
	cfg, err = Parse(data, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "${REDIS_URL}", cfg.Redis.URL)
}
