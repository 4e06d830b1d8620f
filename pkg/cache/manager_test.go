package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/funnelcore/pkg/metrics"
)

func newMemoryManager(t *testing.T, config *Config) *Manager {
	t.Helper()

	if config == nil {
		config = NewMemoryConfig(100)
	}
	config.WithCleanupInterval(0)

	m, err := New(config)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"memory", NewMemoryConfig(10), nil},
		{"hybrid with url", NewDefaultConfig().WithRedisURL("redis://localhost:6379"), nil},
		{"hybrid without redis", NewDefaultConfig(), ErrRedisConfigRequired},
		{"redis without redis", NewDefaultConfig().WithBackend(BackendRedis), ErrRedisConfigRequired},
		{"unknown backend", NewDefaultConfig().WithBackend("disk"), ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := New(NewMemoryConfig(0))
	assert.Error(t, err, "zero capacity must be rejected")
}

func TestTTLFor(t *testing.T) {
	m := newMemoryManager(t, nil)

	tests := []struct {
		key  string
		want time.Duration
	}{
		{"user:42", 30 * time.Minute},
		{"session:abc", 15 * time.Minute},
		{"temp:x", 5 * time.Minute},
		{"config:welcome", 2 * time.Hour},
		{"static:logo", 24 * time.Hour},
		{"signal:eurusd", time.Hour},
		{"users:42", time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, m.TTLFor(tt.key))
		})
	}
}

func TestTTLFor_FirstMatchWins(t *testing.T) {
	config := NewMemoryConfig(10)
	config.Namespaces = []Namespace{
		{Prefix: "user:", TTL: time.Minute},
		{Prefix: "user:vip:", TTL: time.Hour},
	}
	m := newMemoryManager(t, config)

	assert.Equal(t, time.Minute, m.TTLFor("user:vip:1"))
}

func TestManager_BasicOperations(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t, nil)

	assert.True(t, m.Set(ctx, "user:1", map[string]any{"name": "alice"}, 0))

	v, ok := m.Get(ctx, "user:1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "alice"}, v)

	assert.True(t, m.Delete(ctx, "user:1"))
	assert.False(t, m.Delete(ctx, "user:1"))

	_, ok = m.Get(ctx, "user:1")
	assert.False(t, ok)

	r := m.Stats(ctx)
	require.NotNil(t, r.TierReport)
	assert.Equal(t, BackendMemory, r.Backend)
	assert.Equal(t, int64(1), r.Hits)
	assert.Equal(t, int64(1), r.Misses)
	assert.Equal(t, 0.5, r.HitRate)
	assert.Nil(t, r.Memory)
}

func TestManager_ExplicitTTLOverridesNamespace(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t, nil)

	m.Set(ctx, "static:short", "v", 10*time.Millisecond)
	m.Set(ctx, "static:long", "v", 0)

	time.Sleep(30 * time.Millisecond)

	_, ok := m.Get(ctx, "static:short")
	assert.False(t, ok, "explicit TTL should have expired")
	_, ok = m.Get(ctx, "static:long")
	assert.True(t, ok)
}

func TestManager_ClearNamespaceAndTags(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t, nil)

	m.Set(ctx, "temp:a", 1, 0)
	m.Set(ctx, "temp:b", 2, 0)
	m.Set(ctx, "session:a", 3, 0, TagSessionData)
	m.Set(ctx, "session:b", 4, 0, TagSessionData)
	m.Set(ctx, "config:x", 5, 0)

	assert.Equal(t, 2, m.ClearNamespace(ctx, "temp:"))
	assert.Equal(t, 0, m.ClearNamespace(ctx, "temp:"))
	assert.Equal(t, 2, m.ClearByTags(ctx, TagSessionData))

	assert.Equal(t, []string{"config:x"}, m.Keys(ctx, "*"))
}

func TestManager_ClearNamespaceMatchesSlashes(t *testing.T) {
	ctx := context.Background()

	for _, backend := range []Backend{BackendMemory, BackendRedis, BackendHybrid} {
		t.Run(string(backend), func(t *testing.T) {
			config := NewMemoryConfig(100).WithBackend(backend)
			if backend != BackendMemory {
				client, _ := newRedisClient(t)
				config.WithRedisClient(client)
			}
			m := newMemoryManager(t, config)

			m.Set(ctx, "static:img/logo.png", "png", 0)
			m.Set(ctx, "static:css/site/main.css", "css", 0)
			m.Set(ctx, "static:a", "a", 0)
			m.Set(ctx, "user:7", "bob", 0)

			assert.Equal(t, 3, m.ClearNamespace(ctx, "static:"))
			assert.Equal(t, []string{"user:7"}, m.Keys(ctx, "*"))
		})
	}
}

func TestManager_GetInto(t *testing.T) {
	ctx := context.Background()

	type lead struct {
		ID     int64
		Name   string
		Source string
	}

	for _, backend := range []Backend{BackendMemory, BackendRedis, BackendHybrid} {
		t.Run(string(backend), func(t *testing.T) {
			config := NewMemoryConfig(100).WithBackend(backend)
			if backend != BackendMemory {
				client, _ := newRedisClient(t)
				config.WithRedisClient(client)
			}
			m := newMemoryManager(t, config)

			m.Set(ctx, "config:retries", 7, 0)
			m.Set(ctx, "user:7", lead{ID: 7, Name: "Bob", Source: "ads"}, 0)

			var retries int
			found, err := m.GetInto(ctx, "config:retries", &retries)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, 7, retries)

			var got lead
			found, err = m.GetInto(ctx, "user:7", &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, lead{ID: 7, Name: "Bob", Source: "ads"}, got)

			found, err = m.GetInto(ctx, "user:8", &got)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestGetOrSet(t *testing.T) {
	ctx := context.Background()

	t.Run("calls factory once per miss", func(t *testing.T) {
		m := newMemoryManager(t, nil)
		var calls atomic.Int32

		factory := func(context.Context) (any, error) {
			calls.Add(1)
			return "computed", nil
		}

		for range 3 {
			v, err := m.GetOrSet(ctx, "config:k", factory, 0)
			require.NoError(t, err)
			assert.Equal(t, "computed", v)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("factory error is returned and not cached", func(t *testing.T) {
		m := newMemoryManager(t, nil)
		boom := errors.New("upstream down")

		_, err := m.GetOrSet(ctx, "config:k", func(context.Context) (any, error) { return nil, boom }, 0)
		assert.ErrorIs(t, err, boom)

		_, ok := m.Get(ctx, "config:k")
		assert.False(t, ok)
	})

	t.Run("nil factory", func(t *testing.T) {
		m := newMemoryManager(t, nil)
		_, err := m.GetOrSet(ctx, "k", nil, 0)
		assert.ErrorIs(t, err, ErrNilFactory)
	})

	t.Run("cached nil is a hit", func(t *testing.T) {
		m := newMemoryManager(t, nil)
		m.Set(ctx, "k", nil, 0)

		v, err := m.GetOrSet(ctx, "k", func(context.Context) (any, error) {
			t.Error("factory must not run on a hit")
			return "x", nil
		}, 0)
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}

func TestGetOrSet_SingleFlight(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t, NewMemoryConfig(10).WithSingleFlight(true))

	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]any, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetOrSet(ctx, "temp:hot", factory, 0)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestConvenienceHelpers(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t, nil)

	require.True(t, m.CacheUserData(ctx, 42, map[string]any{"tier": "premium"}))
	require.True(t, m.CacheSessionData(ctx, "s1", "state"))
	require.True(t, m.CacheConfig(ctx, "welcome", "hello"))

	v, ok := m.GetUserData(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"tier": "premium"}, v)

	v, ok = m.GetSessionData(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "state", v)

	v, ok = m.GetConfig(ctx, "welcome")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	m.Set(ctx, "user:42:prefs", "dark", 0)
	assert.True(t, m.InvalidateUserCache(ctx, 42))
	assert.False(t, m.InvalidateUserCache(ctx, 42))

	_, ok = m.GetUserData(ctx, 42)
	assert.False(t, ok)

	assert.Equal(t, 1, m.ClearByTags(ctx, TagConfig))
}

func TestHooks(t *testing.T) {
	ctx := context.Background()

	var hits, misses, invalidations, factoryErrors []string
	hooks := (&Hooks{}).
		AddOnHit(func(_ context.Context, key string, _ any) { hits = append(hits, key) }).
		AddOnMiss(func(_ context.Context, key string) { misses = append(misses, key) }).
		AddOnInvalidate(func(_ context.Context, key string) { invalidations = append(invalidations, key) }).
		AddOnFactoryError(func(_ context.Context, key string, _ error) { factoryErrors = append(factoryErrors, key) })

	m := newMemoryManager(t, NewMemoryConfig(10).WithHooks(hooks))

	m.Set(ctx, "a", 1, 0)
	m.Get(ctx, "a")
	m.Get(ctx, "b")
	m.Delete(ctx, "a")
	_, _ = m.GetOrSet(ctx, "c", func(context.Context) (any, error) { return nil, errors.New("no") }, 0)

	assert.Equal(t, []string{"a"}, hits)
	assert.Equal(t, []string{"b", "c"}, misses)
	assert.Equal(t, []string{"a"}, invalidations)
	assert.Equal(t, []string{"c"}, factoryErrors)
}

type recordingExporter struct {
	metrics.NoOpExporter
	mu  sync.Mutex
	ops []string
}

func (r *recordingExporter) RecordOperation(op metrics.Operation, res metrics.Result, _ time.Duration, labels metrics.Labels) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, string(op)+":"+string(res)+"@"+labels[metrics.LabelCache])
	return nil
}

func TestOperationMetrics(t *testing.T) {
	ctx := context.Background()
	exp := &recordingExporter{}
	m := newMemoryManager(t, NewMemoryConfig(10).WithMetrics(exp, "bot"))

	m.Set(ctx, "k", "v", 0)
	m.Get(ctx, "k")
	m.Get(ctx, "missing")
	m.Delete(ctx, "missing")

	assert.Equal(t, []string{"set:ok@bot", "get:hit@bot", "get:miss@bot", "delete:error@bot"}, exp.ops)
}

func TestHybridManager(t *testing.T) {
	ctx := context.Background()
	client, _ := newRedisClient(t)

	m, err := New(NewDefaultConfig().WithRedisClient(client).WithCleanupInterval(0))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))
	t.Cleanup(func() { _ = m.Shutdown(ctx) })

	assert.True(t, m.Connected())

	require.True(t, m.Set(ctx, "user:7", "bob", 0, TagUserData))

	ttl, err := client.TTL(ctx, "optrixtrades:user:7").Result()
	require.NoError(t, err)
	assert.InDelta(t, (30 * time.Minute).Seconds(), ttl.Seconds(), 2)

	m.Get(ctx, "user:7")

	r := m.Stats(ctx)
	assert.Nil(t, r.TierReport)
	require.NotNil(t, r.Memory)
	require.NotNil(t, r.Redis)
	assert.Equal(t, int64(1), r.Memory.Hits)
	assert.Equal(t, int64(1), r.Redis.Sets)
	assert.Len(t, r.Tiers(), 2)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "memory")
	assert.Contains(t, decoded, "redis")
	assert.NotContains(t, decoded, "hits")
	assert.Equal(t, "hybrid", decoded["backend"])
}

func TestHybridManager_RedisUnreachable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()
	mr.Close()

	config := NewDefaultConfig().WithRedisURL(url).WithCleanupInterval(0)
	config.Redis.ConnectAttempts = 1

	m, err := New(config)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx), "connection failures are logged, not returned")
	t.Cleanup(func() { _ = m.Shutdown(ctx) })

	assert.False(t, m.Connected())
	assert.Nil(t, m.Client())

	require.True(t, m.Set(ctx, "session:x", "local", 0))
	v, ok := m.Get(ctx, "session:x")
	require.True(t, ok)
	assert.Equal(t, "local", v)
}

func TestRedisManager_Degraded(t *testing.T) {
	ctx := context.Background()
	client, mr := newRedisClient(t)

	m, err := New(NewDefaultConfig().WithBackend(BackendRedis).WithRedisClient(client))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))
	t.Cleanup(func() { _ = m.Shutdown(ctx) })

	require.True(t, m.Set(ctx, "config:a", "b", 0))
	v, ok := m.Get(ctx, "config:a")
	require.True(t, ok)
	assert.Equal(t, "b", v)

	mr.Close()

	assert.False(t, m.Set(ctx, "config:c", "d", 0))
	_, ok = m.Get(ctx, "config:a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.ClearByTags(ctx, TagConfig))
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	client, _ := newRedisClient(t)
	url := "redis://" + client.Options().Addr

	m, err := New(NewDefaultConfig().WithRedisURL(url).WithCleanupInterval(time.Minute))
	require.NoError(t, err)

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx))
	owned := m.Client()
	require.NotNil(t, owned)

	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))

	assert.ErrorIs(t, m.Initialize(ctx), ErrManagerClosed)
	assert.ErrorIs(t, owned.Ping(ctx).Err(), redis.ErrClosed, "owned client must be closed")
	assert.NoError(t, client.Ping(ctx).Err(), "other clients are untouched")
}

func TestDebugHandler(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t, nil)
	m.Set(ctx, "user:1", "a", 0)
	m.Set(ctx, "user:2", "b", 0)
	m.Set(ctx, "config:x", "c", 0)

	t.Run("stats only", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.DebugHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp DebugResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.NotNil(t, resp.Stats.TierReport)
		assert.Equal(t, int64(3), resp.Stats.Entries)
		assert.Equal(t, "1h0m0s", resp.Config.DefaultTTL)
		assert.Len(t, resp.Config.Namespaces, 5)
		assert.Empty(t, resp.Keys)
	})

	t.Run("with keys", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.DebugHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?keys=user:*", nil))

		var resp DebugResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.ElementsMatch(t, []string{"user:1", "user:2"}, resp.Keys)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.DebugHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
