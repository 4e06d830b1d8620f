// Package cache provides the application cache: a namespace-aware manager
// over an in-memory LRU, Redis, or a hybrid of the two.
//
// # Backends
//
//   - memory: a bounded LRU with per-entry TTL, tags and a byte budget
//   - redis: values encoded through pkg/codec with native expiry and tag sets
//   - hybrid: local reads first, Redis on a local miss, writes to both
//
// Redis failures never surface as errors. Reads degrade to misses and writes
// report false, so callers treat the cache as an optimisation only.
//
// # Basic Usage
//
//	m, err := cache.New(cache.NewDefaultConfig().WithRedisURL("redis://localhost:6379/0"))
//	if err != nil {
//	    return err
//	}
//	_ = m.Initialize(ctx)
//	defer m.Shutdown(ctx)
//
//	// TTL comes from the "user:" namespace (30 minutes)
//	m.Set(ctx, "user:42", profile, 0, cache.TagUserData)
//
//	v, err := m.GetOrSet(ctx, "config:welcome", func(ctx context.Context) (any, error) {
//	    return loadWelcomeText(ctx)
//	}, 0)
//
// # Namespaces
//
// A zero TTL resolves through the namespace table, first match wins:
//
//	user:     30m
//	session:  15m
//	temp:     5m
//	config:   2h
//	static:   24h
//	(other)   DefaultTTL, 1h
package cache
