// Package hybrid composes an in-process LRU tier with a shared Redis tier.
//
// Reads are served locally when possible and fall through to Redis on a
// local miss, populating the local tier on the way back. Writes always land
// locally and are mirrored to Redis on a best-effort basis, so a process
// reads its own writes even while Redis is flaky.
package hybrid

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/internal/store"
	"github.com/vnykmshr/funnelcore/internal/store/memory"
	"github.com/vnykmshr/funnelcore/internal/store/redis"
)

// Tier names reported by Tiers
const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

// Config configures the hybrid backend
type Config struct {
	// PopulateTTL is applied to entries copied into the local tier after a
	// remote hit. Zero keeps them until evicted.
	PopulateTTL time.Duration

	Logger *zap.Logger
}

// Store is a two-tier cache backend
type Store struct {
	local       *memory.LRU
	remote      *redis.Store
	useRemote   atomic.Bool
	populateTTL time.Duration
	logger      *zap.Logger
}

// New creates a hybrid backend over the given tiers. The remote tier starts
// disabled; call EnableRemote once the connection is confirmed.
func New(local *memory.LRU, remote *redis.Store, config *Config) *Store {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		local:       local,
		remote:      remote,
		populateTTL: config.PopulateTTL,
		logger:      logger.With(zap.String("component", "hybrid_cache")),
	}
}

// EnableRemote switches the Redis tier on or off
func (s *Store) EnableRemote(enabled bool) {
	if s.remote == nil {
		enabled = false
	}
	if s.useRemote.Swap(enabled) != enabled {
		s.logger.Info("remote tier toggled", zap.Bool("enabled", enabled))
	}
}

// RemoteEnabled reports whether the Redis tier is in use
func (s *Store) RemoteEnabled() bool {
	return s.useRemote.Load()
}

// Connected reports whether the remote tier is enabled and reachable
func (s *Store) Connected() bool {
	return s.RemoteEnabled() && s.remote.Connected()
}

// Get checks the local tier, then the remote tier
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	if v, ok := s.local.Get(ctx, key); ok {
		return v, true
	}

	if !s.RemoteEnabled() {
		return nil, false
	}

	v, ok := s.remote.Get(ctx, key)
	if !ok {
		return nil, false
	}

	s.local.Set(ctx, key, v, s.populateTTL, nil)
	return v, true
}

// Set writes locally and mirrors to Redis. The result reflects the local write only.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) bool {
	ok := s.local.Set(ctx, key, value, ttl, tags)

	if s.RemoteEnabled() && !s.remote.Set(ctx, key, value, ttl, tags) {
		s.logger.Debug("remote write skipped", zap.String("key", key))
	}

	return ok
}

// Delete removes key from both tiers
func (s *Store) Delete(ctx context.Context, key string) bool {
	local := s.local.Delete(ctx, key)
	remote := false
	if s.RemoteEnabled() {
		remote = s.remote.Delete(ctx, key)
	}
	return local || remote
}

// Clear empties both tiers
func (s *Store) Clear(ctx context.Context) {
	s.local.Clear(ctx)
	if s.RemoteEnabled() {
		s.remote.Clear(ctx)
	}
}

// ClearByTags clears both tiers and returns the sum of their counts.
// The tiers need not agree on which keys exist, so a key may be counted twice.
func (s *Store) ClearByTags(ctx context.Context, tags []string) int {
	n := s.local.ClearByTags(ctx, tags)
	if s.RemoteEnabled() {
		n += s.remote.ClearByTags(ctx, tags)
	}
	return n
}

// KeysByPattern returns the union of matching keys from both tiers
func (s *Store) KeysByPattern(ctx context.Context, pattern string) []string {
	keys := s.local.KeysByPattern(ctx, pattern)
	if !s.RemoteEnabled() {
		return keys
	}

	for _, key := range s.remote.KeysByPattern(ctx, pattern) {
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns the local tier statistics; use Tiers for the full picture
func (s *Store) Stats(ctx context.Context) store.Stats {
	return s.local.Stats(ctx)
}

// Tiers returns one snapshot per tier. The redis snapshot is zero while the tier is disabled.
func (s *Store) Tiers(ctx context.Context) map[string]store.Stats {
	tiers := map[string]store.Stats{
		TierMemory: s.local.Stats(ctx),
		TierRedis:  {},
	}
	if s.RemoteEnabled() {
		tiers[TierRedis] = s.remote.Stats(ctx)
	}
	return tiers
}

// Close stops the local janitor
func (s *Store) Close() error {
	return s.local.Close()
}

var (
	_ store.Tiered    = (*Store)(nil)
	_ store.Connector = (*Store)(nil)
)
