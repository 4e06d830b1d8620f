package redis

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/internal/store"
	"github.com/vnykmshr/funnelcore/pkg/codec"
)

// DefaultKeyPrefix is prepended to every cache key
const DefaultKeyPrefix = "optrixtrades:"

const tagNamespace = "tag:"

var errNoClient = errors.New("redis: no client configured")

// BreakerConfig configures the circuit breaker guarding Redis calls
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// NewDefaultBreakerConfig trips after 80% failures over at least 5 calls and probes again after 30s
func NewDefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Config holds Redis store configuration
type Config struct {
	// Client is the Redis client to use; nil leaves the store permanently degraded
	Client redis.Cmdable

	// KeyPrefix is prepended to all cache keys to avoid conflicts
	KeyPrefix string

	// Reserved lists namespaces under KeyPrefix owned by other components.
	// Clear, KeysByPattern and Stats leave them alone.
	Reserved []string

	// OpTimeout bounds each Redis round trip; bulk scans get ten times as long
	OpTimeout time.Duration

	// Codec encodes values; nil uses codec.Default()
	Codec *codec.Codec

	Breaker BreakerConfig

	Logger *zap.Logger
}

// NewDefaultConfig returns a config for client with the default prefix.
// The queue namespace is reserved so clearing the cache never drops queue state.
func NewDefaultConfig(client redis.Cmdable) *Config {
	return &Config{
		Client:    client,
		KeyPrefix: DefaultKeyPrefix,
		Reserved:  []string{"queue:"},
		OpTimeout: 500 * time.Millisecond,
		Breaker:   NewDefaultBreakerConfig(),
	}
}

// Store implements a Redis-backed cache backend.
// Every failure of the remote store degrades to a miss, false or zero and is
// logged; nothing is returned to the caller as an error.
type Store struct {
	client    redis.Cmdable
	keyPrefix string
	reserved  []string
	timeout   time.Duration
	codec     *codec.Codec
	breaker   *gobreaker.CircuitBreaker[any]
	logger    *zap.Logger

	counters  store.Counters
	connected atomic.Bool
}

// New creates a new Redis store with the given configuration
func New(config *Config) *Store {
	if config == nil {
		config = NewDefaultConfig(nil)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	timeout := config.OpTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	c := config.Codec
	if c == nil {
		c = codec.Default()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "redis_cache"))

	s := &Store{
		client:    config.Client,
		keyPrefix: keyPrefix,
		timeout:   timeout,
		codec:     c,
		logger:    logger,
	}
	for _, ns := range config.Reserved {
		s.reserved = append(s.reserved, keyPrefix+ns)
	}
	s.breaker = newBreaker(config.Breaker, logger)
	s.connected.Store(config.Client != nil)

	return s
}

func newBreaker(config BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "redis_cache",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})
}

// Ping probes the server and records the outcome for Connected
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "ping", s.timeout, func(ctx context.Context) (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	s.connected.Store(err == nil)
	return err
}

// Connected reports whether the last probe or call reached the server
func (s *Store) Connected() bool {
	return s.connected.Load()
}

// do runs fn under the breaker with a bounded context. Failures other than
// redis.Nil are logged at warn level.
func (s *Store) do(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if s.client == nil {
		return nil, errNoClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := s.breaker.Execute(func() (any, error) { return fn(ctx) })
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		s.connected.Store(true)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.logger.Debug("redis call short-circuited", zap.String("op", op), zap.Error(err))
	default:
		s.connected.Store(false)
		s.logger.Warn("redis call failed, degrading", zap.String("op", op), zap.Error(err))
	}
	return v, err
}

// Get retrieves and decodes a value. Any failure is treated as a miss.
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	v, err := s.do(ctx, "get", s.timeout, func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, s.buildKey(key)).Bytes()
	})
	if err != nil {
		s.counters.Miss()
		return nil, false
	}

	value, _ := s.codec.Decode(v.([]byte))
	s.counters.Hit()
	return value, true
}

// Set encodes and stores a value with native expiry and records its tags
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) bool {
	data, _, err := s.codec.Encode(value)
	if err != nil {
		s.logger.Warn("redis cache encode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if ttl < 0 {
		ttl = 0
	}

	redisKey := s.buildKey(key)
	_, err = s.do(ctx, "set", s.timeout, func(ctx context.Context) (any, error) {
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, ttl)
			for _, tag := range tags {
				tagKey := s.tagKey(tag)
				pipe.SAdd(ctx, tagKey, redisKey)
				if ttl > 0 {
					pipe.Expire(ctx, tagKey, ttl)
				}
			}
			return nil
		})
		return nil, err
	})
	if err != nil {
		return false
	}

	s.counters.Set()
	return true
}

// Delete removes a key, reporting whether it existed
func (s *Store) Delete(ctx context.Context, key string) bool {
	v, err := s.do(ctx, "delete", s.timeout, func(ctx context.Context) (any, error) {
		return s.client.Del(ctx, s.buildKey(key)).Result()
	})
	if err != nil || v.(int64) == 0 {
		return false
	}

	s.counters.Deleted(1)
	return true
}

// Clear removes every key under the prefix, except reserved namespaces, and resets counters
func (s *Store) Clear(ctx context.Context) {
	_, _ = s.do(ctx, "clear", s.timeout*10, func(ctx context.Context) (any, error) {
		keys, err := s.scan(ctx, s.keyPrefix+"*", true)
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			return nil, s.client.Del(ctx, keys...).Err()
		}
		return nil, nil
	})

	s.counters.Reset()
}

// ClearByTags deletes the union of keys recorded under tags plus the tag sets themselves
func (s *Store) ClearByTags(ctx context.Context, tags []string) int {
	if len(tags) == 0 {
		return 0
	}

	v, err := s.do(ctx, "clear_by_tags", s.timeout*10, func(ctx context.Context) (any, error) {
		tagKeys := make([]string, len(tags))
		for i, tag := range tags {
			tagKeys[i] = s.tagKey(tag)
		}

		members, err := s.client.SUnion(ctx, tagKeys...).Result()
		if err != nil {
			return 0, err
		}

		var del *redis.IntCmd
		_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(members) > 0 {
				del = pipe.Del(ctx, members...)
			}
			pipe.Del(ctx, tagKeys...)
			return nil
		})
		if err != nil || del == nil {
			return 0, err
		}
		return int(del.Val()), nil
	})
	if err != nil {
		return 0
	}

	removed := v.(int)
	s.counters.Deleted(int64(removed))
	return removed
}

// KeysByPattern returns the keys matching a glob pattern with the prefix stripped
func (s *Store) KeysByPattern(ctx context.Context, pattern string) []string {
	v, err := s.do(ctx, "keys", s.timeout*10, func(ctx context.Context) (any, error) {
		return s.scan(ctx, s.keyPrefix+pattern, false)
	})
	if err != nil {
		return []string{}
	}

	redisKeys := v.([]string)
	keys := make([]string, 0, len(redisKeys))
	for _, redisKey := range redisKeys {
		keys = append(keys, strings.TrimPrefix(redisKey, s.keyPrefix))
	}
	return keys
}

// Stats returns the local counters plus the number of keys under the prefix
// and the server's used_memory
func (s *Store) Stats(ctx context.Context) store.Stats {
	stats := s.counters.Snapshot()

	v, err := s.do(ctx, "stats", s.timeout*10, func(ctx context.Context) (any, error) {
		return s.scan(ctx, s.keyPrefix+"*", false)
	})
	if err != nil {
		return stats
	}
	stats.EntryCount = int64(len(v.([]string)))

	// INFO is best-effort and kept out of the breaker: some servers restrict it
	infoCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if info, err := s.client.Info(infoCtx, "memory").Result(); err == nil {
		stats.TotalSizeBytes = parseUsedMemory(info)
	}

	return stats
}

// Close releases nothing; the client is owned by whoever opened it
func (s *Store) Close() error {
	return nil
}

// scan walks keys matching pattern, skipping tag sets and reserved namespaces.
// When includeTags is set, tag sets are returned too.
func (s *Store) scan(ctx context.Context, pattern string, includeTags bool) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range batch {
			if s.isReserved(key) {
				continue
			}
			if !includeTags && strings.HasPrefix(key, s.keyPrefix+tagNamespace) {
				continue
			}
			keys = append(keys, key)
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *Store) isReserved(key string) bool {
	for _, prefix := range s.reserved {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (s *Store) buildKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) tagKey(tag string) string {
	return s.keyPrefix + tagNamespace + tag
}

func parseUsedMemory(info string) int64 {
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		value, found := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "used_memory:")
		if !found {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

var (
	_ store.Backend   = (*Store)(nil)
	_ store.Connector = (*Store)(nil)
)
