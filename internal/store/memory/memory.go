package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/vnykmshr/funnelcore/internal/entry"
	"github.com/vnykmshr/funnelcore/internal/store"
	"github.com/vnykmshr/funnelcore/pkg/codec"
)

// ErrInvalidCapacity is returned when MaxEntries is not positive
var ErrInvalidCapacity = errors.New("memory: max entries must be positive")

// Config configures the in-memory LRU backend
type Config struct {
	// MaxEntries is the maximum number of entries held at once
	MaxEntries int `yaml:"max_entries"`

	// MaxBytes caps the summed size of all entries
	MaxBytes int64 `yaml:"max_bytes"`

	// CleanupInterval is how often expired entries are purged; zero disables the janitor
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// NewDefaultConfig returns a configuration with 1000 entries, 100 MiB and a one minute janitor
func NewDefaultConfig() *Config {
	return &Config{
		MaxEntries:      1000,
		MaxBytes:        100 * 1024 * 1024,
		CleanupInterval: time.Minute,
	}
}

// WithMaxEntries sets the entry count limit
func (c *Config) WithMaxEntries(n int) *Config {
	c.MaxEntries = n
	return c
}

// WithMaxBytes sets the total size limit
func (c *Config) WithMaxBytes(n int64) *Config {
	c.MaxBytes = n
	return c
}

// WithCleanupInterval sets the janitor interval
func (c *Config) WithCleanupInterval(d time.Duration) *Config {
	c.CleanupInterval = d
	return c
}

// LRU is an in-memory cache bounded by entry count and total byte size.
// The least recently used entry is evicted first when either bound is exceeded.
type LRU struct {
	mu       sync.Mutex
	items    *simplelru.LRU[string, *entry.Entry]
	maxBytes int64
	stats    store.Stats

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New creates an LRU backend from config. A nil config uses NewDefaultConfig.
func New(config *Config) (*LRU, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if config.MaxEntries <= 0 {
		return nil, ErrInvalidCapacity
	}

	l := &LRU{
		maxBytes:    config.MaxBytes,
		stopCleanup: make(chan struct{}),
	}

	// Every removal path (eviction, delete, purge) goes through here
	items, err := simplelru.NewLRU[string, *entry.Entry](config.MaxEntries, func(_ string, e *entry.Entry) {
		l.stats.TotalSizeBytes -= e.SizeBytes
	})
	if err != nil {
		return nil, err
	}
	l.items = items

	if config.CleanupInterval > 0 {
		l.startCleanup(config.CleanupInterval)
	}

	return l, nil
}

// Get returns the value for key and marks it most recently used.
// An expired entry is removed and counted as a miss.
func (l *LRU) Get(_ context.Context, key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, found := l.items.Get(key)
	if !found {
		l.stats.Misses++
		return nil, false
	}

	if e.IsExpired() {
		l.items.Remove(key)
		l.stats.Misses++
		return nil, false
	}

	e.Touch()
	l.stats.Hits++
	return e.Value, true
}

// Set stores value under key and then enforces the count and size limits
func (l *LRU) Set(_ context.Context, key string, value any, ttl time.Duration, tags []string) bool {
	e := entry.New(key, value, ttl, tags, codec.Size(value))

	l.mu.Lock()
	defer l.mu.Unlock()

	// Overwrites do not fire the eviction callback
	if old, found := l.items.Peek(key); found {
		l.stats.TotalSizeBytes -= old.SizeBytes
	}

	l.stats.TotalSizeBytes += e.SizeBytes
	if evicted := l.items.Add(key, e); evicted {
		l.stats.Evictions++
	}
	l.stats.Sets++

	for l.maxBytes > 0 && l.stats.TotalSizeBytes > l.maxBytes && l.items.Len() > 0 {
		l.items.RemoveOldest()
		l.stats.Evictions++
	}

	return true
}

// Delete removes key, reporting whether it was present
func (l *LRU) Delete(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.items.Remove(key) {
		return false
	}
	l.stats.Deletes++
	return true
}

// Clear removes every entry and resets statistics
func (l *LRU) Clear(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items.Purge()
	l.stats = store.Stats{}
}

// ClearByTags removes every entry carrying at least one of tags
func (l *LRU) ClearByTags(_ context.Context, tags []string) int {
	if len(tags) == 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range l.items.Keys() {
		e, found := l.items.Peek(key)
		if !found || !e.HasTag(tags...) {
			continue
		}
		l.items.Remove(key)
		l.stats.Deletes++
		removed++
	}
	return removed
}

// KeysByPattern returns the live keys matching a glob pattern, oldest first.
// Keys are flat strings, so * also matches '/' as Redis MATCH does.
func (l *LRU) KeysByPattern(_ context.Context, pattern string) []string {
	keys := make([]string, 0)
	g, err := glob.Compile(pattern)
	if err != nil {
		return keys
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range l.items.Keys() {
		e, found := l.items.Peek(key)
		if !found || e.IsExpired() {
			continue
		}
		if g.Match(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats purges expired entries and returns a snapshot of the statistics
func (l *LRU) Stats(_ context.Context) store.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeExpiredLocked()

	stats := l.stats
	stats.EntryCount = int64(l.items.Len())
	return stats
}

// Len returns the number of entries currently held, including expired ones not yet purged
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items.Len()
}

// Cleanup removes expired entries and returns the number removed
func (l *LRU) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.purgeExpiredLocked()
}

// Close stops the janitor. The entries are kept until the backend is dropped.
func (l *LRU) Close() error {
	l.closeOnce.Do(func() { close(l.stopCleanup) })
	return nil
}

func (l *LRU) purgeExpiredLocked() int {
	now := time.Now()
	removed := 0
	for _, key := range l.items.Keys() {
		if e, found := l.items.Peek(key); found && e.ExpiredAt(now) {
			l.items.Remove(key)
			removed++
		}
	}
	return removed
}

func (l *LRU) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stopCleanup:
				return
			}
		}
	}()
}

var _ store.Backend = (*LRU)(nil)
