package store

import (
	"context"
	"time"
)

// Backend defines the interface for cache storage backends.
// The memory, Redis and hybrid implementations share this contract so the
// cache manager holds a single handle and never branches on backend type.
//
// Failures of the underlying store are absorbed by the backend: reads degrade
// to a miss, writes and deletes report false, bulk operations report zero.
type Backend interface {
	// Get retrieves a value by key
	// Returns the value and true on a hit, nil and false on a miss or expiry
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value; a non-positive ttl stores without expiry
	Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) bool

	// Delete removes a key, reporting whether it existed
	Delete(ctx context.Context, key string) bool

	// Clear removes all entries and resets statistics
	Clear(ctx context.Context)

	// ClearByTags removes every entry carrying any of the tags and returns the count removed
	ClearByTags(ctx context.Context, tags []string) int

	// KeysByPattern returns the keys matching a glob pattern
	KeysByPattern(ctx context.Context, pattern string) []string

	// Stats returns a snapshot of the backend statistics
	Stats(ctx context.Context) Stats

	// Close releases background resources held by the backend
	Close() error
}

// Tiered is implemented by backends composed of several tiers.
// Tiers returns one Stats snapshot per tier keyed by tier name.
type Tiered interface {
	Backend
	Tiers(ctx context.Context) map[string]Stats
}

// Connector is implemented by backends that hold a remote connection
type Connector interface {
	// Connected reports whether the remote store answered its last health probe
	Connected() bool
}
