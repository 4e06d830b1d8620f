package cache

import "errors"

var (
	// ErrUnknownBackend is returned when Config.Backend names no known backend
	ErrUnknownBackend = errors.New("cache: unknown backend")

	// ErrRedisConfigRequired is returned when a Redis-backed manager has neither a client nor a URL
	ErrRedisConfigRequired = errors.New("cache: redis configuration is required")

	// ErrNilFactory is returned by GetOrSet when no factory is given
	ErrNilFactory = errors.New("cache: factory is nil")

	// ErrManagerClosed is returned by Initialize after Shutdown
	ErrManagerClosed = errors.New("cache: manager is shut down")
)
