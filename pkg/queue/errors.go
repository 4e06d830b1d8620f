package queue

import "errors"

var (
	// ErrEnqueueRejected is returned by SendMessage when the backend refuses a message,
	// either because the queue is full or because Redis is unreachable
	ErrEnqueueRejected = errors.New("queue: message rejected by backend")

	// ErrHandlerRejected is returned by a handler to fail a message without reporting an error.
	// OnError is not called for it.
	ErrHandlerRejected = errors.New("queue: handler rejected message")

	// ErrNotInitialized is returned by Manager operations that need a backend before Initialize
	ErrNotInitialized = errors.New("queue: manager not initialized")

	// ErrManagerClosed is returned by Manager operations after Shutdown
	ErrManagerClosed = errors.New("queue: manager is shut down")

	// ErrUnknownBackend is returned when Config.Backend names no known backend
	ErrUnknownBackend = errors.New("queue: unknown backend")

	// ErrRedisConfigRequired is returned when a Redis-backed manager has neither a client nor a URL
	ErrRedisConfigRequired = errors.New("queue: redis configuration is required")

	// ErrInvalidPriority is returned for priorities outside Low..Critical
	ErrInvalidPriority = errors.New("queue: invalid priority")

	// ErrEmptyQueueName is returned when a queue name is empty
	ErrEmptyQueueName = errors.New("queue: queue name is empty")

	// ErrNilHandler is returned by RegisterHandler when no handler is given
	ErrNilHandler = errors.New("queue: handler is nil")
)
