package queue

import (
	"context"
	"sync"
)

// Handler consumes messages from a queue
type Handler interface {
	// Handle processes one message. A nil error acknowledges it.
	// ctx is cancelled when the message timeout elapses or the workers stop.
	Handle(ctx context.Context, msg *Message) error

	// OnError is called when Handle returns an error other than ErrHandlerRejected
	OnError(ctx context.Context, msg *Message, err error)

	// OnRetry is called after a failed attempt that still has attempts left.
	// Returning false sends the message to the dead-letter list immediately.
	OnRetry(ctx context.Context, msg *Message) bool
}

// HandlerFunc adapts a plain function to Handler.
// OnError does nothing and OnRetry allows every retry the attempt budget permits.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle calls f(ctx, msg)
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// OnError does nothing
func (f HandlerFunc) OnError(context.Context, *Message, error) {}

// OnRetry allows a retry while attempts remain
func (f HandlerFunc) OnRetry(_ context.Context, msg *Message) bool { return msg.CanRetry() }

// RetryPolicy decides whether a failed message with attempts left is retried
type RetryPolicy interface {
	AllowRetry(ctx context.Context, msg *Message) bool
}

// handlers maps queue names to their handler and doubles as the retry policy
// the backends consult, so OnRetry reaches the state machine.
type handlers struct {
	mu sync.RWMutex
	m  map[string]Handler
}

func newHandlers() *handlers {
	return &handlers{m: make(map[string]Handler)}
}

func (h *handlers) set(queue string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[queue] = handler
}

func (h *handlers) get(queue string) Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.m[queue]
}

func (h *handlers) remove(queue string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.m, queue)
}

// AllowRetry defers to the queue's handler; without one the attempt budget decides
func (h *handlers) AllowRetry(ctx context.Context, msg *Message) bool {
	handler := h.get(msg.QueueName)
	if handler == nil {
		return true
	}
	return handler.OnRetry(ctx, msg.clone())
}
