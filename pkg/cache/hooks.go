package cache

import "context"

// Hooks defines event callbacks for cache operations.
// Hooks run synchronously on the calling goroutine and must not call back into the Manager.
type Hooks struct {
	// OnHit is called when a key is found and not expired
	OnHit []OnHitHook

	// OnMiss is called when a key is not found or expired
	OnMiss []OnMissHook

	// OnInvalidate is called when an entry is deleted explicitly, including
	// deletions made by ClearNamespace and InvalidateUserCache
	OnInvalidate []OnInvalidateHook

	// OnFactoryError is called when a GetOrSet factory fails
	OnFactoryError []OnFactoryErrorHook
}

// Hook function type definitions
type (
	// OnHitHook is called when a cache hit occurs
	OnHitHook func(ctx context.Context, key string, value any)

	// OnMissHook is called when a cache miss occurs
	OnMissHook func(ctx context.Context, key string)

	// OnInvalidateHook is called when an entry is invalidated
	OnInvalidateHook func(ctx context.Context, key string)

	// OnFactoryErrorHook is called when a GetOrSet factory returns an error
	OnFactoryErrorHook func(ctx context.Context, key string, err error)
)

// AddOnHit adds an OnHit hook
func (h *Hooks) AddOnHit(hook OnHitHook) *Hooks {
	h.OnHit = append(h.OnHit, hook)
	return h
}

// AddOnMiss adds an OnMiss hook
func (h *Hooks) AddOnMiss(hook OnMissHook) *Hooks {
	h.OnMiss = append(h.OnMiss, hook)
	return h
}

// AddOnInvalidate adds an OnInvalidate hook
func (h *Hooks) AddOnInvalidate(hook OnInvalidateHook) *Hooks {
	h.OnInvalidate = append(h.OnInvalidate, hook)
	return h
}

// AddOnFactoryError adds an OnFactoryError hook
func (h *Hooks) AddOnFactoryError(hook OnFactoryErrorHook) *Hooks {
	h.OnFactoryError = append(h.OnFactoryError, hook)
	return h
}

func (h *Hooks) invokeOnHit(ctx context.Context, key string, value any) {
	if h == nil {
		return
	}
	for _, hook := range h.OnHit {
		if hook != nil {
			hook(ctx, key, value)
		}
	}
}

func (h *Hooks) invokeOnMiss(ctx context.Context, key string) {
	if h == nil {
		return
	}
	for _, hook := range h.OnMiss {
		if hook != nil {
			hook(ctx, key)
		}
	}
}

func (h *Hooks) invokeOnInvalidate(ctx context.Context, key string) {
	if h == nil {
		return
	}
	for _, hook := range h.OnInvalidate {
		if hook != nil {
			hook(ctx, key)
		}
	}
}

func (h *Hooks) invokeOnFactoryError(ctx context.Context, key string, err error) {
	if h == nil {
		return
	}
	for _, hook := range h.OnFactoryError {
		if hook != nil {
			hook(ctx, key, err)
		}
	}
}
