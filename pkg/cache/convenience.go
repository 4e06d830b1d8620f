package cache

import (
	"context"
	"fmt"
)

// Tags applied by the convenience helpers
const (
	TagUserData    = "user_data"
	TagSessionData = "session_data"
	TagConfig      = "config"
)

func userKey(userID int64) string { return fmt.Sprintf("%s%d", NamespaceUser, userID) }

// CacheUserData stores data under user:<id> with the user namespace TTL
func (m *Manager) CacheUserData(ctx context.Context, userID int64, data any) bool {
	return m.Set(ctx, userKey(userID), data, 0, TagUserData)
}

// GetUserData returns the data stored by CacheUserData
func (m *Manager) GetUserData(ctx context.Context, userID int64) (any, bool) {
	return m.Get(ctx, userKey(userID))
}

// CacheSessionData stores data under session:<id> with the session namespace TTL
func (m *Manager) CacheSessionData(ctx context.Context, sessionID string, data any) bool {
	return m.Set(ctx, NamespaceSession+sessionID, data, 0, TagSessionData)
}

// GetSessionData returns the data stored by CacheSessionData
func (m *Manager) GetSessionData(ctx context.Context, sessionID string) (any, bool) {
	return m.Get(ctx, NamespaceSession+sessionID)
}

// CacheConfig stores a configuration value under config:<key>
func (m *Manager) CacheConfig(ctx context.Context, key string, value any) bool {
	return m.Set(ctx, NamespaceConfig+key, value, 0, TagConfig)
}

// GetConfig returns the value stored by CacheConfig
func (m *Manager) GetConfig(ctx context.Context, key string) (any, bool) {
	return m.Get(ctx, NamespaceConfig+key)
}

// InvalidateUserCache deletes every key starting with user:<id> and reports
// whether any matched. The match is a plain prefix, so user:1 also covers user:10.
func (m *Manager) InvalidateUserCache(ctx context.Context, userID int64) bool {
	keys := m.Keys(ctx, userKey(userID)+"*")
	for _, key := range keys {
		m.Delete(ctx, key)
	}
	return len(keys) > 0
}
