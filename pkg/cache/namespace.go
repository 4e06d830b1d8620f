package cache

import (
	"strings"
	"time"
)

// Namespace assigns a TTL to every key starting with Prefix
type Namespace struct {
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// Well-known key prefixes
const (
	NamespaceUser    = "user:"
	NamespaceSession = "session:"
	NamespaceTemp    = "temp:"
	NamespaceConfig  = "config:"
	NamespaceStatic  = "static:"
)

// DefaultNamespaces returns the standard namespace TTL table in match order
func DefaultNamespaces() []Namespace {
	return []Namespace{
		{Prefix: NamespaceUser, TTL: 30 * time.Minute},
		{Prefix: NamespaceSession, TTL: 15 * time.Minute},
		{Prefix: NamespaceTemp, TTL: 5 * time.Minute},
		{Prefix: NamespaceConfig, TTL: 2 * time.Hour},
		{Prefix: NamespaceStatic, TTL: 24 * time.Hour},
	}
}

// resolveTTL walks namespaces in order and returns the first matching TTL, or fallback
func resolveTTL(namespaces []Namespace, key string, fallback time.Duration) time.Duration {
	for _, ns := range namespaces {
		if strings.HasPrefix(key, ns.Prefix) {
			return ns.TTL
		}
	}
	return fallback
}
