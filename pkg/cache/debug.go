package cache

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugResponse represents the JSON response structure for the debug endpoint
type DebugResponse struct {
	Stats  Report       `json:"stats"`
	Config *DebugConfig `json:"config"`
	Keys   []string     `json:"keys,omitempty"`
}

// DebugConfig represents cache configuration in the debug response
type DebugConfig struct {
	Backend      Backend          `json:"backend"`
	MaxEntries   int              `json:"maxEntries,omitempty"`
	MaxBytes     int64            `json:"maxBytes,omitempty"`
	DefaultTTL   string           `json:"defaultTTL"`
	Namespaces   []DebugNamespace `json:"namespaces"`
	SingleFlight bool             `json:"singleFlight"`
}

// DebugNamespace is one row of the namespace TTL table
type DebugNamespace struct {
	Prefix string `json:"prefix"`
	TTL    string `json:"ttl"`
}

// DebugHandler returns an HTTP handler that reports cache statistics and configuration.
// With a keys query parameter, e.g. ?keys=user:*, it also lists the matching keys.
func (m *Manager) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx := r.Context()
		response := DebugResponse{
			Stats:  m.Stats(ctx),
			Config: m.debugConfig(),
		}

		if pattern := r.URL.Query().Get("keys"); pattern != "" {
			response.Keys = m.Keys(ctx, pattern)
			if response.Keys == nil {
				response.Keys = []string{}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		}
	})
}

func (m *Manager) debugConfig() *DebugConfig {
	dc := &DebugConfig{
		Backend:      m.config.Backend,
		DefaultTTL:   formatDuration(m.config.DefaultTTL),
		SingleFlight: m.config.SingleFlight,
	}
	if m.config.Backend != BackendRedis {
		dc.MaxEntries = m.config.MaxEntries
		dc.MaxBytes = m.config.MaxBytes
	}
	for _, ns := range m.config.Namespaces {
		dc.Namespaces = append(dc.Namespaces, DebugNamespace{Prefix: ns.Prefix, TTL: formatDuration(ns.TTL)})
	}
	return dc
}

// formatDuration formats a duration in a human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Truncate(time.Millisecond).String()
	}
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	if d < time.Hour {
		return d.Truncate(time.Minute).String()
	}
	return d.Truncate(time.Hour).String()
}
