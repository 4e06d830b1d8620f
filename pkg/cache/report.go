package cache

import (
	"context"

	"github.com/vnykmshr/funnelcore/internal/store"
	"github.com/vnykmshr/funnelcore/internal/store/hybrid"
)

// TierReport summarises the statistics of one storage tier
type TierReport struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Entries   int64   `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
}

// Report is the cache statistics view returned by Manager.Stats.
// Single-tier backends fill the embedded TierReport; the hybrid backend
// leaves it nil and fills Memory and Redis instead.
type Report struct {
	Backend   Backend `json:"backend"`
	Connected bool    `json:"connected"`

	*TierReport

	Memory *TierReport `json:"memory,omitempty"`
	Redis  *TierReport `json:"redis,omitempty"`
}

// Stats returns the current statistics of the backend
func (m *Manager) Stats(ctx context.Context) Report {
	b := m.current()
	r := Report{Backend: m.config.Backend, Connected: m.Connected()}

	if tiered, ok := b.(store.Tiered); ok {
		tiers := tiered.Tiers(ctx)
		r.Memory = newTierReport(tiers[hybrid.TierMemory])
		r.Redis = newTierReport(tiers[hybrid.TierRedis])
		return r
	}

	r.TierReport = newTierReport(b.Stats(ctx))
	return r
}

// Tiers returns every tier report keyed by tier name
func (r Report) Tiers() map[string]*TierReport {
	if r.TierReport != nil {
		return map[string]*TierReport{string(r.Backend): r.TierReport}
	}
	return map[string]*TierReport{hybrid.TierMemory: r.Memory, hybrid.TierRedis: r.Redis}
}

func newTierReport(s store.Stats) *TierReport {
	return &TierReport{
		Hits:      s.Hits,
		Misses:    s.Misses,
		Sets:      s.Sets,
		Deletes:   s.Deletes,
		Evictions: s.Evictions,
		HitRate:   s.HitRate(),
		Entries:   s.EntryCount,
		SizeBytes: s.TotalSizeBytes,
	}
}
