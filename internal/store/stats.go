package store

import "sync/atomic"

// Stats holds cache backend statistics.
// Hits, Misses, Sets, Deletes and Evictions only grow until the backend is
// cleared; EntryCount and TotalSizeBytes describe the current contents.
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Sets           int64 `json:"sets"`
	Deletes        int64 `json:"deletes"`
	Evictions      int64 `json:"evictions"`
	EntryCount     int64 `json:"entries"`
	TotalSizeBytes int64 `json:"size_bytes"`
}

// HitRate returns hits / (hits + misses), or 0 before the first request
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Total returns the total number of read requests (hits + misses)
func (s Stats) Total() int64 {
	return s.Hits + s.Misses
}

// Counters holds the monotonic part of Stats for backends that are not
// guarded by a single mutex. All methods are safe for concurrent use.
type Counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
}

func (c *Counters) Hit()            { c.hits.Add(1) }
func (c *Counters) Miss()           { c.misses.Add(1) }
func (c *Counters) Set()            { c.sets.Add(1) }
func (c *Counters) Deleted(n int64) { c.deletes.Add(n) }
func (c *Counters) Evicted(n int64) { c.evictions.Add(n) }

// Snapshot returns the counters as Stats with EntryCount and TotalSizeBytes left at zero
func (c *Counters) Snapshot() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Reset sets all counters to zero
func (c *Counters) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.deletes.Store(0)
	c.evictions.Store(0)
}
