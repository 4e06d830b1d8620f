package entry

import (
	"slices"
	"time"
)

// Entry represents a cached item with expiry and tag metadata
type Entry struct {
	// Key is unique per backend and prefix
	Key string

	// Value is the cached payload
	Value any

	// CreatedAt is when this entry was stored
	CreatedAt time.Time

	// ExpiresAt indicates when this entry expires (nil means no expiration)
	ExpiresAt *time.Time

	// AccessCount is the number of Get hits served by this entry
	AccessCount int64

	// LastAccessed is when this entry was last returned by Get
	LastAccessed time.Time

	// Tags group entries for bulk invalidation; they play no part in key uniqueness
	Tags []string

	// SizeBytes is the best-effort serialized size of Value
	SizeBytes int64
}

// New creates a new cache entry. A non-positive ttl means the entry never expires.
func New(key string, value any, ttl time.Duration, tags []string, size int64) *Entry {
	now := time.Now()
	e := &Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		SizeBytes:    size,
	}

	if len(tags) > 0 {
		e.Tags = slices.Clone(tags)
	}

	if ttl > 0 {
		expiry := now.Add(ttl)
		e.ExpiresAt = &expiry
	}

	return e
}

// IsExpired returns true if the entry has expired
func (e *Entry) IsExpired() bool {
	return e.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the entry is expired at the given instant
func (e *Entry) ExpiredAt(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return !now.Before(*e.ExpiresAt)
}

// TTL returns the time remaining until expiration
// Returns 0 if the entry has no expiration or has already expired
func (e *Entry) TTL() time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}

	remaining := time.Until(*e.ExpiresAt)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// HasExpiry returns true if the entry has an expiration time set
func (e *Entry) HasExpiry() bool {
	return e.ExpiresAt != nil
}

// HasTag reports whether the entry carries any of the given tags
func (e *Entry) HasTag(tags ...string) bool {
	for _, tag := range tags {
		if slices.Contains(e.Tags, tag) {
			return true
		}
	}
	return false
}

// Touch records a read hit
func (e *Entry) Touch() {
	e.AccessCount++
	e.LastAccessed = time.Now()
}

// Age returns how long ago this entry was created
func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// String returns a string representation of the entry (for debugging)
func (e *Entry) String() string {
	status := "Entry{" + e.Key + ", "
	if e.ExpiresAt == nil {
		status += "no-expiry}"
	} else {
		status += "expires: " + e.ExpiresAt.Format(time.RFC3339) + "}"
	}
	return status
}
