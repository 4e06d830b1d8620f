package entry

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ttl := 10 * time.Second

	entry := New("user:1", "test-value", ttl, []string{"user_data"}, 12)

	if entry.Value != "test-value" {
		t.Fatalf("Expected value %v, got %v", "test-value", entry.Value)
	}

	if entry.Key != "user:1" {
		t.Fatalf("Expected key user:1, got %s", entry.Key)
	}

	if entry.ExpiresAt == nil {
		t.Fatal("Expected ExpiresAt to be set")
	}

	expectedExpiry := time.Now().Add(ttl)
	if entry.ExpiresAt.Before(expectedExpiry.Add(-time.Second)) ||
		entry.ExpiresAt.After(expectedExpiry.Add(time.Second)) {
		t.Fatal("ExpiresAt not set correctly")
	}

	if entry.SizeBytes != 12 {
		t.Fatalf("Expected size 12, got %d", entry.SizeBytes)
	}

	if entry.LastAccessed.IsZero() || entry.CreatedAt.IsZero() {
		t.Fatal("Expected timestamps to be set")
	}
}

func TestNewWithoutTTL(t *testing.T) {
	entry := New("k", 42, 0, nil, 8)

	if entry.ExpiresAt != nil {
		t.Fatal("Expected ExpiresAt to be nil for no TTL")
	}
	if entry.HasExpiry() {
		t.Fatal("Expected HasExpiry to be false")
	}
	if entry.IsExpired() {
		t.Fatal("Entry without TTL should never expire")
	}
	if entry.TTL() != 0 {
		t.Fatalf("Expected zero TTL, got %v", entry.TTL())
	}
}

func TestIsExpired(t *testing.T) {
	entry := New("k", "v", time.Hour, nil, 1)
	if entry.IsExpired() {
		t.Fatal("Entry should not be expired yet")
	}

	past := time.Now().Add(-time.Millisecond)
	entry.ExpiresAt = &past
	if !entry.IsExpired() {
		t.Fatal("Entry should be expired")
	}
	if entry.TTL() != 0 {
		t.Fatalf("Expected zero TTL for expired entry, got %v", entry.TTL())
	}
}

func TestTagsAreCopied(t *testing.T) {
	tags := []string{"a", "b"}
	entry := New("k", "v", 0, tags, 1)
	tags[0] = "mutated"

	if !entry.HasTag("a") {
		t.Fatal("Entry tags must not alias the caller's slice")
	}
}

func TestHasTag(t *testing.T) {
	entry := New("k", "v", 0, []string{"user_data", "vip"}, 1)

	tests := []struct {
		tags []string
		want bool
	}{
		{[]string{"vip"}, true},
		{[]string{"missing", "user_data"}, true},
		{[]string{"missing"}, false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := entry.HasTag(tt.tags...); got != tt.want {
			t.Errorf("HasTag(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestTouch(t *testing.T) {
	entry := New("k", "v", 0, nil, 1)
	before := entry.LastAccessed

	time.Sleep(time.Millisecond)
	entry.Touch()
	entry.Touch()

	if entry.AccessCount != 2 {
		t.Fatalf("Expected access count 2, got %d", entry.AccessCount)
	}
	if !entry.LastAccessed.After(before) {
		t.Fatal("Expected LastAccessed to advance")
	}
}
