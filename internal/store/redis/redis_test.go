package redis

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	return New(NewDefaultConfig(client)), mr
}

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"string", "hello", "hello"},
		{"int", 7, int64(7)},
		{"map", map[string]any{"uid": "123", "verified": true}, map[string]any{"uid": "123", "verified": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !s.Set(ctx, tt.name, tt.value, time.Hour, nil) {
				t.Fatal("Expected Set to succeed")
			}
			got, ok := s.Get(ctx, tt.name)
			if !ok {
				t.Fatal("Expected hit")
			}
			if !equal(got, tt.want) {
				t.Errorf("Got %#v, want %#v", got, tt.want)
			}
		})
	}

	if !mr.Exists(DefaultKeyPrefix + "string") {
		t.Error("Expected key to be stored under the prefix")
	}
}

func TestGetDecodesForeignEncodings(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	mr.Set(DefaultKeyPrefix+"json", `{"step":2}`)
	mr.Set(DefaultKeyPrefix+"raw", "just text")

	v, ok := s.Get(ctx, "json")
	if !ok || !equal(v, map[string]any{"step": float64(2)}) {
		t.Errorf("Expected JSON decode, got %#v", v)
	}

	v, ok = s.Get(ctx, "raw")
	if !ok || v != "just text" {
		t.Errorf("Expected raw string, got %#v", v)
	}
}

func TestNativeExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	s.Set(ctx, "temp:1", "x", 5*time.Minute, []string{"temp"})

	if ttl := mr.TTL(DefaultKeyPrefix + "temp:1"); ttl != 5*time.Minute {
		t.Errorf("Expected 5m TTL on key, got %v", ttl)
	}
	if ttl := mr.TTL(DefaultKeyPrefix + "tag:temp"); ttl != 5*time.Minute {
		t.Errorf("Expected tag set to share the TTL, got %v", ttl)
	}

	mr.FastForward(5 * time.Minute)

	if _, ok := s.Get(ctx, "temp:1"); ok {
		t.Error("Expected expired key to miss")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	s.Set(ctx, "k", "v", 0, nil)
	if !s.Delete(ctx, "k") {
		t.Error("Expected delete of existing key to report true")
	}
	if s.Delete(ctx, "k") {
		t.Error("Expected delete of missing key to report false")
	}
}

func TestClearByTags(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	s.Set(ctx, "user:1", "a", 0, []string{"user_data"})
	s.Set(ctx, "user:2", "b", 0, []string{"user_data", "vip"})
	s.Set(ctx, "session:1", "c", 0, []string{"session_data"})

	if got := s.ClearByTags(ctx, []string{"user_data", "vip"}); got != 2 {
		t.Errorf("Expected 2 distinct keys removed, got %d", got)
	}
	if mr.Exists(DefaultKeyPrefix+"tag:user_data") || mr.Exists(DefaultKeyPrefix+"tag:vip") {
		t.Error("Expected tag sets to be removed")
	}
	if _, ok := s.Get(ctx, "session:1"); !ok {
		t.Error("Entry without the tag should survive")
	}
	if got := s.ClearByTags(ctx, []string{"user_data"}); got != 0 {
		t.Errorf("Expected 0 on second clear, got %d", got)
	}
}

func TestKeysByPatternAndClear(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	s.Set(ctx, "user:1", "a", 0, []string{"user_data"})
	s.Set(ctx, "user:2", "b", 0, nil)
	s.Set(ctx, "config:x", "c", 0, nil)
	mr.Lpush(DefaultKeyPrefix+"queue:follow_ups:priority_2", "{}")

	keys := s.KeysByPattern(ctx, "user:*")
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"user:1", "user:2"}) {
		t.Errorf("Unexpected keys %v", keys)
	}

	if stats := s.Stats(ctx); stats.EntryCount != 3 {
		t.Errorf("Expected 3 entries excluding tag sets and queue keys, got %d", stats.EntryCount)
	}

	s.Clear(ctx)

	if len(s.KeysByPattern(ctx, "*")) != 0 {
		t.Error("Expected no keys after Clear")
	}
	if mr.Exists(DefaultKeyPrefix + "tag:user_data") {
		t.Error("Expected Clear to drop tag sets")
	}
	if !mr.Exists(DefaultKeyPrefix + "queue:follow_ups:priority_2") {
		t.Error("Clear must not touch the reserved queue namespace")
	}
}

func TestStatsCounters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	s.Set(ctx, "k", "v", 0, nil)
	s.Get(ctx, "k")
	s.Get(ctx, "missing")
	s.Delete(ctx, "k")

	stats := s.Stats(ctx)
	if stats.Sets != 1 || stats.Hits != 1 || stats.Misses != 1 || stats.Deletes != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestDegradesWhenServerStops(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Expected ping to succeed: %v", err)
	}
	s.Set(ctx, "k", "v", 0, nil)

	mr.Close()

	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Expected miss when server is down")
	}
	if s.Set(ctx, "k", "v", 0, nil) {
		t.Error("Expected Set to report false when server is down")
	}
	if s.Delete(ctx, "k") {
		t.Error("Expected Delete to report false when server is down")
	}
	if n := s.ClearByTags(ctx, []string{"x"}); n != 0 {
		t.Errorf("Expected 0 from ClearByTags, got %d", n)
	}
	if keys := s.KeysByPattern(ctx, "*"); len(keys) != 0 {
		t.Errorf("Expected no keys, got %v", keys)
	}
	s.Clear(ctx)

	if s.Connected() {
		t.Error("Expected store to report disconnected")
	}
}

func TestNilClient(t *testing.T) {
	ctx := context.Background()
	s := New(NewDefaultConfig(nil))

	if s.Set(ctx, "k", "v", 0, nil) {
		t.Error("Expected Set to fail without a client")
	}
	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Expected miss without a client")
	}
	if s.Connected() {
		t.Error("Expected disconnected without a client")
	}
	if stats := s.Stats(ctx); stats.Misses != 1 {
		t.Errorf("Expected the miss to be counted, got %+v", stats)
	}
}

func TestParseUsedMemory(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\n"
	if got := parseUsedMemory(info); got != 1048576 {
		t.Errorf("Expected 1048576, got %d", got)
	}
	if got := parseUsedMemory("# Memory\r\n"); got != 0 {
		t.Errorf("Expected 0 for missing field, got %d", got)
	}
}

func equal(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			if bm[k] != v {
				return false
			}
		}
		return true
	}
	return a == b
}
