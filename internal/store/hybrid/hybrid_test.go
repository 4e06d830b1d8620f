package hybrid

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vnykmshr/funnelcore/internal/store/memory"
	"github.com/vnykmshr/funnelcore/internal/store/redis"
)

func newTestHybrid(t *testing.T) (*Store, *redis.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	local, err := memory.New(memory.NewDefaultConfig().WithCleanupInterval(0))
	if err != nil {
		t.Fatalf("Failed to create local tier: %v", err)
	}
	remote := redis.New(redis.NewDefaultConfig(client))

	s := New(local, remote, nil)
	s.EnableRemote(true)
	t.Cleanup(func() { _ = s.Close() })

	return s, remote, mr
}

func TestWriteThrough(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newTestHybrid(t)

	if !s.Set(ctx, "user:1", "alice", time.Hour, []string{"user_data"}) {
		t.Fatal("Expected Set to succeed")
	}

	if v, ok := remote.Get(ctx, "user:1"); !ok || v != "alice" {
		t.Errorf("Expected remote tier to hold the value, got %v %v", v, ok)
	}
}

func TestReadThroughPopulatesLocal(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newTestHybrid(t)

	// Written by another process
	remote.Set(ctx, "config:welcome", "hi there", 0, nil)

	v, ok := s.Get(ctx, "config:welcome")
	if !ok || v != "hi there" {
		t.Fatalf("Expected remote hit, got %v %v", v, ok)
	}

	remoteHits := remote.Stats(ctx).Hits

	v, ok = s.Get(ctx, "config:welcome")
	if !ok || v != "hi there" {
		t.Fatalf("Expected local hit, got %v %v", v, ok)
	}
	if got := remote.Stats(ctx).Hits; got != remoteHits {
		t.Errorf("Second read should be served locally; remote hits went %d -> %d", remoteHits, got)
	}

	tiers := s.Tiers(ctx)
	if tiers[TierMemory].EntryCount != 1 {
		t.Errorf("Expected populated local entry, got %+v", tiers[TierMemory])
	}
}

func TestLocalWriteSurvivesRemoteOutage(t *testing.T) {
	ctx := context.Background()
	s, _, mr := newTestHybrid(t)

	mr.Close()

	if !s.Set(ctx, "session:abc", "state", time.Minute, nil) {
		t.Fatal("Set should succeed on the local tier alone")
	}
	if v, ok := s.Get(ctx, "session:abc"); !ok || v != "state" {
		t.Errorf("Expected read-your-own-write, got %v %v", v, ok)
	}
	if _, ok := s.Get(ctx, "session:missing"); ok {
		t.Error("Expected miss when both tiers lack the key")
	}
}

func TestDeleteAndClearByTags(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newTestHybrid(t)

	s.Set(ctx, "user:1", "a", 0, []string{"user_data"})
	s.Set(ctx, "user:2", "b", 0, []string{"user_data"})
	remote.Set(ctx, "user:3", "c", 0, []string{"user_data"})

	if got := s.ClearByTags(ctx, []string{"user_data"}); got != 5 {
		t.Errorf("Expected local 2 + remote 3, got %d", got)
	}

	s.Set(ctx, "k", "v", 0, nil)
	if !s.Delete(ctx, "k") {
		t.Error("Expected delete to report true")
	}
	if s.Delete(ctx, "k") {
		t.Error("Expected second delete to report false")
	}

	remote.Set(ctx, "remote-only", "v", 0, nil)
	if !s.Delete(ctx, "remote-only") {
		t.Error("Expected delete of remote-only key to report true")
	}
}

func TestKeysByPatternUnion(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newTestHybrid(t)

	s.Set(ctx, "user:1", "a", 0, nil)
	remote.Set(ctx, "user:2", "b", 0, nil)

	keys := s.KeysByPattern(ctx, "user:*")
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"user:1", "user:2"}) {
		t.Errorf("Unexpected keys %v", keys)
	}
}

func TestRemoteDisabled(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newTestHybrid(t)

	s.EnableRemote(false)
	remote.Set(ctx, "k", "v", 0, nil)

	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Disabled remote tier must not be read")
	}
	if s.Connected() {
		t.Error("Expected disconnected while remote is disabled")
	}
	if tiers := s.Tiers(ctx); tiers[TierRedis].Sets != 0 {
		t.Errorf("Expected zero redis stats while disabled, got %+v", tiers[TierRedis])
	}
}
