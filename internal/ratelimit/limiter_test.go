package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.nowF = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, IPKey("1.1.1.1")); !ok {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, IPKey("1.1.1.1")); ok {
		t.Fatal("third hit within window should be rejected")
	}
	if ok, _ := l.Allow(ctx, FingerprintKey("1.1.1.1")); !ok {
		t.Error("fingerprint scope should not share the IP log")
	}

	now = now.Add(time.Minute + time.Second)
	if ok, _ := l.Allow(ctx, IPKey("1.1.1.1")); !ok {
		t.Error("hit after the window should be allowed")
	}
}

func TestMemoryLimiter_PruneDropsIdleKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(5, time.Minute)
	l.nowF = func() time.Time { return now }

	_, _ = l.Allow(ctx, "a")
	_, _ = l.Allow(ctx, "b")
	now = now.Add(30 * time.Second)
	_, _ = l.Allow(ctx, "b")
	now = now.Add(45 * time.Second)
	l.Prune()
	if got := l.Keys(); got != 1 {
		t.Errorf("Keys after prune = %d, want 1", got)
	}
}

func newRedisLimiter(t *testing.T, limit int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, limit, time.Minute), mr
}

func TestRedisLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t, 3)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, IPKey("1.1.1.1"))
		if err != nil || !ok {
			t.Fatalf("hit %d = %v, %v; want allowed", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, IPKey("1.1.1.1")); ok {
		t.Fatal("fourth hit should be rejected")
	}
	members, err := mr.ZMembers(redisKeyPrefix + IPKey("1.1.1.1"))
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 3 {
		t.Errorf("stored hits = %d, want 3 (rejected hit removed)", len(members))
	}
	if ttl := mr.TTL(redisKeyPrefix + IPKey("1.1.1.1")); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want (0, 1m]", ttl)
	}
	if ok, _ := l.Allow(ctx, FingerprintKey("fp1")); !ok {
		t.Error("separate key should be allowed")
	}
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLimiter(t, 1)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.nowF = func() time.Time { return now }

	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("first hit should be allowed")
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Fatal("second hit should be rejected")
	}
	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Error("hit after the window should be allowed")
	}
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t, 1)
	mr.Close()

	ok, err := l.Allow(ctx, "k")
	if err != nil {
		t.Fatalf("Allow err = %v, want nil", err)
	}
	if !ok {
		t.Error("Allow with Redis down should admit")
	}
	if err := l.Ping(ctx); err == nil {
		t.Error("Ping with Redis down should fail")
	}
}
