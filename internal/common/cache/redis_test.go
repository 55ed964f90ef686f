package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("connect miniredis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheBasicOps(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	if v, err := c.Get(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("missing key should read as empty, got %q err=%v", v, err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := c.Get(ctx, "k"); v != "v" {
		t.Fatalf("expected v, got %q", v)
	}
	if ttl, _ := c.TTL(ctx, "k"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	ok, err := c.SetNX(ctx, "k", "other", 0)
	if err != nil || ok {
		t.Fatalf("SetNX on existing key should fail, ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if v, _ := c.Get(ctx, "k"); v != "" {
		t.Fatalf("expected expiry, got %q", v)
	}
	if err := c.Set(ctx, "a", "1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Del(ctx, "a"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if mr.Exists("a") {
		t.Fatalf("key should be deleted")
	}
	if err := c.Del(ctx); err != nil {
		t.Fatalf("empty del should be a no-op: %v", err)
	}
}

func TestNewRedisCacheRejectsBadConfig(t *testing.T) {
	if _, err := NewRedisCacheWithConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewRedisCache(""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
