package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewRedisFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	return limiter, mr
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	limiter, _ := newLimiter(t, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "ip-1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v err=%v", i+1, d, err)
		}
	}
	d, err := limiter.Allow(ctx, "ip-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %v", d.RetryAfter)
	}
	if d, _ := limiter.Allow(ctx, "ip-2"); !d.Allowed {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	limiter, mr := newLimiter(t, 1)
	mr.Close()
	d, err := limiter.Allow(context.Background(), "ip-1")
	if err == nil || d.Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for missing client")
	}
}
