package ratelimiter

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter_BurstThenBlocks(t *testing.T) {
	l := New(0.001, 1)

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("expected first token immediately, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected second wait to fail once the bucket is empty")
	}
}

func TestUnlimited_RespectsCancellation(t *testing.T) {
	if err := (Unlimited{}).Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Unlimited{}).Wait(ctx); err == nil {
		t.Fatal("expected cancelled context error")
	}
}

func newTestGate(t *testing.T, ratePerSec float64, burst int) (*RedisGate, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := time.UnixMilli(1_700_000_000_000)
	g := NewRedisGate(client, ratePerSec, burst).WithKey("test")
	g.now = func() time.Time { return clock }
	return g, &clock
}

func TestRedisGate_CapacityAndRefill(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGate(t, 1, 2)

	for i := 0; i < 2; i++ {
		allowed, err := g.Allow(ctx)
		if err != nil || !allowed {
			t.Fatalf("token %d: expected allowed, got allowed=%v err=%v", i+1, allowed, err)
		}
	}
	if allowed, _ := g.Allow(ctx); allowed {
		t.Fatal("expected third token to be rejected")
	}

	*clock = clock.Add(time.Second)
	if allowed, err := g.Allow(ctx); err != nil || !allowed {
		t.Fatalf("expected a token after one second of refill, got allowed=%v err=%v", allowed, err)
	}
}

func TestRedisGate_WaitHonoursContext(t *testing.T) {
	g, _ := newTestGate(t, 1, 1)

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("expected first wait to pass, got %v", err)
	}

	// The frozen clock never refills, so the second wait can only end by timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatal("expected wait to give up when the context expires")
	}
}
