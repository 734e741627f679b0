package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryFixedWindow(t *testing.T) {
	ctx := context.Background()
	current := time.Unix(1_700_000_000, 0)

	l := NewMemory(2, time.Minute)
	l.now = func() time.Time { return current }

	for i, want := range []bool{true, true, false} {
		got, err := l.Allow(ctx, "k")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if got != want {
			t.Fatalf("call %d: allow = %v, want %v", i, got, want)
		}
	}

	if ok, _ := l.Allow(ctx, "other"); !ok {
		t.Fatal("keys must be independent")
	}

	current = current.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("window should have reset")
	}
}

func TestMemoryForget(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(1, time.Hour)

	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("first call must be allowed")
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Fatal("second call must be limited")
	}
	l.Forget("k")
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("forgotten key must start over")
	}
}

func TestMemoryDisabled(t *testing.T) {
	l := NewMemory(0, time.Minute)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow(context.Background(), "k"); !ok {
			t.Fatal("zero limit must allow everything")
		}
	}
}

func TestRedisSlidingWindow(t *testing.T) {
	addr := os.Getenv("CINEMATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CINEMATE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l := NewRedis(client, "cinemate:test:", 2, time.Minute)
	key := time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { _ = l.Reset(ctx, key) })

	for i, want := range []bool{true, true, false} {
		got, err := l.Allow(ctx, key)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if got != want {
			t.Fatalf("call %d: allow = %v, want %v", i, got, want)
		}
	}
}
