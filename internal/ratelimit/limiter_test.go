package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to the Redis instance named by TEST_REDIS_ADDR.
// Tests that call it are skipped when no test Redis is configured or
// reachable.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return NewLimiter(client)
}

// testRule keeps windows short so keys expire quickly between runs, and uses
// a random identifier per test so runs never collide.
func testRule(limit int) (Rule, string) {
	return Rule{Key: "rl:test:", Limit: limit, Window: 5 * time.Second}, uuid.New().String()
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule, id := testRule(5)

	for i := 0; i < rule.Limit; i++ {
		allowed, err := l.Allow(ctx, id, rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d of %d must be allowed", i+1, rule.Limit)
		}
	}
}

func TestAllowBlocksOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule, id := testRule(3)

	for i := 0; i < rule.Limit; i++ {
		if allowed, err := l.Allow(ctx, id, rule); err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i+1, allowed, err)
		}
	}

	allowed, err := l.Allow(ctx, id, rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("request over the limit must be blocked")
	}
}

func TestAllowIsolatesIdentifiers(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule, id := testRule(1)

	if allowed, _ := l.Allow(ctx, id, rule); !allowed {
		t.Fatal("first request must be allowed")
	}
	if allowed, _ := l.Allow(ctx, id, rule); allowed {
		t.Fatal("second request for the same identifier must be blocked")
	}

	other := fmt.Sprintf("%s-other", id)
	if allowed, _ := l.Allow(ctx, other, rule); !allowed {
		t.Error("a different identifier must have its own counter")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule, id := testRule(5)

	remaining, err := l.Remaining(ctx, id, rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != rule.Limit {
		t.Fatalf("expected full limit %d before any requests, got %d", rule.Limit, remaining)
	}

	for i := 0; i < 2; i++ {
		if _, err := l.Allow(ctx, id, rule); err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
	}

	remaining, err = l.Remaining(ctx, id, rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != rule.Limit-2 {
		t.Errorf("expected %d remaining, got %d", rule.Limit-2, remaining)
	}
}

func TestAllowFailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	l := NewLimiter(client)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	allowed, err := l.Allow(ctx, "anyone", RuleMessage)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if !allowed {
		t.Error("a Redis outage must not block traffic")
	}
}
