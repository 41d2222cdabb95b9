package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRateLimiter_Allow(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	allowed, remaining, _, err := rl.Allow(ctx, "key-a", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allowed to be true")
	}
	if remaining != 2 {
		t.Errorf("expected remaining 2, got %d", remaining)
	}

	rl.Allow(ctx, "key-a", 3)
	rl.Allow(ctx, "key-a", 3)

	allowed, remaining, _, err = rl.Allow(ctx, "key-a", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected allowed to be false after limit exceeded")
	}
	if remaining != 0 {
		t.Errorf("expected remaining 0, got %d", remaining)
	}
}

func TestInMemoryRateLimiter_DifferentCallers(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	rl.Allow(ctx, "key-a", 1)

	allowed, _, _, _ := rl.Allow(ctx, "key-a", 1)
	if allowed {
		t.Error("key-a should be rate limited")
	}

	allowed, _, _, _ = rl.Allow(ctx, "key-b", 1)
	if !allowed {
		t.Error("key-b should not be rate limited")
	}
}

func TestInMemoryRateLimiter_ResetTime(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	_, _, resetAt, err := rl.Allow(ctx, "key-a", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Reset time should be approximately 1 minute from now
	expectedReset := time.Now().Add(time.Minute)
	diff := resetAt.Sub(expectedReset)
	if diff < -time.Second || diff > time.Second {
		t.Errorf("resetAt should be ~1 minute from now, got diff %v", diff)
	}
}

func TestInMemoryRateLimiter_RemainingCount(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()
	limit := 5

	for i := 0; i < limit; i++ {
		allowed, remaining, _, _ := rl.Allow(ctx, "key-a", limit)
		expectedRemaining := limit - i - 1

		if !allowed && i < limit {
			t.Errorf("request %d should be allowed", i)
		}
		if remaining != expectedRemaining {
			t.Errorf("request %d: remaining = %d, want %d", i, remaining, expectedRemaining)
		}
	}

	allowed, remaining, _, _ := rl.Allow(ctx, "key-a", limit)
	if allowed {
		t.Error("request after limit should be denied")
	}
	if remaining != 0 {
		t.Errorf("remaining after limit = %d, want 0", remaining)
	}
}

func TestInMemoryRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	done := make(chan bool)
	limit := 100

	for i := 0; i < 10; i++ {
		go func(caller string) {
			for j := 0; j < 20; j++ {
				rl.Allow(ctx, caller, limit)
			}
			done <- true
		}("key-a")
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	// 200 attempts against a limit of 100
	allowed, _, _, _ := rl.Allow(ctx, "key-a", limit)
	if allowed {
		t.Error("should be rate limited after concurrent access")
	}
}

func TestInMemoryRateLimiter_ZeroLimit(t *testing.T) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	allowed, remaining, _, _ := rl.Allow(ctx, "key-a", 0)
	if allowed {
		t.Error("zero limit should deny all requests")
	}
	if remaining != 0 {
		t.Errorf("remaining with zero limit = %d, want 0", remaining)
	}
}
