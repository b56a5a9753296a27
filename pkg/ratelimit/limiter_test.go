package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate, burst float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rate, burst)
	rl.now = clock.Now
	rl.lastRefill = clock.Now()
	return rl, clock
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	tests := []struct {
		name             string
		rate, burst      float64
		wantRate, wantBu float64
	}{
		{"zero values", 0, 0, 10, 20},
		{"burst defaults to 2x", 5, 0, 5, 10},
		{"burst below rate raised", 10, 3, 10, 10},
		{"explicit", 2, 4, 2, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(tt.rate, tt.burst)
			if rl.rate != tt.wantRate || rl.burst != tt.wantBu {
				t.Errorf("got rate=%v burst=%v, want %v/%v", rl.rate, rl.burst, tt.wantRate, tt.wantBu)
			}
			if rl.Tokens() != tt.wantBu {
				t.Errorf("limiter must start full, got %v", rl.Tokens())
			}
		})
	}
}

func TestRateLimiter_AllowAndRefill(t *testing.T) {
	rl, clock := newTestLimiter(2, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("burst token %d must be available", i)
		}
	}
	if rl.Allow() {
		t.Fatal("empty bucket must reject")
	}

	clock.Advance(500 * time.Millisecond)
	if !rl.Allow() {
		t.Error("one token must refill after 0.5s at 2/s")
	}

	clock.Advance(time.Hour)
	if got := rl.Tokens(); got != 3 {
		t.Errorf("refill must be capped at burst, got %v", got)
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first token must be immediate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait must return on context deadline")
	}
}

func TestRateLimiter_WaitBlocksUntilToken(t *testing.T) {
	rl := NewRateLimiter(50, 1)
	rl.Allow()

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Wait must block until the next token")
	}
}

func TestKeyedLimiter(t *testing.T) {
	kl := NewKeyedLimiter(1, 2)

	if !kl.Allow("10.0.0.1") || !kl.Allow("10.0.0.1") {
		t.Fatal("burst must be available per key")
	}
	if kl.Allow("10.0.0.1") {
		t.Error("third request must be limited")
	}
	if !kl.Allow("10.0.0.2") {
		t.Error("other keys must have their own bucket")
	}
	if kl.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", kl.Len())
	}
}

func TestKeyedLimiter_CleanupRemovesFullBuckets(t *testing.T) {
	kl := NewKeyedLimiter(1, 2)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	for _, key := range []string{"a", "b"} {
		rl := kl.Get(key)
		rl.now = clock.Now
		rl.lastRefill = clock.Now()
	}
	kl.Allow("a")

	if removed := kl.Cleanup(); removed != 1 || kl.Len() != 1 {
		t.Fatalf("only untouched bucket must be removed, removed=%d len=%d", removed, kl.Len())
	}

	clock.Advance(5 * time.Second)
	if removed := kl.Cleanup(); removed != 1 || kl.Len() != 0 {
		t.Errorf("refilled bucket must be removed, removed=%d len=%d", removed, kl.Len())
	}
}

func BenchmarkRateLimiter_Allow(b *testing.B) {
	rl := NewRateLimiter(1e9, 1e9)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Allow()
	}
}
