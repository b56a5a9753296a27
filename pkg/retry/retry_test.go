package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConfig_Delay_Bounds(t *testing.T) {
	cfg := BreakerConfig()

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second}, // 64s упирается в потолок
		{10, 60 * time.Second},
		{2000, 60 * time.Second},
	}

	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			d := cfg.Delay(tt.attempt)
			lo := time.Duration(float64(tt.base) * 0.8)
			hi := time.Duration(float64(tt.base) * 1.2)
			if d < lo || d > hi {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v]", tt.attempt, d, lo, hi)
			}
		}
	}
}

func TestConfig_Delay_DeterministicJitter(t *testing.T) {
	cfg := BreakerConfig()

	cfg.Rand = func() float64 { return 0.5 } // jitter = 0
	if d := cfg.Delay(0); d != time.Second {
		t.Errorf("expected exactly 1s without jitter, got %v", d)
	}

	cfg.Rand = func() float64 { return 0 } // -20%
	if d := cfg.Delay(0); d != 800*time.Millisecond {
		t.Errorf("expected 800ms at minimum jitter, got %v", d)
	}

	cfg.Rand = func() float64 { return 0.999999 }
	if d := cfg.Delay(20); d > 72*time.Second {
		t.Errorf("delay must never exceed 72s, got %v", d)
	}
}

func TestConfig_Delay_NegativeAttempt(t *testing.T) {
	cfg := BreakerConfig()
	cfg.JitterFactor = 0
	if d := cfg.Delay(-3); d != time.Second {
		t.Errorf("expected InitialDelay for negative attempt, got %v", d)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	cfg := Config{MaxRetries: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ReturnsLastError(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	}, cfg)

	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond}
	base := errors.New("invalid input")

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return Permanent(base)
	}, cfg)

	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error {
		t.Fatal("operation must not run with cancelled context")
		return nil
	}, DefaultConfig())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := Config{MaxRetries: 2, InitialDelay: time.Millisecond}

	calls := 0
	v, err := DoWithResult(context.Background(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("first fails")
		}
		return 42, nil
	}, cfg)

	if err != nil || v != 42 {
		t.Fatalf("expected 42, nil; got %d, %v", v, err)
	}
}

func TestRetryIfNotContext(t *testing.T) {
	if RetryIfNotContext(context.DeadlineExceeded) {
		t.Error("deadline exceeded must not be retried")
	}
	if !RetryIfNotContext(errors.New("db down")) {
		t.Error("ordinary error should be retried")
	}
}
