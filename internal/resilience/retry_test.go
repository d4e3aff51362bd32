package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterConflicts(t *testing.T) {
	conflict := errors.New("could not serialize access")
	cfg := fastRetry(4)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, conflict) }

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return conflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"))
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", ex.Attempts)
	}
	if !IsTransient(err) {
		t.Error("exhausted error should still unwrap to the transient cause")
	}
}

func TestDo_PermanentError_NoRetry(t *testing.T) {
	var calls int
	permanent := errors.New("validation: unknown category")
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Fatalf("expected the permanent error unchanged, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Second, MaxBackoff: time.Second}

	var calls int
	start := time.Now()
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("busy"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retry loop slept after cancellation")
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("busy"))
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected retries [1 2], got %v", attempts)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetry(3), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("busy"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), fastRetry(2), func(_ context.Context) (int, error) {
		return 42, errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("expected zero value, got %d", val)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{JitterFraction: -1})
	def := DefaultRetryConfig()
	if cfg.MaxAttempts != def.MaxAttempts || cfg.InitialBackoff != def.InitialBackoff || cfg.MaxBackoff != def.MaxBackoff {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.JitterFraction != 0 {
		t.Errorf("negative jitter should clamp to 0, got %v", cfg.JitterFraction)
	}
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Multiplier: 2}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for attempt, w := range want {
		if got := computeBackoff(attempt, cfg); got != w {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}

	cfg.JitterFraction = 0.5
	for i := 0; i < 50; i++ {
		got := computeBackoff(0, cfg)
		if got < 5*time.Millisecond || got > 15*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(7, 5, 100)
	if cfg.MaxAttempts != 7 || cfg.InitialBackoff != 5*time.Millisecond || cfg.MaxBackoff != 100*time.Millisecond {
		t.Errorf("unexpected config: %+v", cfg)
	}

	cfg = FromRetryConfig(0, 0, 0)
	if cfg.MaxAttempts != DefaultRetryConfig().MaxAttempts {
		t.Errorf("zero values should keep defaults, got %+v", cfg)
	}
}
