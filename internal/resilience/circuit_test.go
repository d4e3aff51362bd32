package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("redis: connection refused")

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return errBackend })
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	if err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || cb.State() != CircuitClosed {
		t.Errorf("calls=%d state=%s", calls, cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	tripBreaker(cb, 3)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	tripBreaker(cb, 2)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	tripBreaker(cb, 2)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after interleaved success, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }
	tripBreaker(cb, 2)

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }
	tripBreaker(cb, 2)

	now = now.Add(200 * time.Millisecond)
	tripBreaker(cb, 1)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_ShouldTripAndStateChange(t *testing.T) {
	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       func(err error) bool { return errors.Is(err, errBackend) },
		OnStateChange:    func(_, to CircuitState) { transitions = append(transitions, to) },
	})

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("cache miss") })
	if cb.State() != CircuitClosed {
		t.Fatalf("non-tripping error opened the circuit")
	}

	tripBreaker(cb, 1)
	cb.Reset()
	if len(transitions) != 2 || transitions[0] != CircuitOpen || transitions[1] != CircuitClosed {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestExecuteVal(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	v, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) { return "graph", nil })
	if err != nil || v != "graph" {
		t.Fatalf("got %q, %v", v, err)
	}

	tripBreaker(cb, 1)
	v, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) { return "never", nil })
	if !errors.Is(err, ErrCircuitOpen) || v != "" {
		t.Errorf("expected open circuit rejection, got %q, %v", v, err)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errBackend
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	for state, want := range map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d: expected %q, got %q", state, want, got)
		}
	}
}

func TestStateLogger_DoesNotPanic(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "graph.redis",
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange:    StateLogger("graph.redis"),
	})
	tripBreaker(cb, 1)
	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}
