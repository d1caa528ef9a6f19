package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream unavailable")

func failing() error { return errDownstream }
func succeeding() error { return nil }

func newTestBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{
		MaxRequests:      1,
		Timeout:          timeout,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errDownstream) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("got state %v, want open", cb.State())
	}

	calls := 0
	err := cb.Execute(ctx, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Error("open breaker still invoked the function")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	if cb.State() != StateClosed {
		t.Errorf("got state %v, want closed", cb.State())
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failing)
	}
	if cb.State() != StateOpen {
		t.Fatalf("got state %v, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("got state %v, want half-open", cb.State())
	}

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("closed after one probe, want half-open")
	}

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateClosed {
		t.Errorf("got state %v, want closed", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failing)
	}
	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(ctx, failing); !errors.Is(err, errDownstream) {
		t.Fatal(err)
	}
	if cb.State() != StateOpen {
		t.Errorf("got state %v, want open", cb.State())
	}
}

func TestBreakerIntervalResetsWindow(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		Interval:         10 * time.Millisecond,
		FailureThreshold: 3,
	})
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	time.Sleep(15 * time.Millisecond)

	cb.Execute(ctx, failing)
	if cb.State() != StateClosed {
		t.Errorf("stale failures tripped the breaker: %v", cb.State())
	}
}
