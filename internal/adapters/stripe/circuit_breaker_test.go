package stripe

import (
	"errors"
	"sync"
	"testing"
	"time"

	gwerrors "github.com/kevin07696/payment-reconciler/pkg/errors"
)

// fakeClock lets tests move past the open timeout without sleeping
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures uint32) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:                "test",
		MaxFailures:         maxFailures,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
	})
	cb.now = clock.Now
	cb.lastStateChangeTime = clock.Now()
	return cb, clock
}

var errUnavailable = gwerrors.NewGatewayError("api_error", "gateway unavailable", gwerrors.CategorySystemError, true)

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	config := DefaultCircuitBreakerConfig()

	if config.MaxFailures != 5 {
		t.Errorf("Expected MaxFailures = 5, got %d", config.MaxFailures)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected Timeout = 30s, got %v", config.Timeout)
	}
	if config.IsFailure == nil {
		t.Error("Expected default failure classifier")
	}
}

func TestCircuitBreaker_TransitionToOpen(t *testing.T) {
	cb, _ := newTestBreaker(3)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return errUnavailable }); err != errUnavailable {
			t.Fatalf("Expected gateway error, got %v", err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected state = open after 3 failures, got %v", cb.State())
	}

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if called {
		t.Error("Expected call to be rejected while open")
	}

	gwErr, ok := gwerrors.AsGatewayError(err)
	if !ok || gwErr.Category != gwerrors.CategoryCircuitOpen {
		t.Fatalf("Expected circuit open gateway error, got %v", err)
	}
	if !gwErr.IsRetriable {
		t.Error("Expected circuit open error to be retriable")
	}
}

func TestCircuitBreaker_DeclinesDoNotOpen(t *testing.T) {
	cb, _ := newTestBreaker(2)
	declined := gwerrors.NewGatewayError("card_declined", "declined", gwerrors.CategoryDeclined, false)

	for i := 0; i < 5; i++ {
		_ = cb.Call(func() error { return declined })
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected state = closed after terminal errors, got %v", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected failures = 0, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb, clock := newTestBreaker(1)

	_ = cb.Call(func() error { return errUnavailable })
	if cb.State() != StateOpen {
		t.Fatalf("Expected state = open, got %v", cb.State())
	}

	clock.Advance(2 * time.Second)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state = closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	cb, clock := newTestBreaker(1)

	_ = cb.Call(func() error { return errUnavailable })
	clock.Advance(2 * time.Second)

	_ = cb.Call(func() error { return errUnavailable })
	if cb.State() != StateOpen {
		t.Errorf("Expected state = open after failed probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_MaxRequestsHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1)

	_ = cb.Call(func() error { return errUnavailable })
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected second half-open call to be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
}

func TestCircuitBreaker_FailureCounterReset(t *testing.T) {
	cb, _ := newTestBreaker(3)

	_ = cb.Call(func() error { return errUnavailable })
	_ = cb.Call(func() error { return errUnavailable })
	_ = cb.Call(func() error { return nil })

	if cb.Failures() != 0 {
		t.Errorf("Expected failures reset after success, got %d", cb.Failures())
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state = closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_StateString(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State %d: expected %q, got %q", tt.state, tt.expected, got)
		}
	}
}
