package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(cfg, testLogger())
	cb.now = clock.now
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_AllowsRequestsWhenClosed(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Second})
	trip(cb, 3)
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 5 * time.Second})
	trip(cb, 2)
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 30 * time.Second})
	trip(cb, 2)
	clock.advance(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("should allow probe after timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		succeed bool
		want    State
	}{
		{"successful probe closes", true, StateClosed},
		{"failed probe reopens", false, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Second})
			trip(cb, 2)
			clock.advance(2 * time.Second)
			cb.Allow()
			if tt.succeed {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.GetState() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, cb.GetState())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 3})
	trip(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset failure count")
	}
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Second, HalfOpenMaxRequests: 1})
	trip(cb, 2)
	clock.advance(2 * time.Second)
	if !cb.Allow() {
		t.Fatal("first half-open request should be allowed")
	}
	if cb.Allow() {
		t.Fatal("second half-open request should be rejected")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 5 * time.Second})
	trip(cb, 2)
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed after reset, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "stats-test", MaxFailures: 5, RecoveryTimeout: 5 * time.Second})
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()
	stats := cb.Stats()
	if stats.Name != "stats-test" {
		t.Fatalf("name = %s", stats.Name)
	}
	if stats.TotalRequests != 3 {
		t.Fatalf("total_requests = %d", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 2 {
		t.Fatalf("total_successes = %d", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 1 {
		t.Fatalf("total_failures = %d", stats.TotalFailures)
	}
	if stats.LastFailure == "" {
		t.Fatal("last_failure should be set")
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("channel-layer")
	if cfg.MaxFailures != 5 {
		t.Fatalf("max_failures = %d", cfg.MaxFailures)
	}
	if cfg.RecoveryTimeout != 30*time.Second {
		t.Fatalf("recovery_timeout = %v", cfg.RecoveryTimeout)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

// --- ProtectedPublisher ---

type mockPublisher struct {
	err   error
	calls int
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	m.calls++
	return m.err
}

func TestProtectedPublisher_PassesThrough(t *testing.T) {
	mock := &mockPublisher{}
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 5})
	pp := NewProtectedPublisher(mock, cb, testLogger())
	if err := pp.Publish(context.Background(), "notifications_1", []byte("{}")); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if mock.calls != 1 {
		t.Fatalf("calls = %d", mock.calls)
	}
	if cb.Stats().TotalSuccesses != 1 {
		t.Fatal("expected 1 success")
	}
}

func TestProtectedPublisher_FailFastWhenOpen(t *testing.T) {
	mock := &mockPublisher{err: errors.New("down")}
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute})
	pp := NewProtectedPublisher(mock, cb, testLogger())
	ctx := context.Background()

	_ = pp.Publish(ctx, "notifications_1", nil)
	_ = pp.Publish(ctx, "notifications_1", nil)
	mock.calls = 0

	err := pp.Publish(ctx, "notifications_1", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if mock.calls != 0 {
		t.Fatalf("publisher called %d times when circuit open", mock.calls)
	}
}

func TestProtectedPublisher_FullLifecycle(t *testing.T) {
	mock := &mockPublisher{}
	cb, clock := newTestBreaker(Config{Name: "lifecycle", MaxFailures: 3, RecoveryTimeout: 30 * time.Second})
	pp := NewProtectedPublisher(mock, cb, testLogger())
	ctx := context.Background()

	if err := pp.Publish(ctx, "c", nil); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	mock.err = errors.New("redis down")
	for i := 0; i < 3; i++ {
		_ = pp.Publish(ctx, "c", nil)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	clock.advance(31 * time.Second)
	mock.err = nil
	if err := pp.Publish(ctx, "c", nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	if pp.Breaker() != cb {
		t.Fatal("Breaker should expose the wrapped breaker")
	}
}
