package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap/zaptest"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastPolicy(3), zaptest.NewLogger(t).Sugar())

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errTemp), RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastPolicy(3), zaptest.NewLogger(t).Sugar())

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, nil)
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteStopsRetryingWhenContextEnds(t *testing.T) {
	exec := NewExecutor(Policy{MaxAttempts: 5, BaseDelay: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(ctx, "op", func(context.Context) error {
		attempts++
		return errTemp
	}, func(error) ErrorClassification { return ErrorClassification{Retryable: true} })
	if !errors.Is(err, errTemp) || attempts != 1 {
		t.Fatalf("expected last error after one attempt, got %v attempts=%d", err, attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	policy := fastPolicy(1)
	policy.Breaker = &BreakerPolicy{MinRequests: 2, FailureRatio: 0.5, OpenFor: 50 * time.Millisecond}
	exec := NewExecutor(policy, zaptest.NewLogger(t).Sugar())

	errTemp := errors.New("temporary")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, nil)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}

	if err := exec.Execute(context.Background(), "other", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("expected separate breaker per operation, got %v", err)
	}
}

func TestExecuteIgnoresFailuresNotRecorded(t *testing.T) {
	policy := fastPolicy(1)
	policy.Breaker = &BreakerPolicy{MinRequests: 1, FailureRatio: 0.1, OpenFor: time.Minute}
	exec := NewExecutor(policy, nil)

	notFound := errors.New("404")
	ignore := func(error) ErrorClassification { return ErrorClassification{} }
	for i := 0; i < 3; i++ {
		if err := exec.Execute(context.Background(), "get", func(context.Context) error { return notFound }, ignore); !errors.Is(err, notFound) {
			t.Fatalf("expected client error passed through, got %v", err)
		}
	}
}

func TestPolicyDelayDoublesUpToMax(t *testing.T) {
	p := Policy{BaseDelay: 250 * time.Millisecond, MaxDelay: time.Second}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, time.Second}
	for i, d := range want {
		if got := p.delay(i + 1); got != d {
			t.Fatalf("delay(%d) = %s, want %s", i+1, got, d)
		}
	}
}

func TestCollaboratorPolicies(t *testing.T) {
	if p := OllamaPolicy(0.5); p.RatePerSecond != 0.5 || p.RateBurst != 1 || p.Breaker == nil {
		t.Fatalf("unexpected ollama policy %+v", p)
	}
	if p := PaperlessPolicy(); p.RatePerSecond != 0 || p.MaxAttempts < 2 {
		t.Fatalf("unexpected paperless policy %+v", p)
	}
	if p := (Policy{}).withDefaults(); p.MaxAttempts != 1 || p.Breaker != nil {
		t.Fatalf("unexpected zero policy defaults %+v", p)
	}
}

func TestExecuteRateLimitsPerOperation(t *testing.T) {
	exec := NewExecutor(Policy{MaxAttempts: 1, RatePerSecond: 20, RateBurst: 1}, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := exec.Execute(context.Background(), "limited", func(context.Context) error { return nil }, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// burst 1 at 20/s: the 2nd and 3rd calls wait ~50ms each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected limiter to delay calls, elapsed %s", elapsed)
	}
}

func TestExecuteRateLimitHonoursContext(t *testing.T) {
	exec := NewExecutor(Policy{MaxAttempts: 1, RatePerSecond: 0.001, RateBurst: 1}, nil)
	noop := func(context.Context) error { return nil }
	if err := exec.Execute(context.Background(), "slow", noop, nil); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := exec.Execute(ctx, "slow", noop, nil); err == nil {
		t.Fatalf("expected limiter wait to fail")
	}
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "throttled", err: &StatusError{Service: "svc", StatusCode: 429}, retryable: true, record: true},
		{name: "server error", err: &StatusError{Service: "svc", StatusCode: 503}, retryable: true, record: true},
		{name: "client error", err: &StatusError{Service: "svc", StatusCode: 400}, retryable: false, record: false},
		{name: "cancelled", err: context.Canceled, retryable: false, record: false},
		{name: "open breaker", err: gobreaker.ErrOpenState, retryable: true, record: true},
		{name: "other", err: errors.New("boom"), retryable: false, record: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := ClassifyHTTP(tc.err)
			if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
				t.Fatalf("unexpected classification %+v", class)
			}
		})
	}
}
