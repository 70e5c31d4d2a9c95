package resilience

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor guards calls to one collaborator. Each operation name gets its own
// rate limiter and circuit breaker.
type Executor struct {
	policy Policy
	logger *zap.SugaredLogger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
	limiters map[string]*rate.Limiter
}

func NewExecutor(policy Policy, logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{
		policy:   policy.withDefaults(),
		logger:   logger.Named("resilience"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Execute runs fn within the operation's breaker and retry budget. A nil
// classifier treats every error as final.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify ErrorClassifier) error {
	if fn == nil {
		return errors.New("resilience: nil operation")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = finalFailure
	}

	breaker := e.breaker(op, classify)
	if breaker == nil {
		return e.run(ctx, op, fn, classify)
	}
	_, err := breaker.Execute(func() (struct{}, error) {
		return struct{}{}, e.run(ctx, op, fn, classify)
	})
	return err
}

func (e *Executor) run(ctx context.Context, op string, fn func(context.Context) error, classify ErrorClassifier) error {
	limiter := e.limiter(op)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return errors.Wrapf(err, "rate limit wait for %s", op)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= e.policy.MaxAttempts || !classify(err).Retryable {
			return err
		}

		delay := e.policy.delay(attempt)
		e.logger.Warnw("call failed, retrying",
			"operation", op,
			"attempt", attempt,
			"max_attempts", e.policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if !sleep(ctx, delay) {
			return err
		}
	}
}

func (e *Executor) limiter(op string) *rate.Limiter {
	if e.policy.RatePerSecond <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[op]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.policy.RatePerSecond), e.policy.RateBurst)
		e.limiters[op] = l
	}
	return l
}

func (e *Executor) breaker(op string, classify ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	bp := e.policy.Breaker
	if bp == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[op]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: 1,
		Timeout:     bp.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bp.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bp.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warnw("circuit breaker state change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[op] = cb
	return cb
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func finalFailure(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}

// sleep waits for d and reports false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
