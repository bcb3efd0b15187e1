package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrorClassification tells the executor how to treat a failed attempt.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

// ErrorClassifier maps an error onto its classification.
type ErrorClassifier func(err error) ErrorClassification

// Executor runs operations with jittered exponential retries. Every attempt
// passes through a circuit breaker keyed by operation name, so an open
// breaker surfaces as a (retryable) attempt failure rather than ending the loop.
type Executor struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
	jitter func() float64

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithLogger attaches a logger for retry and breaker events.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor builds an executor with the normalised config.
func NewExecutor(cfg Config, opts ...ExecutorOption) *Executor {
	e := &Executor{
		cfg:      cfg.normalize(),
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		jitter:   rand.Float64,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts reports the configured attempt budget.
func (e *Executor) MaxAttempts() int {
	return e.cfg.RetryMaxAttempts
}

// Execute runs fn until it succeeds, fails with a non-retryable error or the
// attempt budget is spent. The last error is returned unchanged.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	backoff := e.cfg.RetryInitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.attempt(ctx, op, fn, classifier)
		if err == nil {
			return nil
		}

		class := classifier(err)
		if !class.Retryable || attempt >= e.cfg.RetryMaxAttempts {
			return err
		}

		wait := e.withJitter(backoff)
		e.logger.Warn("retry_attempt",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.cfg.RetryMaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
			return err
		}

		backoff = time.Duration(float64(backoff) * e.cfg.RetryMultiplier)
		if backoff > e.cfg.RetryMaxBackoff {
			backoff = e.cfg.RetryMaxBackoff
		}
	}
}

func (e *Executor) attempt(ctx context.Context, op string, fn func(context.Context) error, classifier ErrorClassifier) error {
	if !e.cfg.BreakerEnabled {
		return fn(ctx)
	}
	_, err := e.circuitBreaker(op, classifier).Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (e *Executor) withJitter(d time.Duration) time.Duration {
	if d <= 0 || e.cfg.RetryJitter == 0 {
		return d
	}
	spread := float64(d) * e.cfg.RetryJitter
	return time.Duration(float64(d) - spread + 2*spread*e.jitter())
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			e.logger.Warn("circuit_breaker_state_change",
				zap.String("operation", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = breaker
	return breaker
}

// IsCircuitOpen reports whether err was produced by an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
