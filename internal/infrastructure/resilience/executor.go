// Package resilience bounds calls to flaky backends with retries and per-operation circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

// Class tells the executor what to do with an error: retry it in place, and whether it
// counts against the operation's breaker.
type Class struct {
	Retryable    bool
	TripsBreaker bool
}

type Classifier func(err error) Class

// StateListener is called after an operation's breaker changes state.
type StateListener func(operation, state string)

type Option func(*Executor)

func WithStateListener(fn StateListener) Option {
	return func(e *Executor) { e.onState = fn }
}

type Executor struct {
	cfg     Config
	log     *slog.Logger
	onState StateListener

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config, log *slog.Logger, opts ...Option) *Executor {
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{
		cfg:      cfg.normalize(),
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs fn, retrying errors classify marks retryable, inside the breaker for operation.
// A nil classify counts every error against the breaker and never retries.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = countAll
	}

	call := func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, op, fn, classify)
	}
	if !e.cfg.BreakerEnabled {
		_, err := call()
		return err
	}
	_, err := e.breaker(op, classify).Execute(call)
	return err
}

func (e *Executor) retry(ctx context.Context, op string, fn func(context.Context) error, classify Classifier) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil || attempt >= e.cfg.RetryMaxAttempts || !classify(err).Retryable {
			return err
		}

		wait := e.cfg.delay(attempt)
		e.log.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if !sleep(ctx, wait) {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// breaker returns the operation's breaker. The classifier of the first call is kept.
func (e *Executor) breaker(op string, classify Classifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[op]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: e.cfg.readyToTrip,
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).TripsBreaker
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.onState != nil {
				e.onState(name, to.String())
			}
		},
	})
	e.breakers[op] = cb
	return cb
}

// State reports the breaker state of operation; operations never executed are "closed".
func (e *Executor) State(operation string) string {
	e.mu.Lock()
	cb, ok := e.breakers[operation]
	e.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func countAll(error) Class {
	return Class{TripsBreaker: true}
}

// ClassifyExtraction retries and counts temporary backend failures and timeouts.
// A document the backend rejects is its own failure and never trips the breaker.
func ClassifyExtraction(err error) Class {
	switch {
	case errors.Is(err, context.Canceled):
		return Class{}
	case errors.Is(err, domain.ErrTemporary):
		return Class{Retryable: true, TripsBreaker: true}
	case errors.Is(err, context.DeadlineExceeded):
		return Class{TripsBreaker: true}
	default:
		return Class{}
	}
}
