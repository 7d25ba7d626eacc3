package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}, nil)

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) Class {
		return Class{
			Retryable:    errors.Is(err, errTemp),
			TripsBreaker: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}, nil)

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) Class {
		return Class{
			Retryable:    false,
			TripsBreaker: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)

	errTemp := errors.New("temporary")
	classifier := func(error) Class {
		return Class{
			Retryable:    false,
			TripsBreaker: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestDocumentFailuresDoNotTripBreaker(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)

	errMalformed := errors.New("malformed xref table")
	calls := 0
	for i := 0; i < 5; i++ {
		err := exec.Execute(context.Background(), "extract", func(context.Context) error {
			calls++
			return errMalformed
		}, ClassifyExtraction)
		if !errors.Is(err, errMalformed) {
			t.Fatalf("iteration %d: expected document error, got %v", i, err)
		}
	}
	if calls != 5 {
		t.Fatalf("expected one attempt per call without retries, got %d", calls)
	}
}

func TestClassifyExtraction(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"temporary", domain.WrapError(domain.ErrTemporary, "exec", errors.New("resource busy")), Class{Retryable: true, TripsBreaker: true}},
		{"timeout", context.DeadlineExceeded, Class{TripsBreaker: true}},
		{"cancelled", context.Canceled, Class{}},
		{"document", errors.New("bad pdf"), Class{}},
	}
	for _, tc := range cases {
		if got := ClassifyExtraction(tc.err); got != tc.want {
			t.Fatalf("%s: ClassifyExtraction() = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestDelayIsCappedExponential(t *testing.T) {
	cfg := Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     350 * time.Millisecond,
		RetryMultiplier:     2,
	}.normalize()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := cfg.delay(i + 1); got != w {
			t.Fatalf("delay(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestStateListenerSeesBreakerOpen(t *testing.T) {
	var states []string
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     1,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}, nil, WithStateListener(func(operation, state string) {
		if operation != "extract.pdf" {
			t.Errorf("unexpected operation %q", operation)
		}
		states = append(states, state)
	}))

	if got := exec.State("extract.pdf"); got != "closed" {
		t.Fatalf("State() before first call = %q", got)
	}
	_ = exec.Execute(context.Background(), "extract.pdf", func(context.Context) error {
		return errors.New("backend down")
	}, nil)

	if len(states) != 1 || states[0] != "open" {
		t.Fatalf("expected one transition to open, got %v", states)
	}
	if got := exec.State("extract.pdf"); got != "open" {
		t.Fatalf("State() = %q, want open", got)
	}
}
