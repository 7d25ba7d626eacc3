package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/resilience"
)

type extractorFunc func(ctx context.Context, source []byte) ([]string, error)

func (f extractorFunc) Extract(ctx context.Context, source []byte) ([]string, error) {
	return f(ctx, source)
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:        2,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     1,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)
}

func TestGuardPassesThroughPages(t *testing.T) {
	g := New(extractorFunc(func(context.Context, []byte) ([]string, error) {
		return []string{"a", ""}, nil
	}), time.Second, testExecutor(), "")

	pages, err := g.Extract(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("unexpected pages %q", pages)
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	g := New(extractorFunc(func(context.Context, []byte) ([]string, error) {
		panic("index out of range")
	}), time.Second, nil, "")

	if _, err := g.Extract(context.Background(), []byte("x")); !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
}

func TestGuardTimesOutHungBackend(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g := New(extractorFunc(func(context.Context, []byte) ([]string, error) {
		<-release
		return nil, nil
	}), 10*time.Millisecond, nil, "")

	start := time.Now()
	_, err := g.Extract(context.Background(), []byte("x"))
	if !domain.IsKind(err, domain.ErrExtraction) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout extraction error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestGuardRetriesTemporaryFailure(t *testing.T) {
	calls := 0
	g := New(extractorFunc(func(context.Context, []byte) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, domain.WrapError(domain.ErrTemporary, "exec", errors.New("fork failed"))
		}
		return []string{"ok"}, nil
	}), time.Second, testExecutor(), "")

	pages, err := g.Extract(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if calls != 2 || pages[0] != "ok" {
		t.Fatalf("expected a retry, calls=%d pages=%q", calls, pages)
	}
}

func TestGuardOpensBreakerOnBrokenBackend(t *testing.T) {
	calls := 0
	g := New(extractorFunc(func(context.Context, []byte) ([]string, error) {
		calls++
		return nil, domain.WrapError(domain.ErrTemporary, "exec", errors.New("pdftotext: not found"))
	}), time.Second, testExecutor(), "")

	for i := 0; i < 2; i++ {
		if _, err := g.Extract(context.Background(), []byte("x")); !domain.IsKind(err, domain.ErrExtraction) {
			t.Fatalf("expected extraction error, got %v", err)
		}
	}
	before := calls
	_, err := g.Extract(context.Background(), []byte("x"))
	if !domain.IsKind(err, domain.ErrExtraction) || !resilience.IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected open circuit to be temporary, got %v", err)
	}
	if calls != before {
		t.Fatalf("backend called while circuit open")
	}
}
