// Package guard bounds a text extraction backend with a per-document timeout, panic
// recovery and the shared retry and circuit-breaker executor.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/core/ports"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/resilience"
)

type Extractor struct {
	next      ports.TextExtractor
	timeout   time.Duration
	executor  *resilience.Executor
	operation string
}

func New(next ports.TextExtractor, timeout time.Duration, executor *resilience.Executor, operation string) *Extractor {
	if operation == "" {
		operation = "extract"
	}
	return &Extractor{next: next, timeout: timeout, executor: executor, operation: operation}
}

// Extract always reports failures as domain.ErrExtraction.
func (g *Extractor) Extract(ctx context.Context, source []byte) ([]string, error) {
	var pages []string
	call := func(ctx context.Context) error {
		out, err := g.once(ctx, source)
		if err != nil {
			return err
		}
		pages = out
		return nil
	}

	var err error
	if g.executor != nil {
		err = g.executor.Execute(ctx, g.operation, call, resilience.ClassifyExtraction)
	} else {
		err = call(ctx)
	}
	switch {
	case err == nil:
		return pages, nil
	case resilience.IsCircuitOpen(err):
		return nil, domain.WrapError(domain.ErrExtraction, "extract", domain.WrapError(domain.ErrTemporary, "backend unavailable", err))
	case errors.Is(err, domain.ErrExtraction):
		return nil, err
	default:
		return nil, domain.WrapError(domain.ErrExtraction, "extract", err)
	}
}

type outcome struct {
	pages []string
	err   error
}

// once runs a single attempt. A backend that ignores cancellation is abandoned after the
// timeout; its goroutine finishes in the background.
func (g *Extractor) once(ctx context.Context, source []byte) ([]string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: domain.WrapError(domain.ErrExtraction, "extract", fmt.Errorf("backend panic: %v", r))}
			}
		}()
		pages, err := g.next.Extract(ctx, source)
		done <- outcome{pages: pages, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", g.timeout, context.DeadlineExceeded)
		}
		return res.pages, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", g.timeout, context.DeadlineExceeded)
		}
		return nil, ctx.Err()
	}
}
