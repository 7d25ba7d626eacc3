package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/core/ports"
)

// collisionRetries bounds how many times a run is repeated after its shard name
// collided with one written earlier in the same second.
const collisionRetries = 3

// RunHook observes every finished run, e.g. to export metrics or write a report.
type RunHook func(ctx context.Context, status domain.RunStatus)

// RunSupervisor executes ingestion runs one at a time, each optionally followed by a
// spot check, and remembers the most recent outcome.
type RunSupervisor struct {
	ingestor  ports.Ingestor
	verifier  ports.Verifier
	runOpts   ports.RunOptions
	spotCheck ports.SpotCheckRequest
	hooks     []RunHook
	log       *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	runMu sync.Mutex

	mu      sync.RWMutex
	last    *domain.RunStatus
	running bool
}

func NewRunSupervisor(
	ingestor ports.Ingestor,
	verifier ports.Verifier,
	runOpts ports.RunOptions,
	spotCheck ports.SpotCheckRequest,
	log *slog.Logger,
	hooks ...RunHook,
) *RunSupervisor {
	if log == nil {
		log = slog.Default()
	}
	return &RunSupervisor{
		ingestor:  ingestor,
		verifier:  verifier,
		runOpts:   runOpts,
		spotCheck: spotCheck,
		hooks:     hooks,
		log:       log,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// RunOnce blocks until any in-progress run finishes, then runs. The spot check is skipped
// when the run fails or no sample size is configured.
func (s *RunSupervisor) RunOnce(ctx context.Context, trigger string) domain.RunStatus {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.setRunning(true)
	defer s.setRunning(false)

	status := domain.RunStatus{Trigger: trigger}
	summary, err := s.ingest(ctx, trigger)
	if err != nil {
		s.log.Error("run_failed", "trigger", trigger, "error", err)
		status.Error = err.Error()
	} else {
		status.Summary = summary
		if s.verifier != nil && (s.spotCheck.SampleSize > 0 || len(s.spotCheck.CIDs) > 0) {
			report, err := s.verifier.SpotCheck(ctx, s.spotCheck)
			if err != nil {
				s.log.Error("spot_check_failed", "error", err)
				status.Error = err.Error()
			} else {
				status.SpotCheck = report
			}
		}
	}
	status.FinishedAt = s.now().UTC()

	for _, hook := range s.hooks {
		hook(ctx, status)
	}

	s.mu.Lock()
	s.last = &status
	s.mu.Unlock()
	return status
}

// ingest repeats a run whose shard name collided, each time after the wall clock
// crosses into the next second so the new shard gets a fresh name.
func (s *RunSupervisor) ingest(ctx context.Context, trigger string) (*domain.RunSummary, error) {
	summary, err := s.ingestor.Run(ctx, s.runOpts)
	for attempt := 1; attempt <= collisionRetries && errors.Is(err, domain.ErrShardNameCollision); attempt++ {
		wait := untilNextSecond(s.now())
		s.log.Warn("shard_name_collision_retry", "trigger", trigger, "attempt", attempt, "wait", wait)
		if serr := s.sleep(ctx, wait); serr != nil {
			return nil, errors.Join(err, serr)
		}
		summary, err = s.ingestor.Run(ctx, s.runOpts)
	}
	return summary, err
}

func untilNextSecond(t time.Time) time.Duration {
	return t.Truncate(time.Second).Add(time.Second).Sub(t)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LastRun returns the most recent outcome, or false before the first run finishes.
func (s *RunSupervisor) LastRun() (domain.RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return domain.RunStatus{}, false
	}
	return *s.last, true
}

func (s *RunSupervisor) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *RunSupervisor) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}
