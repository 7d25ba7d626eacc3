package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/kirillkom/filings-corpus/internal/config"
	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/core/ports"
	"github.com/kirillkom/filings-corpus/internal/core/usecase"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/extractor/guard"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/extractor/pdfparser"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/extractor/pdftotext"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/queue/nats"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/report/xlsx"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/resilience"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/storage/shards"
	"github.com/kirillkom/filings-corpus/internal/observability/metrics"
)

const ServiceName = "filings-corpus"

// ErrNoSourceDir is returned by operations that need the source catalog when none is configured.
var ErrNoSourceDir = errors.New("source directory is not configured (--source or CORPUS_SOURCE_DIR)")

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store     *shards.Store
	Catalog   *localfs.Catalog
	Extractor ports.TextExtractor
	Ledger    *sqlstore.FailureLedger
	Queue     *nats.Queue
	Metrics   *metrics.RunMetrics
	Reports   *xlsx.Writer

	IngestUC    *usecase.IngestUseCase
	SpotCheckUC *usecase.SpotCheckUseCase
	AuditUC     *usecase.AuditUseCase
	Supervisor  *usecase.RunSupervisor

	closers []func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	app := &App{Config: cfg, Logger: log, Metrics: metrics.NewRunMetrics(ServiceName), Reports: xlsx.NewWriter(log)}

	store, err := shards.New(cfg.ShardDir, cfg.CorpusName, log)
	if err != nil {
		return nil, fmt.Errorf("init shard store: %w", err)
	}
	app.Store = store
	app.AuditUC = usecase.NewAuditUseCase(store)

	extractor, err := newExtractor(cfg, log, app.Metrics)
	if err != nil {
		return nil, err
	}
	app.Extractor = extractor

	app.Ledger = app.openLedger(ctx)

	if cfg.SourceDir == "" {
		return app, nil
	}

	catalog, err := localfs.New(cfg.SourceDir, cfg.SourceExtensions, cfg.Workers, log)
	if err != nil {
		return nil, fmt.Errorf("init source catalog: %w", err)
	}
	app.Catalog = catalog

	opts := []usecase.IngestOption{usecase.WithRunRecorder(app.Metrics)}
	if app.Ledger != nil {
		opts = append(opts, usecase.WithFailureLedger(app.Ledger))
	}
	if cfg.NATSURL != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
			ShardSubject:       cfg.NATSShardSubject,
			SourcesSubject:     cfg.NATSSourcesSubject,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), log, resilience.WithStateListener(app.Metrics.ObserveBreakerState)),
			Logger:             log,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, queue.Close)
		opts = append(opts, usecase.WithEventPublisher(queue))
	}

	app.IngestUC = usecase.NewIngestUseCase(store, catalog, extractor, usecase.IngestConfig{
		Workers:      cfg.Workers,
		RetryCeiling: cfg.LedgerRetryCeiling,
	}, log, opts...)

	var rng *rand.Rand
	if cfg.VerifySeed != 0 {
		rng = rand.New(rand.NewPCG(cfg.VerifySeed, cfg.VerifySeed))
	}
	app.SpotCheckUC = usecase.NewSpotCheckUseCase(store, catalog, extractor, rng, app.Metrics, log)

	mode, _ := domain.ParseCompareMode(cfg.VerifyCompareMode)
	app.Supervisor = usecase.NewRunSupervisor(
		app.IngestUC,
		app.SpotCheckUC,
		ports.RunOptions{Limit: cfg.Limit},
		ports.SpotCheckRequest{SampleSize: cfg.SpotCheckSample, Mode: mode},
		log,
		app.afterRun,
	)
	return app, nil
}

func newExtractor(cfg config.Config, log *slog.Logger, m *metrics.RunMetrics) (ports.TextExtractor, error) {
	var backend ports.TextExtractor
	switch cfg.ExtractorBackend {
	case config.BackendPDF, "":
		backend = pdfparser.NewExtractor()
	case config.BackendPdftotext:
		backend = pdftotext.NewExtractor(cfg.PdftotextPath, pdftotext.NewExecRunner(log))
	case config.BackendText:
		backend = plaintext.NewExtractor()
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "init extractor", fmt.Errorf("unknown backend %q", cfg.ExtractorBackend))
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:        cfg.ExtractorRetryMaxAttempts,
		RetryInitialBackoff:     cfg.ExtractorRetryInitialBackoff,
		RetryMaxBackoff:         cfg.ExtractorRetryMaxBackoff,
		BreakerEnabled:          cfg.ExtractorBreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.ExtractorBreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.ExtractorBreakerFailureRatio,
		BreakerOpenTimeout:      cfg.ExtractorBreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: 1,
	}, log, resilience.WithStateListener(m.ObserveBreakerState))
	return guard.New(backend, cfg.ExtractorTimeout, executor, "extract."+cfg.ExtractorBackend), nil
}

// openLedger degrades to no ledger on failure; failures are then retried every run.
func (a *App) openLedger(ctx context.Context) *sqlstore.FailureLedger {
	cfg := a.Config
	if cfg.LedgerDriver == config.LedgerNone {
		return nil
	}
	dsn := cfg.LedgerDSN
	if dsn == "" && cfg.LedgerDriver == sqlstore.DriverSQLite {
		if err := os.MkdirAll(cfg.ShardDir, 0o755); err != nil {
			a.Logger.Warn("failure_ledger_disabled", "error", err)
			return nil
		}
		dsn = filepath.Join(cfg.ShardDir, ".failures.db")
	}

	db, err := sqlstore.OpenDB(cfg.LedgerDriver, dsn)
	if err != nil {
		a.Logger.Warn("failure_ledger_disabled", "driver", cfg.LedgerDriver, "error", err)
		return nil
	}
	ledger := sqlstore.NewFailureLedger(db, cfg.LedgerDriver)
	if err := ledger.EnsureSchema(ctx); err != nil {
		a.Logger.Warn("failure_ledger_disabled", "driver", cfg.LedgerDriver, "error", err)
		_ = db.Close()
		return nil
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	return ledger
}

func (a *App) afterRun(ctx context.Context, status domain.RunStatus) {
	a.ExportMetrics(ctx)
	if a.Config.ReportXLSX != "" {
		a.WriteReport(xlsx.Report{Run: status.Summary, SpotCheck: status.SpotCheck})
	}
}

// ExportMetrics writes the textfile and pushes to the gateway when configured.
func (a *App) ExportMetrics(ctx context.Context) {
	if path := a.Config.MetricsTextfile; path != "" {
		if err := a.Metrics.WriteTextfile(path); err != nil {
			a.Logger.Warn("metrics_export_failed", "target", "textfile", "error", err)
		}
	}
	if url := a.Config.MetricsPushgatewayURL; url != "" {
		if err := a.Metrics.Push(ctx, url); err != nil {
			a.Logger.Warn("metrics_export_failed", "target", "pushgateway", "error", err)
		}
	}
}

func (a *App) WriteReport(rep xlsx.Report) {
	if a.Config.ReportXLSX == "" {
		return
	}
	if rep.Run == nil && rep.SpotCheck == nil && rep.Audit == nil {
		return
	}
	if err := a.Reports.Write(a.Config.ReportXLSX, rep); err != nil {
		a.Logger.Warn("report_write_failed", "path", a.Config.ReportXLSX, "error", err)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
