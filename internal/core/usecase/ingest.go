package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/core/ports"
)

type IngestConfig struct {
	// Workers bounds concurrent extractions.
	Workers int
	// RetryCeiling excludes CIDs that failed this many times; 0 retries forever.
	RetryCeiling  int
	ProgressEvery time.Duration
}

type IngestUseCase struct {
	store     ports.ShardStore
	catalog   ports.SourceCatalog
	extractor ports.TextExtractor
	ledger    ports.FailureLedger
	publisher ports.EventPublisher
	recorder  ports.RunRecorder
	cfg       IngestConfig
	log       *slog.Logger
	now       func() time.Time
}

type IngestOption func(*IngestUseCase)

func WithFailureLedger(l ports.FailureLedger) IngestOption {
	return func(uc *IngestUseCase) { uc.ledger = l }
}

func WithEventPublisher(p ports.EventPublisher) IngestOption {
	return func(uc *IngestUseCase) { uc.publisher = p }
}

func WithRunRecorder(r ports.RunRecorder) IngestOption {
	return func(uc *IngestUseCase) { uc.recorder = r }
}

func WithClock(now func() time.Time) IngestOption {
	return func(uc *IngestUseCase) { uc.now = now }
}

func NewIngestUseCase(
	store ports.ShardStore,
	catalog ports.SourceCatalog,
	extractor ports.TextExtractor,
	cfg IngestConfig,
	log *slog.Logger,
	opts ...IngestOption,
) *IngestUseCase {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	uc := &IngestUseCase{
		store:     store,
		catalog:   catalog,
		extractor: extractor,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type extraction struct {
	record  domain.ExtractionRecord
	failure *domain.ItemFailure
}

func (uc *IngestUseCase) Run(ctx context.Context, opts ports.RunOptions) (*domain.RunSummary, error) {
	if opts.Limit < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run", fmt.Errorf("negative limit %d", opts.Limit))
	}
	started := uc.now().UTC()
	summary := &domain.RunSummary{RunID: uuid.NewString(), StartedAt: started}
	log := uc.log.With("run_id", summary.RunID)
	log.Info("run_started", "limit", opts.Limit, "workers", uc.cfg.Workers)

	corpus, err := uc.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	summary.CorruptShards = len(corpus.Corrupt)

	sources, err := uc.catalog.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	summary.SourceDocuments = len(sources)

	excluded := uc.exhausted(ctx, log)
	sourceSet := make(map[string]struct{}, len(sources))
	for id := range sources {
		sourceSet[id] = struct{}{}
	}
	plan := BuildWorkPlan(sourceSet, corpus.CIDs(), excluded, opts.Limit)
	summary.SkippedPresent = plan.AlreadyPresent
	summary.ExcludedByLedger = len(plan.Excluded)
	summary.Deferred = plan.Deferred
	log.Info("run_planned",
		"sources", len(sources),
		"corpus", corpus.Len(),
		"work", len(plan.Work),
		"already_present", plan.AlreadyPresent,
		"excluded", len(plan.Excluded),
		"deferred", plan.Deferred,
	)

	results, err := uc.extractAll(ctx, plan.Work, sources, log)
	if err != nil {
		return nil, err
	}

	records := make([]domain.ExtractionRecord, 0, len(results))
	for _, res := range results {
		if res.failure != nil {
			summary.Failures = append(summary.Failures, *res.failure)
			continue
		}
		records = append(records, res.record)
	}
	summary.Processed = len(records)
	summary.FailedExtraction = len(summary.Failures)

	shard, err := uc.store.Write(ctx, started, records)
	if err != nil {
		return nil, fmt.Errorf("write shard: %w", err)
	}
	summary.Shard = shard
	if shard != "" {
		log.Info("shard_written", "shard", shard, "records", len(records))
	}

	uc.updateLedger(ctx, records, summary.Failures, log)
	uc.publish(ctx, summary, records, log)

	summary.FinishedAt = uc.now().UTC()
	if uc.recorder != nil {
		uc.recorder.ObserveRun(*summary)
	}
	log.Info("run_finished",
		"shard", summary.Shard,
		"processed", summary.Processed,
		"skipped_present", summary.SkippedPresent,
		"failed_extraction", summary.FailedExtraction,
		"corrupt_shards", summary.CorruptShards,
		"duration_ms", summary.Duration().Milliseconds(),
	)
	return summary, nil
}

func (uc *IngestUseCase) exhausted(ctx context.Context, log *slog.Logger) map[string]struct{} {
	if uc.ledger == nil || uc.cfg.RetryCeiling <= 0 {
		return nil
	}
	out, err := uc.ledger.Exhausted(ctx, uc.cfg.RetryCeiling)
	if err != nil {
		log.Warn("failure_ledger_unavailable", "error", err)
		return nil
	}
	return out
}

func (uc *IngestUseCase) extractAll(
	ctx context.Context,
	work []string,
	sources map[string]domain.SourceDocument,
	log *slog.Logger,
) ([]extraction, error) {
	results := make([]extraction, len(work))
	if len(work) == 0 {
		return results, nil
	}

	var done atomic.Int64
	progress := rate.Sometimes{Interval: uc.cfg.ProgressEvery}

	g := new(errgroup.Group)
	g.SetLimit(uc.cfg.Workers)
	for i, id := range work {
		if ctx.Err() != nil {
			break
		}
		doc := sources[id]
		g.Go(func() error {
			results[i] = uc.extractOne(ctx, doc, log)
			n := done.Add(1)
			progress.Do(func() {
				log.Info("run_progress", "done", n, "total", len(work))
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction interrupted: %w", err)
	}
	return results, nil
}

func (uc *IngestUseCase) extractOne(ctx context.Context, doc domain.SourceDocument, log *slog.Logger) extraction {
	start := uc.now()
	pages, err := uc.readAndExtract(ctx, doc.CID)
	if uc.recorder != nil {
		uc.recorder.ObserveExtraction(uc.now().Sub(start), err)
	}
	if err != nil {
		log.Warn("extraction_failed", "cid", doc.CID, "path", doc.Path, "error", err)
		return extraction{failure: &domain.ItemFailure{
			CID:       doc.CID,
			Path:      doc.Path,
			Error:     err.Error(),
			Temporary: errors.Is(err, domain.ErrTemporary),
		}}
	}
	if pages == nil {
		pages = []string{}
	}
	log.Debug("extraction_ok", "cid", doc.CID, "pages", len(pages))
	return extraction{record: domain.ExtractionRecord{
		CID:         doc.CID,
		ProcessedAt: uc.now().UTC(),
		Pages:       pages,
	}}
}

func (uc *IngestUseCase) readAndExtract(ctx context.Context, id string) ([]string, error) {
	data, err := uc.catalog.Open(ctx, id)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "read source", err)
	}
	pages, err := uc.extractor.Extract(ctx, data)
	if err != nil {
		if errors.Is(err, domain.ErrExtraction) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrExtraction, "extract text", err)
	}
	return pages, nil
}

// updateLedger runs after the shard is durable so a crash never clears a failure early.
func (uc *IngestUseCase) updateLedger(ctx context.Context, records []domain.ExtractionRecord, failures []domain.ItemFailure, log *slog.Logger) {
	if uc.ledger == nil {
		return
	}
	at := uc.now().UTC()
	for _, f := range failures {
		if f.Temporary {
			log.Debug("failure_ledger_skip_temporary", "cid", f.CID)
			continue
		}
		if err := uc.ledger.RecordFailure(ctx, f.CID, f.Error, at); err != nil {
			log.Warn("failure_ledger_record_error", "cid", f.CID, "error", err)
		}
	}
	if len(records) == 0 {
		return
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.CID
	}
	if err := uc.ledger.Clear(ctx, ids...); err != nil {
		log.Warn("failure_ledger_clear_error", "error", err)
	}
}

func (uc *IngestUseCase) publish(ctx context.Context, summary *domain.RunSummary, records []domain.ExtractionRecord, log *slog.Logger) {
	if uc.publisher == nil || summary.Shard == "" {
		return
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.CID
	}
	event := domain.ShardCreated{
		RunID:     summary.RunID,
		Shard:     summary.Shard,
		Records:   len(records),
		CIDs:      ids,
		CreatedAt: uc.now().UTC(),
	}
	if err := uc.publisher.PublishShardCreated(ctx, event); err != nil {
		log.Warn("shard_event_publish_failed", "shard", summary.Shard, "error", err)
	}
}
