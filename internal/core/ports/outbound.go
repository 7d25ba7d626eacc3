package ports

import (
	"context"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

// TextExtractor turns source bytes into one text entry per physical page.
type TextExtractor interface {
	Extract(ctx context.Context, source []byte) ([]string, error)
}

// CorpusReader rebuilds the merged corpus view from the shard directory.
type CorpusReader interface {
	Load(ctx context.Context) (*domain.Corpus, error)
}

// ShardWriter persists one run's records as a new immutable shard.
// It returns the shard name, or "" when nothing was written.
type ShardWriter interface {
	Write(ctx context.Context, startedAt time.Time, records []domain.ExtractionRecord) (string, error)
}

// ShardStore is the read and write side of the shard directory.
type ShardStore interface {
	CorpusReader
	ShardWriter
}

// SourceLookup resolves a CID back to the bytes of its source document.
type SourceLookup interface {
	Open(ctx context.Context, cid string) ([]byte, error)
}

// SourceCatalog enumerates the current source documents by content.
type SourceCatalog interface {
	SourceLookup
	Scan(ctx context.Context) (map[string]domain.SourceDocument, error)
}

// FailureLedger persists per-CID extraction failure counts across runs.
type FailureLedger interface {
	RecordFailure(ctx context.Context, cid, message string, at time.Time) error
	Clear(ctx context.Context, cids ...string) error
	Exhausted(ctx context.Context, ceiling int) (map[string]struct{}, error)
	List(ctx context.Context) ([]domain.FailureEntry, error)
}

// EventPublisher notifies downstream consumers about new shards.
type EventPublisher interface {
	PublishShardCreated(ctx context.Context, event domain.ShardCreated) error
}

// RunRecorder receives run and spot-check observations for metrics.
type RunRecorder interface {
	ObserveRun(summary domain.RunSummary)
	ObserveExtraction(duration time.Duration, err error)
	ObserveSpotCheck(report *domain.SpotCheckReport)
}
