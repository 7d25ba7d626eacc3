package ports

import (
	"context"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

// RunOptions carries per-invocation overrides for an ingestion run.
type RunOptions struct {
	// Limit caps the number of newly processed documents; <= 0 means unlimited.
	Limit int
}

// Ingestor is the inbound contract for one incremental ingestion run.
type Ingestor interface {
	Run(ctx context.Context, opts RunOptions) (*domain.RunSummary, error)
}

// SpotCheckRequest selects what the verifier re-extracts.
type SpotCheckRequest struct {
	SampleSize int
	// CIDs, when non-empty, are checked instead of a random sample.
	CIDs []string
	Mode domain.CompareMode
}

// Verifier is the inbound contract for the spot-check audit.
type Verifier interface {
	SpotCheck(ctx context.Context, req SpotCheckRequest) (*domain.SpotCheckReport, error)
}
