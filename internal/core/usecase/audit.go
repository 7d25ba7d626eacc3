package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/core/ports"
)

type AuditUseCase struct {
	corpus ports.CorpusReader
}

func NewAuditUseCase(corpus ports.CorpusReader) *AuditUseCase {
	return &AuditUseCase{corpus: corpus}
}

func (uc *AuditUseCase) Audit(ctx context.Context) (*domain.AuditReport, error) {
	corpus, err := uc.corpus.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return &domain.AuditReport{
		Shards:     corpus.Shards,
		TotalRows:  corpus.TotalRows(),
		UniqueCIDs: corpus.Len(),
		Duplicates: corpus.Conflicts,
		Corrupt:    corpus.Corrupt,
		StaleTemps: corpus.StaleTemps,
	}, nil
}
