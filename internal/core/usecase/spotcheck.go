package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/cid"
	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/core/ports"
)

type SpotCheckUseCase struct {
	corpus    ports.CorpusReader
	lookup    ports.SourceLookup
	extractor ports.TextExtractor
	recorder  ports.RunRecorder
	rng       *rand.Rand
	log       *slog.Logger
	now       func() time.Time
}

func NewSpotCheckUseCase(
	corpus ports.CorpusReader,
	lookup ports.SourceLookup,
	extractor ports.TextExtractor,
	rng *rand.Rand,
	recorder ports.RunRecorder,
	log *slog.Logger,
) *SpotCheckUseCase {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if log == nil {
		log = slog.Default()
	}
	return &SpotCheckUseCase{
		corpus:    corpus,
		lookup:    lookup,
		extractor: extractor,
		recorder:  recorder,
		rng:       rng,
		log:       log,
		now:       time.Now,
	}
}

func (uc *SpotCheckUseCase) SpotCheck(ctx context.Context, req ports.SpotCheckRequest) (*domain.SpotCheckReport, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.CompareStrict
	}
	if _, ok := domain.ParseCompareMode(string(mode)); !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "spot check", fmt.Errorf("unknown compare mode %q", mode))
	}
	if req.SampleSize < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "spot check", fmt.Errorf("negative sample size %d", req.SampleSize))
	}

	corpus, err := uc.corpus.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	targets := req.CIDs
	if len(targets) == 0 {
		targets = uc.sample(corpus, req.SampleSize)
	}

	report := &domain.SpotCheckReport{
		CheckedAt:  uc.now().UTC(),
		CorpusSize: corpus.Len(),
		Mode:       mode,
		Items:      make([]domain.CheckResult, 0, len(targets)),
		Passed:     true,
	}
	for _, id := range targets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("spot check interrupted: %w", err)
		}
		item := uc.checkOne(ctx, corpus, id, mode)
		uc.log.Info("spot_check_item", "cid", item.CID, "status", string(item.Status), "detail", item.Detail)
		if item.Status != domain.CheckOK {
			report.Passed = false
		}
		report.Items = append(report.Items, item)
	}

	if uc.recorder != nil {
		uc.recorder.ObserveSpotCheck(report)
	}
	return report, nil
}

// sample draws up to n CIDs uniformly without replacement. Candidates are sorted first
// so a seeded generator yields the same sample for the same corpus.
func (uc *SpotCheckUseCase) sample(corpus *domain.Corpus, n int) []string {
	all := make([]string, 0, corpus.Len())
	for id := range corpus.Records {
		all = append(all, id)
	}
	sort.Strings(all)
	if n >= len(all) {
		return all
	}
	for i := 0; i < n; i++ {
		j := i + uc.rng.IntN(len(all)-i)
		all[i], all[j] = all[j], all[i]
	}
	return all[:n]
}

func (uc *SpotCheckUseCase) checkOne(ctx context.Context, corpus *domain.Corpus, id string, mode domain.CompareMode) domain.CheckResult {
	stored, ok := corpus.Records[id]
	if !ok {
		return domain.CheckResult{CID: id, Status: domain.CheckMismatch, Detail: "cid not present in corpus"}
	}
	res := domain.CheckResult{CID: id, Shard: corpus.Origin[id], StoredPages: len(stored.Pages)}

	data, err := uc.lookup.Open(ctx, id)
	if err != nil {
		res.Status = domain.CheckMissingSource
		res.Detail = err.Error()
		return res
	}
	if got := cid.Compute(data); got != id {
		res.Status = domain.CheckMissingSource
		res.Detail = fmt.Sprintf("located source hashes to %s", got)
		return res
	}

	fresh, err := uc.extractor.Extract(ctx, data)
	if err != nil {
		res.Status = domain.CheckExtractionError
		res.Detail = err.Error()
		return res
	}
	res.ExtractedPages = len(fresh)

	if page := firstDifference(stored.Pages, fresh, mode); page > 0 {
		res.Status = domain.CheckMismatch
		res.FirstDiffPage = page
		if len(stored.Pages) != len(fresh) {
			res.Detail = fmt.Sprintf("page count stored=%d extracted=%d", len(stored.Pages), len(fresh))
		} else {
			res.Detail = fmt.Sprintf("text differs on page %d", page)
		}
		return res
	}
	res.Status = domain.CheckOK
	return res
}

// firstDifference returns the 1-based index of the first differing page, or 0 when equal.
func firstDifference(stored, fresh []string, mode domain.CompareMode) int {
	n := min(len(stored), len(fresh))
	for i := 0; i < n; i++ {
		if !pagesEqual(stored[i], fresh[i], mode) {
			return i + 1
		}
	}
	if len(stored) != len(fresh) {
		return n + 1
	}
	return 0
}

func pagesEqual(a, b string, mode domain.CompareMode) bool {
	if mode == domain.CompareNormalized {
		return normalizeWhitespace(a) == normalizeWhitespace(b)
	}
	return a == b
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
