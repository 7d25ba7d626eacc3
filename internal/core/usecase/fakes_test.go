package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/cid"
	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

type shardFake struct {
	name    string
	records []domain.ExtractionRecord
}

type storeFake struct {
	shards   []shardFake
	loadErr  error
	writeErr error
	corrupt  []domain.CorruptShard

	// perSecond names shards by their start second alone, so two writes in one second collide.
	perSecond bool
}

func (f *storeFake) Load(context.Context) (*domain.Corpus, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	c := domain.NewCorpus()
	for _, s := range f.shards {
		c.Shards = append(c.Shards, domain.ShardStat{Name: s.name, Records: len(s.records)})
		for _, r := range s.records {
			c.Records[r.CID] = r
			c.Origin[r.CID] = s.name
		}
	}
	c.Corrupt = f.corrupt
	return c, nil
}

func (f *storeFake) Write(_ context.Context, startedAt time.Time, records []domain.ExtractionRecord) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	if len(records) == 0 {
		return "", nil
	}
	name := fmt.Sprintf("%s_%03d_test.parquet", startedAt.Format("20060102_150405"), len(f.shards))
	if f.perSecond {
		name = startedAt.Format("20060102_150405") + "_test.parquet"
		for _, s := range f.shards {
			if s.name == name {
				return "", domain.WrapError(domain.ErrShardNameCollision, name, errors.New("already exists"))
			}
		}
	}
	f.shards = append(f.shards, shardFake{name: name, records: append([]domain.ExtractionRecord(nil), records...)})
	return name, nil
}

type catalogFake struct {
	docs    map[string][]byte
	paths   map[string]string
	scanErr error
}

func newCatalogFake(files map[string]string) *catalogFake {
	f := &catalogFake{docs: map[string][]byte{}, paths: map[string]string{}}
	for path, body := range files {
		f.add(path, body)
	}
	return f
}

func (f *catalogFake) add(path, body string) string {
	id := cid.Compute([]byte(body))
	f.docs[id] = []byte(body)
	f.paths[id] = path
	return id
}

func (f *catalogFake) Scan(context.Context) (map[string]domain.SourceDocument, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	out := make(map[string]domain.SourceDocument, len(f.docs))
	for id, body := range f.docs {
		out[id] = domain.SourceDocument{CID: id, Path: f.paths[id], Size: int64(len(body))}
	}
	return out, nil
}

func (f *catalogFake) Open(_ context.Context, id string) ([]byte, error) {
	body, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSourceNotFound, "open source", errors.New(id))
	}
	return body, nil
}

// extractorFake treats documents as form-feed separated pages. Bodies starting with "corrupt"
// fail as bad documents, bodies starting with "offline" fail as an unavailable backend.
type extractorFake struct {
	mu    sync.Mutex
	calls int
}

func (f *extractorFake) Extract(_ context.Context, source []byte) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	text := string(source)
	if strings.HasPrefix(text, "corrupt") {
		return nil, domain.WrapError(domain.ErrExtraction, "parse", errors.New("malformed document"))
	}
	if strings.HasPrefix(text, "offline") {
		return nil, domain.WrapError(domain.ErrExtraction, "extract",
			domain.WrapError(domain.ErrTemporary, "backend unavailable", errors.New("circuit breaker is open")))
	}
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\f"), nil
}

func (f *extractorFake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type ledgerFake struct {
	attempts map[string]int
	cleared  []string
}

func newLedgerFake() *ledgerFake {
	return &ledgerFake{attempts: map[string]int{}}
}

func (f *ledgerFake) RecordFailure(_ context.Context, id, _ string, _ time.Time) error {
	f.attempts[id]++
	return nil
}

func (f *ledgerFake) Clear(_ context.Context, ids ...string) error {
	for _, id := range ids {
		delete(f.attempts, id)
		f.cleared = append(f.cleared, id)
	}
	return nil
}

func (f *ledgerFake) Exhausted(_ context.Context, ceiling int) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for id, n := range f.attempts {
		if n >= ceiling {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *ledgerFake) List(context.Context) ([]domain.FailureEntry, error) {
	var out []domain.FailureEntry
	for id, n := range f.attempts {
		out = append(out, domain.FailureEntry{CID: id, Attempts: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CID < out[j].CID })
	return out, nil
}

type publisherFake struct {
	events []domain.ShardCreated
	err    error
}

func (f *publisherFake) PublishShardCreated(_ context.Context, event domain.ShardCreated) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type clockFake struct {
	t time.Time
}

func (c *clockFake) Now() time.Time {
	return c.t
}

func (c *clockFake) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}
