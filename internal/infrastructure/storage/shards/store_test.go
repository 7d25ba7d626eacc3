package shards

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/cid"
	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

var runStart = time.Date(2025, 11, 3, 9, 30, 5, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "filings", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func record(body string, pages ...string) domain.ExtractionRecord {
	return domain.ExtractionRecord{CID: cid.Compute([]byte(body)), ProcessedAt: runStart, Pages: pages}
}

func TestShardName(t *testing.T) {
	local := time.FixedZone("EST", -5*3600)
	got := ShardName(time.Date(2025, 11, 3, 4, 30, 5, 700, local), "filings")
	if got != "20251103_093005_filings.parquet" {
		t.Fatalf("ShardName() = %s", got)
	}
}

func TestNewRejectsInvalidCorpusName(t *testing.T) {
	for _, name := range []string{"", "../up", "Has Space", "a.b"} {
		if _, err := New(t.TempDir(), name, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("New(%q) error = %v, want invalid input", name, err)
		}
	}
}

func TestWriteThenLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	records := []domain.ExtractionRecord{
		record("a", "page one", "", "page three"),
		record("b"),
		record("c", "ünïcode ✓"),
	}

	name, err := s.Write(context.Background(), runStart, records)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if name != "20251103_093005_filings.parquet" {
		t.Fatalf("unexpected shard name %s", name)
	}

	corpus, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if corpus.Len() != 3 || len(corpus.Shards) != 1 || corpus.Shards[0].Records != 3 {
		t.Fatalf("unexpected corpus: %+v", corpus)
	}
	for _, want := range records {
		got, ok := corpus.Records[want.CID]
		if !ok {
			t.Fatalf("missing record %s", want.CID)
		}
		if len(got.Pages) != len(want.Pages) {
			t.Fatalf("page count for %s = %d, want %d", want.CID, len(got.Pages), len(want.Pages))
		}
		if len(want.Pages) > 0 && !reflect.DeepEqual(got.Pages, want.Pages) {
			t.Fatalf("pages for %s = %q, want %q", want.CID, got.Pages, want.Pages)
		}
		if !got.ProcessedAt.Equal(want.ProcessedAt) {
			t.Fatalf("processed_at = %v, want %v", got.ProcessedAt, want.ProcessedAt)
		}
		if corpus.Origin[want.CID] != name {
			t.Fatalf("origin = %s, want %s", corpus.Origin[want.CID], name)
		}
	}
}

func TestWriteEmptyBatchIsNoop(t *testing.T) {
	s := newStore(t)
	name, err := s.Write(context.Background(), runStart, nil)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if name != NoShard {
		t.Fatalf("expected no-shard sentinel, got %q", name)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
}

func TestWriteFailsOnNameCollision(t *testing.T) {
	s := newStore(t)
	if _, err := s.Write(context.Background(), runStart, []domain.ExtractionRecord{record("a", "x")}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_, err := s.Write(context.Background(), runStart.Add(500*time.Millisecond), []domain.ExtractionRecord{record("b", "y")})
	if !domain.IsKind(err, domain.ErrShardNameCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
	name := runStart.UTC().Format("20060102_150405") + "_filings.parquet"
	if want := name + ": shard name collision: already exists"; err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Fatalf("expected only the first shard on disk, got %d entries", len(entries))
	}
	corpus, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := corpus.Records[record("a").CID]; !ok || corpus.Len() != 1 {
		t.Fatalf("expected original shard untouched, got %+v", corpus.Records)
	}
}

func TestCrashBeforeRenameLeavesNoVisibleShard(t *testing.T) {
	s := newStore(t)
	name := ShardName(runStart, "filings")
	if err := s.writeTemp(filepath.Join(s.Dir(), tempName(name)), []domain.ExtractionRecord{record("a", "x")}); err != nil {
		t.Fatalf("writeTemp() error = %v", err)
	}

	corpus, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if corpus.Len() != 0 || len(corpus.Shards) != 0 {
		t.Fatalf("expected temp shard to be invisible, got %+v", corpus)
	}
	if len(corpus.StaleTemps) != 1 {
		t.Fatalf("expected stale temp to be reported, got %v", corpus.StaleTemps)
	}
}

func TestLoadMissingDirIsEmptyCorpus(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "not-yet"), "filings", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	corpus, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if corpus.Len() != 0 {
		t.Fatalf("expected empty corpus")
	}
}

func TestLoadSkipsCorruptShard(t *testing.T) {
	s := newStore(t)
	if _, err := s.Write(context.Background(), runStart, []domain.ExtractionRecord{record("a", "x")}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	bad := filepath.Join(s.Dir(), "20251104_000000_filings.parquet")
	if err := os.WriteFile(bad, []byte("definitely not parquet"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	corpus, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if corpus.Len() != 1 {
		t.Fatalf("expected surviving shard to load, got %d records", corpus.Len())
	}
	if len(corpus.Corrupt) != 1 || corpus.Corrupt[0].Name != "20251104_000000_filings.parquet" {
		t.Fatalf("expected corrupt shard reported, got %+v", corpus.Corrupt)
	}
}

func TestLoadMostRecentShardWinsOnDuplicate(t *testing.T) {
	s := newStore(t)
	older := record("dup", "old text")
	newer := record("dup", "new text")

	if _, err := s.Write(context.Background(), runStart, []domain.ExtractionRecord{older}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	later, err := s.Write(context.Background(), runStart.Add(24*time.Hour), []domain.ExtractionRecord{newer})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	corpus, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := corpus.Records[older.CID]
	if got.Pages[0] != "new text" || corpus.Origin[older.CID] != later {
		t.Fatalf("expected most recent shard to win, got %+v from %s", got, corpus.Origin[older.CID])
	}
	if len(corpus.Conflicts) != 1 || corpus.Conflicts[0].Winner != later {
		t.Fatalf("expected one conflict, got %+v", corpus.Conflicts)
	}
	if corpus.TotalRows() != 2 {
		t.Fatalf("TotalRows() = %d, want 2", corpus.TotalRows())
	}
}

func TestDecodeRowsRejectsInvalidCID(t *testing.T) {
	_, err := decodeRows([]row{{CID: "", ProcessedAt: runStart.Format(time.RFC3339Nano)}})
	if !domain.IsKind(err, domain.ErrCorpusCorruption) {
		t.Fatalf("expected corruption error, got %v", err)
	}
	_, err = decodeRows([]row{{CID: cid.Empty, ProcessedAt: "yesterday"}})
	if !domain.IsKind(err, domain.ErrCorpusCorruption) {
		t.Fatalf("expected corruption error for bad timestamp, got %v", err)
	}
}
