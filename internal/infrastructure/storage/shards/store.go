// Package shards stores extraction records as immutable, timestamp-named parquet files.
// The corpus is the union of every shard in one directory.
package shards

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/kirillkom/filings-corpus/internal/core/cid"
	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

const (
	Extension = ".parquet"
	// NoShard is returned by Write when there was nothing to persist.
	NoShard = ""

	tempSuffix = ".tmp"
	timeLayout = "20060102_150405"
)

var corpusNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// row is the on-disk schema of a shard.
type row struct {
	CID         string   `parquet:"cid"`
	ProcessedAt string   `parquet:"processed_at"`
	Pages       []string `parquet:"pages,list"`
}

type Store struct {
	dir        string
	corpusName string
	log        *slog.Logger
}

func New(dir, corpusName string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "shard store", errors.New("empty shard directory"))
	}
	if !corpusNamePattern.MatchString(corpusName) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "shard store", fmt.Errorf("invalid corpus name %q", corpusName))
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, corpusName: corpusName, log: log}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// ShardName returns <YYYYMMDD>_<HHMMSS>_<corpus-name>.parquet for the given run start.
func ShardName(startedAt time.Time, corpusName string) string {
	return startedAt.UTC().Format(timeLayout) + "_" + corpusName + Extension
}

func tempName(name string) string {
	return "." + name + tempSuffix
}

func isShardName(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, Extension)
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, Extension+tempSuffix)
}

// Load merges every readable shard. Shards are applied in ascending name order, so on a
// duplicate CID the lexicographically greatest (most recent) shard wins.
func (s *Store) Load(ctx context.Context) (*domain.Corpus, error) {
	corpus := domain.NewCorpus()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("corpus_dir_missing", "dir", s.dir)
			return corpus, nil
		}
		return nil, fmt.Errorf("read shard dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch name := entry.Name(); {
		case isTempName(name):
			corpus.StaleTemps = append(corpus.StaleTemps, name)
		case isShardName(name):
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := s.readShard(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.log.Debug("corpus_shard_vanished", "shard", name)
				continue
			}
			s.log.Warn("corpus_shard_corrupt", "shard", name, "error", err)
			corpus.Corrupt = append(corpus.Corrupt, domain.CorruptShard{Name: name, Error: err.Error()})
			continue
		}
		s.merge(corpus, name, records)
	}

	if len(corpus.StaleTemps) > 0 {
		s.log.Warn("corpus_stale_temp_files", "count", len(corpus.StaleTemps))
	}
	return corpus, nil
}

func (s *Store) merge(corpus *domain.Corpus, name string, records []domain.ExtractionRecord) {
	corpus.Shards = append(corpus.Shards, domain.ShardStat{Name: name, Records: len(records)})
	for _, rec := range records {
		if prev, dup := corpus.Origin[rec.CID]; dup {
			s.log.Warn("corpus_duplicate_cid", "cid", rec.CID, "winner", name, "loser", prev)
			corpus.Conflicts = append(corpus.Conflicts, domain.Conflict{CID: rec.CID, Winner: name, Loser: prev})
		}
		corpus.Records[rec.CID] = rec
		corpus.Origin[rec.CID] = name
	}
}

func (s *Store) readShard(path string) (records []domain.ExtractionRecord, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shard: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = domain.WrapError(domain.ErrCorpusCorruption, "decode shard", fmt.Errorf("panic: %v", r))
		}
	}()

	rows, err := parquet.Read[row](f, info.Size())
	if err != nil {
		return nil, domain.WrapError(domain.ErrCorpusCorruption, "decode shard", err)
	}
	return decodeRows(rows)
}

func decodeRows(rows []row) ([]domain.ExtractionRecord, error) {
	out := make([]domain.ExtractionRecord, 0, len(rows))
	for i, r := range rows {
		if !cid.Valid(r.CID) {
			return nil, domain.WrapError(domain.ErrCorpusCorruption, "decode shard", fmt.Errorf("row %d: invalid cid %q", i, r.CID))
		}
		processedAt, err := time.Parse(time.RFC3339Nano, r.ProcessedAt)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCorpusCorruption, "decode shard", fmt.Errorf("row %d: processed_at: %w", i, err))
		}
		pages := r.Pages
		if pages == nil {
			pages = []string{}
		}
		out = append(out, domain.ExtractionRecord{CID: r.CID, ProcessedAt: processedAt.UTC(), Pages: pages})
	}
	return out, nil
}

// Write persists records as one new shard via a temporary file and an atomic rename.
// An existing shard with the same name is never overwritten.
func (s *Store) Write(ctx context.Context, startedAt time.Time, records []domain.ExtractionRecord) (string, error) {
	if len(records) == 0 {
		return NoShard, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create shard dir: %w", err)
	}

	name := ShardName(startedAt, s.corpusName)
	final := filepath.Join(s.dir, name)
	if err := s.ensureAbsent(final); err != nil {
		return "", err
	}

	tmp := filepath.Join(s.dir, tempName(name))
	if err := s.writeTemp(tmp, records); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := s.ensureAbsent(final); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish shard: %w", err)
	}
	syncDir(s.dir)
	return name, nil
}

func (s *Store) ensureAbsent(path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return domain.WrapError(domain.ErrShardNameCollision, filepath.Base(path), errors.New("already exists"))
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("stat shard: %w", err)
	}
}

func (s *Store) writeTemp(path string, records []domain.ExtractionRecord) error {
	rows := make([]row, len(records))
	for i, rec := range records {
		pages := rec.Pages
		if pages == nil {
			pages = []string{}
		}
		rows[i] = row{CID: rec.CID, ProcessedAt: rec.ProcessedAt.UTC().Format(time.RFC3339Nano), Pages: pages}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CID < rows[j].CID })

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp shard: %w", err)
	}
	defer f.Close()

	w := parquet.NewGenericWriter[row](f, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		return fmt.Errorf("encode shard rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize shard: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp shard: %w", err)
	}
	return f.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
