package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

// Fixed-width UTC timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	maxErrorLength = 2000
	clearBatchSize = 500
)

type FailureLedger struct {
	db     *sql.DB
	driver string
}

func NewFailureLedger(db *sql.DB, driver string) *FailureLedger {
	return &FailureLedger{db: db, driver: driver}
}

func (l *FailureLedger) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS extraction_failures (
	cid TEXT PRIMARY KEY,
	attempts INTEGER NOT NULL,
	last_error TEXT NOT NULL,
	first_failed_at TEXT NOT NULL,
	last_failed_at TEXT NOT NULL
)`
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (l *FailureLedger) RecordFailure(ctx context.Context, cid, message string, at time.Time) error {
	message = truncateUTF8(message, maxErrorLength)
	ts := at.UTC().Format(timeLayout)
	_, err := l.db.ExecContext(ctx, rebind(l.driver, `
INSERT INTO extraction_failures (cid, attempts, last_error, first_failed_at, last_failed_at)
VALUES (?, 1, ?, ?, ?)
ON CONFLICT (cid) DO UPDATE SET
	attempts = extraction_failures.attempts + 1,
	last_error = excluded.last_error,
	last_failed_at = excluded.last_failed_at
`), cid, message, ts, ts)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (l *FailureLedger) Clear(ctx context.Context, cids ...string) error {
	for start := 0; start < len(cids); start += clearBatchSize {
		end := min(start+clearBatchSize, len(cids))
		batch := cids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := rebind(l.driver, "DELETE FROM extraction_failures WHERE cid IN ("+placeholders+")")
		if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("clear failures: %w", err)
		}
	}
	return nil
}

func (l *FailureLedger) Exhausted(ctx context.Context, ceiling int) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if ceiling <= 0 {
		return out, nil
	}
	rows, err := l.db.QueryContext(ctx, rebind(l.driver, `
SELECT cid FROM extraction_failures WHERE attempts >= ?
`), ceiling)
	if err != nil {
		return nil, fmt.Errorf("query exhausted failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan exhausted failure: %w", err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exhausted failures: %w", err)
	}
	return out, nil
}

func (l *FailureLedger) List(ctx context.Context) ([]domain.FailureEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT cid, attempts, last_error, first_failed_at, last_failed_at
FROM extraction_failures
ORDER BY last_failed_at DESC, cid
`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FailureEntry, 0)
	for rows.Next() {
		entry, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

type failureScanner interface {
	Scan(dest ...interface{}) error
}

func scanFailure(row failureScanner) (domain.FailureEntry, error) {
	var (
		entry       domain.FailureEntry
		first, last string
	)
	if err := row.Scan(&entry.CID, &entry.Attempts, &entry.LastError, &first, &last); err != nil {
		return domain.FailureEntry{}, fmt.Errorf("scan failure: %w", err)
	}
	var err error
	if entry.FirstFailedAt, err = time.Parse(timeLayout, first); err != nil {
		return domain.FailureEntry{}, fmt.Errorf("parse first_failed_at: %w", err)
	}
	if entry.LastFailedAt, err = time.Parse(timeLayout, last); err != nil {
		return domain.FailureEntry{}, fmt.Errorf("parse last_failed_at: %w", err)
	}
	return entry, nil
}
