package xlsx

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

func TestWriteRunAndSpotCheck(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "reports", "run.xlsx")

	err := NewWriter(nil).Write(path, Report{
		Run: &domain.RunSummary{
			RunID:      "run-1",
			StartedAt:  start,
			FinishedAt: start.Add(time.Minute),
			Shard:      "20250601_080000_filings.parquet",
			Processed:  2,
			Failures:   []domain.ItemFailure{{CID: "bad", Path: "/src/bad.pdf", Error: "extraction failed"}},
		},
		SpotCheck: &domain.SpotCheckReport{
			Mode:  domain.CompareStrict,
			Items: []domain.CheckResult{{CID: "abc", Status: domain.CheckMismatch, FirstDiffPage: 2}},
		},
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != sheetRun {
		t.Fatalf("unexpected sheets %v", sheets)
	}

	failures, err := f.GetRows(sheetFailures)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(failures) != 2 || failures[1][1] != "/src/bad.pdf" {
		t.Fatalf("unexpected failure rows %v", failures)
	}

	checks, err := f.GetRows(sheetSpotCheck)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if checks[1][1] != "MISMATCH" {
		t.Fatalf("unexpected spot-check row %v", checks[1])
	}
	var verdict string
	for _, row := range checks {
		if len(row) >= 2 && row[0] == "Verdict" {
			verdict = row[1]
		}
	}
	if verdict != "FAIL" {
		t.Fatalf("expected FAIL verdict, got %q", verdict)
	}
}

func TestWriteAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.xlsx")
	err := NewWriter(nil).Write(path, Report{Audit: &domain.AuditReport{
		Shards:     []domain.ShardStat{{Name: "a.parquet", Records: 3}},
		TotalRows:  3,
		UniqueCIDs: 3,
		Corrupt:    []domain.CorruptShard{{Name: "b.parquet", Error: "bad magic"}},
	}})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetAudit)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if rows[2][0] != "b.parquet" || rows[2][2] != "corrupt: bad magic" {
		t.Fatalf("unexpected audit rows %v", rows)
	}
}

func TestWriteRejectsEmptyReport(t *testing.T) {
	if err := NewWriter(nil).Write(filepath.Join(t.TempDir(), "x.xlsx"), Report{}); err == nil {
		t.Fatalf("expected error")
	}
}
