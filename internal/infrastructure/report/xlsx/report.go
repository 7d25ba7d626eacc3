// Package xlsx renders run, spot-check and audit results as an Excel workbook for triage.
package xlsx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

const (
	sheetRun       = "Run"
	sheetFailures  = "Failures"
	sheetSpotCheck = "Spot Check"
	sheetAudit     = "Audit"
)

// Report holds whichever results an invocation produced; nil parts are skipped.
type Report struct {
	Run       *domain.RunSummary
	SpotCheck *domain.SpotCheckReport
	Audit     *domain.AuditReport
}

type Writer struct {
	log *slog.Logger
}

func NewWriter(log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{log: log}
}

func (w *Writer) Write(path string, rep Report) error {
	start := time.Now()
	f := excelize.NewFile()
	defer f.Close()

	var sheets []string
	if rep.Run != nil {
		writeRun(f, rep.Run)
		sheets = append(sheets, sheetRun, sheetFailures)
	}
	if rep.SpotCheck != nil {
		writeSpotCheck(f, rep.SpotCheck)
		sheets = append(sheets, sheetSpotCheck)
	}
	if rep.Audit != nil {
		writeAudit(f, rep.Audit)
		sheets = append(sheets, sheetAudit)
	}
	if len(sheets) == 0 {
		return fmt.Errorf("xlsx report: nothing to write")
	}

	if idx, _ := f.GetSheetIndex(sheets[0]); idx >= 0 {
		f.SetActiveSheet(idx)
	}
	_ = f.DeleteSheet("Sheet1")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	w.log.Info("report_written", "path", path, "sheets", len(sheets), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func newSheet(f *excelize.File, sheet string, headers ...string) *sheetWriter {
	_, _ = f.NewSheet(sheet)
	sw := &sheetWriter{f: f, sheet: sheet, row: 1}
	if len(headers) > 0 {
		values := make([]any, len(headers))
		for i, h := range headers {
			values[i] = h
		}
		sw.append(values...)
	}
	return sw
}

func (s *sheetWriter) append(values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, s.row)
		_ = s.f.SetCellValue(s.sheet, cell, v)
	}
	s.row++
}

func (s *sheetWriter) widths(widths ...float64) {
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = s.f.SetColWidth(s.sheet, col, col, width)
	}
}

func writeRun(f *excelize.File, run *domain.RunSummary) {
	sw := newSheet(f, sheetRun, "Field", "Value")
	sw.append("Run ID", run.RunID)
	sw.append("Started", run.StartedAt.UTC().Format(time.RFC3339))
	sw.append("Finished", run.FinishedAt.UTC().Format(time.RFC3339))
	sw.append("Duration (s)", run.Duration().Seconds())
	sw.append("Shard", run.Shard)
	sw.append("Source documents", run.SourceDocuments)
	sw.append("Processed", run.Processed)
	sw.append("Skipped (already present)", run.SkippedPresent)
	sw.append("Failed extraction", run.FailedExtraction)
	sw.append("Corrupt shards skipped", run.CorruptShards)
	sw.append("Excluded by ledger", run.ExcludedByLedger)
	sw.append("Deferred by limit", run.Deferred)
	sw.widths(28, 72)

	failures := newSheet(f, sheetFailures, "CID", "Path", "Error")
	for _, item := range run.Failures {
		failures.append(item.CID, item.Path, truncate(item.Error, 500))
	}
	failures.widths(68, 60, 80)
}

func writeSpotCheck(f *excelize.File, rep *domain.SpotCheckReport) {
	verdict := "PASS"
	if !rep.Passed {
		verdict = "FAIL"
	}
	sw := newSheet(f, sheetSpotCheck, "CID", "Status", "Shard", "Stored pages", "Extracted pages", "First diff page", "Detail")
	for _, item := range rep.Items {
		sw.append(item.CID, string(item.Status), item.Shard, item.StoredPages, item.ExtractedPages, item.FirstDiffPage, truncate(item.Detail, 500))
	}
	sw.append()
	sw.append("Verdict", verdict)
	sw.append("Mode", string(rep.Mode))
	sw.append("Corpus size", rep.CorpusSize)
	sw.append("Checked", rep.CheckedAt.UTC().Format(time.RFC3339))
	sw.widths(68, 18, 36, 14, 16, 16, 60)
}

func writeAudit(f *excelize.File, rep *domain.AuditReport) {
	sw := newSheet(f, sheetAudit, "Shard", "Records", "Status")
	for _, shard := range rep.Shards {
		sw.append(shard.Name, shard.Records, "ok")
	}
	for _, bad := range rep.Corrupt {
		sw.append(bad.Name, 0, "corrupt: "+truncate(bad.Error, 300))
	}
	for _, tmp := range rep.StaleTemps {
		sw.append(tmp, 0, "stale temp")
	}
	sw.append()
	sw.append("Total rows", rep.TotalRows)
	sw.append("Unique CIDs", rep.UniqueCIDs)
	sw.append("Duplicate CIDs", len(rep.Duplicates))
	for _, dup := range rep.Duplicates {
		sw.append(dup.CID, dup.Winner, "shadows "+dup.Loser)
	}
	sw.widths(68, 36, 60)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
