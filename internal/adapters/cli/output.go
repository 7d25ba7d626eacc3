package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func shortCID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func printRunStatus(w io.Writer, status domain.RunStatus, asJSON bool) error {
	if asJSON {
		return writeJSON(w, status)
	}
	if status.Summary != nil {
		if err := printRunSummary(w, status.Summary); err != nil {
			return err
		}
	}
	if status.SpotCheck != nil {
		fmt.Fprintln(w)
		if err := printSpotCheck(w, status.SpotCheck, false); err != nil {
			return err
		}
	}
	if status.Error != "" {
		fmt.Fprintf(w, "error: %s\n", status.Error)
	}
	return nil
}

func printRunSummary(w io.Writer, s *domain.RunSummary) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "shard\t%s\n", orNone(s.Shard))
	fmt.Fprintf(tw, "source documents\t%d\n", s.SourceDocuments)
	fmt.Fprintf(tw, "already present\t%d\n", s.SkippedPresent)
	fmt.Fprintf(tw, "processed\t%d\n", s.Processed)
	fmt.Fprintf(tw, "failed\t%d\n", s.FailedExtraction)
	fmt.Fprintf(tw, "excluded by ledger\t%d\n", s.ExcludedByLedger)
	fmt.Fprintf(tw, "deferred by limit\t%d\n", s.Deferred)
	fmt.Fprintf(tw, "corrupt shards\t%d\n", s.CorruptShards)
	fmt.Fprintf(tw, "duration\t%s\n", s.Duration().Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.Failures) == 0 {
		return nil
	}

	fmt.Fprintln(w, "\nfailures:")
	tw = newTable(w)
	fmt.Fprintln(tw, "CID\tPATH\tERROR")
	for _, f := range s.Failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", shortCID(f.CID), f.Path, f.Error)
	}
	return tw.Flush()
}

func printSpotCheck(w io.Writer, rep *domain.SpotCheckReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, rep)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "CID\tSTATUS\tPAGES\tFIRST DIFF\tDETAIL")
	for _, item := range rep.Items {
		diff := "-"
		if item.FirstDiffPage > 0 {
			diff = fmt.Sprint(item.FirstDiffPage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			shortCID(item.CID), item.Status, item.StoredPages, item.ExtractedPages, diff, item.Detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	verdict := "PASSED"
	if !rep.Passed {
		verdict = "FAILED"
	}
	counts := rep.Counts()
	fmt.Fprintf(w, "spot check %s: %d/%d ok (mode %s, corpus %d)\n",
		verdict, counts[domain.CheckOK], len(rep.Items), rep.Mode, rep.CorpusSize)
	return nil
}

func printAudit(w io.Writer, rep *domain.AuditReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, rep)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "SHARD\tRECORDS")
	for _, s := range rep.Shards {
		fmt.Fprintf(tw, "%s\t%d\n", s.Name, s.Records)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "total rows %d, unique cids %d\n", rep.TotalRows, rep.UniqueCIDs)

	for _, d := range rep.Duplicates {
		fmt.Fprintf(w, "duplicate %s: %s wins over %s\n", d.CID, d.Winner, d.Loser)
	}
	for _, c := range rep.Corrupt {
		fmt.Fprintf(w, "corrupt %s: %s\n", c.Name, c.Error)
	}
	for _, t := range rep.StaleTemps {
		fmt.Fprintf(w, "stale temp %s\n", t)
	}
	if rep.Healthy() {
		fmt.Fprintln(w, "healthy: yes")
	} else {
		fmt.Fprintln(w, "healthy: no")
	}
	return nil
}

func printFailures(w io.Writer, entries []domain.FailureEntry, asJSON bool) error {
	if asJSON {
		if entries == nil {
			entries = []domain.FailureEntry{}
		}
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no recorded failures")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "CID\tATTEMPTS\tLAST FAILED\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.CID, e.Attempts, e.LastFailedAt.Format(time.RFC3339), e.LastError)
	}
	return tw.Flush()
}
