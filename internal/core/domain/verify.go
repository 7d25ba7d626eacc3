package domain

import "time"

type CheckStatus string

const (
	CheckOK              CheckStatus = "OK"
	CheckMismatch        CheckStatus = "MISMATCH"
	CheckMissingSource   CheckStatus = "MISSING_SOURCE"
	CheckExtractionError CheckStatus = "EXTRACTION_ERROR"
)

type CompareMode string

const (
	CompareStrict     CompareMode = "strict"
	CompareNormalized CompareMode = "normalized"
)

// ParseCompareMode returns the mode for s, or false when s is not a known mode.
func ParseCompareMode(s string) (CompareMode, bool) {
	switch CompareMode(s) {
	case CompareStrict, "":
		return CompareStrict, true
	case CompareNormalized:
		return CompareNormalized, true
	default:
		return "", false
	}
}

// CheckResult is the outcome of re-extracting one stored record.
type CheckResult struct {
	CID            string      `json:"cid"`
	Status         CheckStatus `json:"status"`
	Shard          string      `json:"shard,omitempty"`
	StoredPages    int         `json:"stored_pages"`
	ExtractedPages int         `json:"extracted_pages"`
	// FirstDiffPage is the 1-based page where the texts first differ, 0 when not applicable.
	FirstDiffPage int    `json:"first_diff_page,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// SpotCheckReport aggregates per-item results. Passed is true iff every item is OK.
type SpotCheckReport struct {
	CheckedAt  time.Time     `json:"checked_at"`
	CorpusSize int           `json:"corpus_size"`
	Mode       CompareMode   `json:"mode"`
	Items      []CheckResult `json:"items"`
	Passed     bool          `json:"passed"`
}

// Counts returns the number of items per status.
func (r *SpotCheckReport) Counts() map[CheckStatus]int {
	out := make(map[CheckStatus]int, 4)
	for _, item := range r.Items {
		out[item.Status]++
	}
	return out
}

// AuditReport summarizes corpus health: row totals, duplicate CIDs and unreadable shards.
type AuditReport struct {
	Shards     []ShardStat    `json:"shards"`
	TotalRows  int            `json:"total_rows"`
	UniqueCIDs int            `json:"unique_cids"`
	Duplicates []Conflict     `json:"duplicates,omitempty"`
	Corrupt    []CorruptShard `json:"corrupt,omitempty"`
	StaleTemps []string       `json:"stale_temps,omitempty"`
}

// Healthy reports whether the corpus has no duplicates and no corrupt shards.
func (r *AuditReport) Healthy() bool {
	return len(r.Duplicates) == 0 && len(r.Corrupt) == 0
}
