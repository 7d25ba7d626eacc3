package domain

import "time"

// WorkPlan is the per-run delta between the source directory and the corpus.
type WorkPlan struct {
	Work           []string `json:"work"`
	AlreadyPresent int      `json:"already_present"`
	Excluded       []string `json:"excluded,omitempty"`
	// Deferred counts new CIDs left for a later run because of the limit.
	Deferred int `json:"deferred"`
}

// ItemFailure is one document that failed extraction during a run.
type ItemFailure struct {
	CID   string `json:"cid"`
	Path  string `json:"path"`
	Error string `json:"error"`

	// Temporary failures came from the extraction backend, not the document, and are not
	// counted against its retry ceiling.
	Temporary bool `json:"temporary,omitempty"`
}

// RunSummary is reported at the end of every ingestion run.
type RunSummary struct {
	RunID            string        `json:"run_id"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Shard            string        `json:"shard,omitempty"`
	SourceDocuments  int           `json:"source_documents"`
	Processed        int           `json:"processed"`
	SkippedPresent   int           `json:"skipped_present"`
	FailedExtraction int           `json:"failed_extraction"`
	CorruptShards    int           `json:"corrupt_shards"`
	ExcludedByLedger int           `json:"excluded_by_ledger"`
	Deferred         int           `json:"deferred"`
	Failures         []ItemFailure `json:"failures,omitempty"`
}

// Duration returns the wall time of the run.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// FailureEntry is a row of the persisted failure ledger.
type FailureEntry struct {
	CID           string    `json:"cid"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// ShardCreated is published to downstream consumers after a shard becomes visible.
type ShardCreated struct {
	RunID     string    `json:"run_id"`
	Shard     string    `json:"shard"`
	Records   int       `json:"records"`
	CIDs      []string  `json:"cids"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatus is the outcome of one supervised run, with its optional spot check.
type RunStatus struct {
	Trigger    string           `json:"trigger"`
	Summary    *RunSummary      `json:"summary,omitempty"`
	SpotCheck  *SpotCheckReport `json:"spot_check,omitempty"`
	Error      string           `json:"error,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
}

// OK reports a run that finished without a fatal error and whose spot check, if any, passed.
func (s RunStatus) OK() bool {
	return s.Error == "" && (s.SpotCheck == nil || s.SpotCheck.Passed)
}
