package domain

import "time"

// ExtractionRecord is the unit of corpus content, keyed by the CID of the source bytes.
type ExtractionRecord struct {
	CID         string    `json:"cid"`
	ProcessedAt time.Time `json:"processed_at"`
	Pages       []string  `json:"pages"`
}

// PageCount returns the number of pages stored for the record.
func (r ExtractionRecord) PageCount() int {
	return len(r.Pages)
}

// SourceDocument is one content-addressed document found in the source directory.
// Aliases lists other paths carrying byte-identical content.
type SourceDocument struct {
	CID     string   `json:"cid"`
	Path    string   `json:"path"`
	Size    int64    `json:"size"`
	Aliases []string `json:"aliases,omitempty"`
}

// CorruptShard describes a shard file that could not be parsed and was skipped.
type CorruptShard struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Conflict records a CID stored by more than one shard. Winner is the shard whose record is used.
type Conflict struct {
	CID    string `json:"cid"`
	Winner string `json:"winner"`
	Loser  string `json:"loser"`
}

// ShardStat is the per-shard record count observed while loading the corpus.
type ShardStat struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
}

// Corpus is the merged, in-memory view of every readable shard in a directory.
type Corpus struct {
	Records   map[string]ExtractionRecord
	Origin    map[string]string
	Shards    []ShardStat
	Corrupt   []CorruptShard
	Conflicts []Conflict
	// StaleTemps lists leftover temporary files from interrupted writes.
	StaleTemps []string
}

func NewCorpus() *Corpus {
	return &Corpus{
		Records: make(map[string]ExtractionRecord),
		Origin:  make(map[string]string),
	}
}

// CIDs returns the set of CIDs present in the corpus.
func (c *Corpus) CIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Records))
	for id := range c.Records {
		out[id] = struct{}{}
	}
	return out
}

// Len returns the number of distinct records.
func (c *Corpus) Len() int {
	return len(c.Records)
}

// TotalRows returns the row count summed over all readable shards, duplicates included.
func (c *Corpus) TotalRows() int {
	total := 0
	for _, s := range c.Shards {
		total += s.Records
	}
	return total
}
