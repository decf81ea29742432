// Package ingest implements the episode lifecycle core: the idempotent
// state machine that takes each discovered audio item from freshness and
// duplicate filtering through acquisition, transcription, notification, and
// durable commit, plus the producers and scheduler that feed it.
package ingest

import "time"

// Source identifies which producer discovered a candidate.
type Source string

const (
	SourceFeed   Source = "feed"
	SourceImport Source = "import"
)

// Candidate is one discovered audio item, ephemeral between discovery and
// the end of its pipeline pass. Exactly one of AudioURL and LocalPath is
// set, matching the Source.
type Candidate struct {
	ID        string     // stable deduplication key
	Title     string     // display title
	AudioURL  string     // remote audio, feed items only
	LocalPath string     // path in the import root, import items only
	Published *time.Time // UTC; nil when the source carries no date
	Stem      string     // sanitized output filename stem
	Source    Source
}

// Status is the outcome of one pipeline pass.
type Status int

const (
	// StatusDone means the item was committed: transcript written,
	// identity recorded.
	StatusDone Status = iota
	// StatusSkipped means a filter short-circuited before acquisition.
	StatusSkipped
	// StatusFailed means acquisition or transcription aborted the item;
	// no durable state was recorded and it may be retried next cycle.
	StatusFailed
)

// Result reports how a candidate fared, with the skip reason or failed
// stage for logs and metrics.
type Result struct {
	Status Status
	Reason string
}
