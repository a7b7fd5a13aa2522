package models

import "time"

// RunState is the terminal state of one ingestion run.
type RunState string

const (
	RunStateUpToDate  RunState = "up-to-date"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// RunReport summarizes an ingestion run for logs and callers.
type RunReport struct {
	State              RunState      `json:"state"`
	AlreadyIngested    int           `json:"already_ingested"`
	Pending            int           `json:"pending"`
	DocumentsChunked   int           `json:"documents_chunked"`
	DocumentsFailed    int           `json:"documents_failed"`
	DocumentsEmpty     int           `json:"documents_empty"`
	Chunks             int           `json:"chunks"`
	OversizedFragments int           `json:"oversized_fragments"`
	Batches            int           `json:"batches"`
	FailedBatches      int           `json:"failed_batches"`
	ChunksWritten      int           `json:"chunks_written"`
	DocumentsPurged    int           `json:"documents_purged"`
	IndexBuilt         bool          `json:"index_built"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
}
