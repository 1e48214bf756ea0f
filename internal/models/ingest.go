package models

import "time"

// IngestStage names the step of the ingestion workflow an event belongs to.
type IngestStage string

const (
	StageUpload  IngestStage = "upload"
	StageExtract IngestStage = "extract"
)

// Ingest outcomes recorded in the history.
const (
	OutcomeUploaded  = "UPLOADED"
	OutcomeRejected  = "REJECTED"
	OutcomeCompleted = string(JobStatusCompleted)
	OutcomeFailed    = string(JobStatusFailed)
)

// IngestEvent is one recorded outcome of the ingestion workflow.
type IngestEvent struct {
	ID         string      `json:"id" yaml:"id"`
	RecordedAt time.Time   `json:"recorded_at" yaml:"recorded_at"`
	Stage      IngestStage `json:"stage" yaml:"stage"`
	FileName   string      `json:"file_name" yaml:"file_name"`
	FileSize   int64       `json:"file_size" yaml:"file_size"`
	FileID     string      `json:"file_id,omitempty" yaml:"file_id,omitempty"`
	JobID      string      `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Outcome    string      `json:"outcome" yaml:"outcome"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}
