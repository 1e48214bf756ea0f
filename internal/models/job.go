package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the status of a backend job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobTypeExtract is the job type that extracts structured data from a file.
const JobTypeExtract = "EXTRACT"

// Job represents an asynchronous backend task.
type Job struct {
	ID        string          `json:"id" yaml:"id"`
	Type      string          `json:"type" yaml:"type"`
	Status    JobStatus       `json:"status" yaml:"status"`
	Input     json.RawMessage `json:"input,omitempty" yaml:"-"`
	Result    json.RawMessage `json:"result,omitempty" yaml:"-"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"updated_at"`
}

// JobUpdate is delivered by the poller every time a job is checked.
type JobUpdate struct {
	JobID  string
	Status JobStatus
	Job    *Job
	Err    error
}
