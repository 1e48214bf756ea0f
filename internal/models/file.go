package models

import (
	"fmt"
	"time"
)

// FileRecord represents metadata about a file the backend has accepted.
type FileRecord struct {
	ID          string     `json:"id" msgpack:"id" yaml:"id"`
	Filename    string     `json:"filename" msgpack:"filename" yaml:"filename"`
	ContentType string     `json:"content_type" msgpack:"content_type" yaml:"content_type"`
	Size        int64      `json:"size" msgpack:"size" yaml:"size"`
	HospitalID  *string    `json:"hospital_id,omitempty" msgpack:"hospital_id,omitempty" yaml:"hospital_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at" msgpack:"created_at" yaml:"created_at"`
	JobStatus   *JobStatus `json:"job_status,omitempty" msgpack:"job_status,omitempty" yaml:"job_status,omitempty"`
}

// FileKey identifies a local file before the backend has assigned it an id.
type FileKey struct {
	Name         string
	Size         int64
	LastModified int64 // Unix ms
}

// String renders the key the way it is shown in logs.
func (k FileKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Name, k.Size, k.LastModified)
}

// LocalFile is a file selected for upload (picker, drop, or CLI argument).
type LocalFile struct {
	Name         string    `json:"name" msgpack:"name"`
	Size         int64     `json:"size" msgpack:"size"`
	LastModified time.Time `json:"last_modified" msgpack:"last_modified"`
	Path         string    `json:"-" msgpack:"-"`
	SpoolID      string    `json:"spool_id,omitempty" msgpack:"spool_id,omitempty"`
	HospitalID   string    `json:"hospital_id,omitempty" msgpack:"hospital_id,omitempty"`
}

// Key returns the identity key of the file.
func (f LocalFile) Key() FileKey {
	return FileKey{Name: f.Name, Size: f.Size, LastModified: f.LastModified.UnixMilli()}
}

// PendingFile is a client-tracked file queued for upload that the backend's
// file list does not show yet.
type PendingFile struct {
	File      LocalFile `json:"file" msgpack:"file"`
	FileID    string    `json:"file_id,omitempty" msgpack:"file_id,omitempty"`
	JobID     string    `json:"job_id,omitempty" msgpack:"job_id,omitempty"`
	JobStatus JobStatus `json:"job_status,omitempty" msgpack:"job_status,omitempty"`
	Error     string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Uploading bool      `json:"uploading" msgpack:"uploading"`
}

// Key returns the identity key of the underlying file.
func (p PendingFile) Key() FileKey {
	return p.File.Key()
}

// Matches reports whether rec is the server-side record of this pending file.
// The id is authoritative once known; before that name and size are compared.
func (p PendingFile) Matches(rec FileRecord) bool {
	if p.FileID != "" {
		return p.FileID == rec.ID
	}
	return p.File.Name == rec.Filename && p.File.Size == rec.Size
}
