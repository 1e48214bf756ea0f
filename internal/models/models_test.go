package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestFileKey(t *testing.T) {
	modified := time.UnixMilli(1700000000123)
	a := LocalFile{Name: "scan.pdf", Size: 42, LastModified: modified, Path: "/tmp/a"}
	b := LocalFile{Name: "scan.pdf", Size: 42, LastModified: modified, Path: "/tmp/b"}

	assert.Equal(t, a.Key(), b.Key(), "path is not part of the identity")
	assert.Equal(t, "scan.pdf:42:1700000000123", a.Key().String())

	b.LastModified = modified.Add(time.Second)
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestPendingFile_Matches(t *testing.T) {
	p := PendingFile{File: LocalFile{Name: "scan.pdf", Size: 42}}

	assert.True(t, p.Matches(FileRecord{ID: "f1", Filename: "scan.pdf", Size: 42}))
	assert.False(t, p.Matches(FileRecord{ID: "f1", Filename: "scan.pdf", Size: 43}))

	p.FileID = "f2"
	assert.False(t, p.Matches(FileRecord{ID: "f1", Filename: "scan.pdf", Size: 42}))
	assert.True(t, p.Matches(FileRecord{ID: "f2", Filename: "renamed.pdf", Size: 1}))
}

func TestPage_HasMore(t *testing.T) {
	page := Page[FileRecord]{Items: make([]FileRecord, 20), Total: 45, Limit: 20, Offset: 20}
	assert.True(t, page.HasMore())

	page.Offset = 40
	page.Items = make([]FileRecord, 5)
	assert.False(t, page.HasMore())
}
