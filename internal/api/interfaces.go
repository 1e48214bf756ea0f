// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/turna/console/internal/models"
)

// IngestHandler handles the local upload queue
type IngestHandler interface {
	HandleIngest(c echo.Context) error
	HandlePending(c echo.Context) error
	HandleRemovePending(c echo.Context) error
	HandleProcess(c echo.Context) error
	HandlePendingStream(c echo.Context) error
}

// FilesHandler handles the backend file list
type FilesHandler interface {
	HandleListFiles(c echo.Context) error
	HandleBulkDelete(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleExtract(c echo.Context) error
}

// JobsHandler handles extraction job lookups
type JobsHandler interface {
	HandleGetJob(c echo.Context) error
	HandleListJobs(c echo.Context) error
	HandleActiveJobs(c echo.Context) error
}

// HistoryHandler serves the ingestion history
type HistoryHandler interface {
	HandleHistory(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Backend is the part of the REST client the handlers call.
// This allows mocking in tests
type Backend interface {
	ListFiles(ctx context.Context, query url.Values) (*models.Page[models.FileRecord], error)
	DeleteFile(ctx context.Context, id string) error
	CreateExtractJob(ctx context.Context, fileID string) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, jobType string, limit int) ([]models.Job, error)
}

// History reads and writes ingestion events.
type History interface {
	Record(ctx context.Context, ev models.IngestEvent) error
	Recent(ctx context.Context, limit int) ([]models.IngestEvent, error)
	Stats(ctx context.Context) (map[string]int, error)
}

// Spool parks received uploads on disk while they are queued.
type Spool interface {
	Save(name string, r io.Reader, lastModified time.Time) (*models.LocalFile, error)
	Delete(id string) error
}
