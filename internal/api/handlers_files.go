// handlers_files.go - Backend file list handlers
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/turna/console/internal/listing"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/upload"
)

// FileListResponse is one page of the backend file list.
type FileListResponse struct {
	Items      []models.FileRecord `json:"items"`
	Total      int                 `json:"total"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
	HasMore    bool                `json:"has_more"`
	Reconciled int                 `json:"reconciled"`
}

type bulkDeleteRequest struct {
	IDs     []string       `json:"ids"`
	All     bool           `json:"all"`
	Exclude []string       `json:"exclude"`
	Filter  listing.Filter `json:"filter"`
}

// FilesHandlerImpl implements the FilesHandler interface
type FilesHandlerImpl struct {
	backend  Backend
	queue    *upload.Queue
	watcher  upload.Watcher
	history  History
	pageSize int
	logger   zerolog.Logger
}

// NewFilesHandler creates a new files handler
func NewFilesHandler(backend Backend, queue *upload.Queue, watcher upload.Watcher, history History, pageSize int, logger zerolog.Logger) FilesHandler {
	return &FilesHandlerImpl{
		backend:  backend,
		queue:    queue,
		watcher:  watcher,
		history:  history,
		pageSize: pageSize,
		logger:   logger,
	}
}

// HandleListFiles loads one page under the query filter and drops the
// pending entries that now appear in it.
func (h *FilesHandlerImpl) HandleListFiles(c echo.Context) error {
	var filter listing.Filter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return NewBadRequestError("invalid query", err)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = h.pageSize
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctrl := listing.NewFileController(limit)
	if _, err := ctrl.SetFilter(filter); err != nil {
		return err
	}
	ctrl.SetOffset(offset)

	page, err := ctrl.Load(c.Request().Context(), h.backend.ListFiles)
	if err != nil {
		return err
	}

	items := page.Items
	if items == nil {
		items = []models.FileRecord{}
	}
	p := ctrl.Page()
	return c.JSON(http.StatusOK, FileListResponse{
		Items:      items,
		Total:      page.Total,
		Limit:      p.Limit,
		Offset:     p.Offset,
		HasMore:    ctrl.HasNext(),
		Reconciled: h.queue.Reconcile(items),
	})
}

// HandleBulkDelete deletes the given ids, or every file under a filter
// minus exclusions, and reports counts.
func (h *FilesHandlerImpl) HandleBulkDelete(c echo.Context) error {
	var req bulkDeleteRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if !req.All && len(req.IDs) == 0 {
		return NewValidationError("ids", "at least one id is required")
	}

	ctx := c.Request().Context()
	ctrl := listing.NewFileController(listing.MaxLimit)
	if _, err := ctrl.SetFilter(req.Filter); err != nil {
		return err
	}

	var (
		res listing.BulkResult
		err error
	)
	if req.All {
		ctrl.SelectAll()
		for _, id := range req.Exclude {
			ctrl.Toggle(id)
		}
		res, err = ctrl.DeleteSelected(ctx, h.backend.ListFiles, h.backend.DeleteFile)
		if err != nil {
			return err
		}
	} else {
		res = ctrl.BulkDelete(ctx, dedupe(req.IDs), h.backend.DeleteFile)
	}

	h.logger.Info().Int("deleted", res.Deleted).Int("failed", res.Failed).Msg("bulk delete finished")
	return c.JSON(http.StatusOK, res)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// HandleDeleteFile deletes one backend file.
func (h *FilesHandlerImpl) HandleDeleteFile(c echo.Context) error {
	if err := h.backend.DeleteFile(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleExtract creates an extraction job for an uploaded file and watches
// it until it finishes.
func (h *FilesHandlerImpl) HandleExtract(c echo.Context) error {
	fileID := c.Param("id")
	job, err := h.backend.CreateExtractJob(c.Request().Context(), fileID)
	if err != nil {
		return err
	}

	watching := h.watcher.Watch(job.ID, func(up models.JobUpdate) {
		if !up.Status.IsTerminal() {
			return
		}
		ev := models.IngestEvent{
			Stage:   models.StageExtract,
			FileID:  fileID,
			JobID:   up.JobID,
			Outcome: string(up.Status),
		}
		if up.Err != nil {
			ev.Error = up.Err.Error()
		} else if up.Job != nil {
			ev.Error = up.Job.Error
		}
		if err := h.history.Record(context.Background(), ev); err != nil {
			h.logger.Error().Err(err).Str("job_id", up.JobID).Msg("failed to record extraction outcome")
		}
	})

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"job_id":   job.ID,
		"status":   job.Status,
		"watching": watching,
	})
}
