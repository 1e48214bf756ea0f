// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/turna/console/internal/upload"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	queue    *upload.Queue
	uploader *upload.Uploader
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, queue *upload.Queue, uploader *upload.Uploader) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		queue:    queue,
		uploader: uploader,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"pending":   h.queue.Len(),
		"uploading": h.uploader.Processing(),
	})
}
