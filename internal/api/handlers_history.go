// handlers_history.go - Ingestion history handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/turna/console/internal/models"
)

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	history History
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(history History) HistoryHandler {
	return &HistoryHandlerImpl{history: history}
}

// HandleHistory returns the most recent events and the outcome counts.
func (h *HistoryHandlerImpl) HandleHistory(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx := c.Request().Context()
	events, err := h.history.Recent(ctx, limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	stats, err := h.history.Stats(ctx)
	if err != nil {
		return NewInternalError("failed to read history stats", err)
	}
	if events == nil {
		events = []models.IngestEvent{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"stats":  stats,
	})
}
