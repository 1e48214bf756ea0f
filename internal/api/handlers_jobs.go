// handlers_jobs.go - Job status handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/turna/console/internal/models"
)

// ActiveLister reports the job ids currently being polled.
type ActiveLister interface {
	Active() []string
}

// JobsHandlerImpl implements the JobsHandler interface
type JobsHandlerImpl struct {
	backend Backend
	active  ActiveLister
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(backend Backend, active ActiveLister) JobsHandler {
	return &JobsHandlerImpl{backend: backend, active: active}
}

// HandleGetJob returns one job from the backend.
func (h *JobsHandlerImpl) HandleGetJob(c echo.Context) error {
	job, err := h.backend.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// HandleListJobs returns recent jobs of one type.
func (h *JobsHandlerImpl) HandleListJobs(c echo.Context) error {
	jobType := c.QueryParam("job_type")
	if jobType == "" {
		jobType = models.JobTypeExtract
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	list, err := h.backend.ListJobs(c.Request().Context(), jobType, limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []models.Job{}
	}
	return c.JSON(http.StatusOK, list)
}

// HandleActiveJobs returns the ids being polled right now.
func (h *JobsHandlerImpl) HandleActiveJobs(c echo.Context) error {
	active := h.active.Active()
	if active == nil {
		active = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":  active,
		"count": len(active),
	})
}
