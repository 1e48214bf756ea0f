package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/turna/console/internal/models"
)

// createJobResponse accepts both {"job_id": ...} and a full job body.
type createJobResponse struct {
	models.Job
	JobID string `json:"job_id"`
}

// CreateExtractJob asks the backend to extract structured data from a file.
func (c *Client) CreateExtractJob(ctx context.Context, fileID string) (*models.Job, error) {
	if fileID == "" {
		return nil, &ValidationError{Field: "file id", Message: "is required"}
	}

	req, err := jsonRequest(http.MethodPost, "/api/job/extract", map[string]string{"file_id": fileID})
	if err != nil {
		return nil, err
	}

	var resp createJobResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	job := resp.Job
	if job.ID == "" {
		job.ID = resp.JobID
	}
	if job.Type == "" {
		job.Type = models.JobTypeExtract
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	return &job, nil
}

// GetJob returns the current state of a job.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	if id == "" {
		return nil, &ValidationError{Field: "job id", Message: "is required"}
	}
	var job models.Job
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/job/" + url.PathEscape(id)}, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = id
	}
	return &job, nil
}

// ListJobs returns recent jobs of one type. An empty jobType lists all types.
func (c *Client) ListJobs(ctx context.Context, jobType string, limit int) ([]models.Job, error) {
	q := url.Values{}
	if jobType != "" {
		q.Set("job_type", jobType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	page, err := getPage[models.Job](ctx, c, "/api/job/list", q)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}
