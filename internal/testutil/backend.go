// Package testutil provides an in-memory Turna backend for tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/turna/console/internal/models"
)

// FakeBackend implements the subset of the Turna REST API the console uses.
// Every GET on a job advances it one step through JobSequence.
type FakeBackend struct {
	mu sync.Mutex

	files   []*models.FileRecord
	jobs    map[string]*fakeJob
	objects map[string]map[string]map[string]any

	// Token, when set, is required as a bearer token on every request.
	Token string
	// JobSequence is the status walk of new jobs.
	JobSequence []models.JobStatus
	// FailUpload maps a filename to the status its upload returns.
	FailUpload map[string]int
	// FailDelete maps a file id to the status its delete returns.
	FailDelete map[string]int

	uploads  []string
	deletes  []string
	jobGets  map[string]int
	requests int

	server *httptest.Server
}

type fakeJob struct {
	job    models.Job
	fileID string
	step   int
}

// NewFakeBackend starts a fake backend that is closed when the test ends.
func NewFakeBackend(t interface {
	Cleanup(func())
}) *FakeBackend {
	b := &FakeBackend{
		jobs:        make(map[string]*fakeJob),
		objects:     make(map[string]map[string]map[string]any),
		JobSequence: []models.JobStatus{models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted},
		FailUpload:  make(map[string]int),
		FailDelete:  make(map[string]int),
		jobGets:     make(map[string]int),
	}
	b.server = httptest.NewServer(b.router())
	t.Cleanup(b.server.Close)
	return b
}

// URL returns the base URL of the fake backend.
func (b *FakeBackend) URL() string {
	return b.server.URL
}

func (b *FakeBackend) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(b.countAndAuth)

	e.POST("/api/file/upload", b.handleUpload)
	e.GET("/api/file/list", b.handleListFiles)
	e.DELETE("/api/file/:id", b.handleDeleteFile)

	e.POST("/api/job/extract", b.handleExtract)
	e.GET("/api/job/list", b.handleListJobs)
	e.GET("/api/job/:id", b.handleGetJob)

	e.GET("/api/:resource/list", b.handleListObjects)
	e.POST("/api/:resource", b.handleCreateObject)
	e.GET("/api/:resource/:id", b.handleGetObject)
	e.PUT("/api/:resource/:id", b.handleUpdateObject)
	e.DELETE("/api/:resource/:id", b.handleDeleteObject)
	return e
}

func (b *FakeBackend) countAndAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		b.mu.Lock()
		b.requests++
		token := b.Token
		b.mu.Unlock()

		if token != "" && c.Request().Header.Get("Authorization") != "Bearer "+token {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		}
		return next(c)
	}
}

// AddFile seeds a file record and returns it.
func (b *FakeBackend) AddFile(name string, size int64, hospitalID string) models.FileRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.addFileLocked(name, size, "application/octet-stream", hospitalID)
}

func (b *FakeBackend) addFileLocked(name string, size int64, contentType, hospitalID string) *models.FileRecord {
	rec := &models.FileRecord{
		ID:          uuid.New().String(),
		Filename:    name,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	if hospitalID != "" {
		h := hospitalID
		rec.HospitalID = &h
	}
	b.files = append(b.files, rec)
	return rec
}

// Files returns a copy of the stored file records.
func (b *FakeBackend) Files() []models.FileRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.FileRecord, 0, len(b.files))
	for _, f := range b.files {
		out = append(out, *f)
	}
	return out
}

// Uploads returns the filenames in the order they were uploaded.
func (b *FakeBackend) Uploads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.uploads...)
}

// Deletes returns the file ids delete was called with.
func (b *FakeBackend) Deletes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deletes...)
}

// JobGets returns how many times a job's status was fetched.
func (b *FakeBackend) JobGets(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobGets[id]
}

// JobIDs returns the ids of all created jobs.
func (b *FakeBackend) JobIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.jobs))
	for id := range b.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *FakeBackend) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "file is required"})
	}

	b.mu.Lock()
	status, fail := b.FailUpload[fh.Filename]
	b.uploads = append(b.uploads, fh.Filename)
	b.mu.Unlock()
	if fail {
		return c.JSON(status, map[string]string{"detail": "upload rejected: " + fh.Filename})
	}

	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	size, err := io.Copy(io.Discard, src)
	if err != nil {
		return err
	}

	b.mu.Lock()
	rec := b.addFileLocked(fh.Filename, size, fh.Header.Get("Content-Type"), c.FormValue("hospital_id"))
	out := *rec
	b.mu.Unlock()
	return c.JSON(http.StatusCreated, out)
}

func (b *FakeBackend) handleListFiles(c echo.Context) error {
	limit, offset := pageParams(c)
	hospital := c.QueryParam("hospital_id")

	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []models.FileRecord
	for _, f := range b.files {
		if hospital != "" && (f.HospitalID == nil || *f.HospitalID != hospital) {
			continue
		}
		rec := *f
		if st, ok := b.latestJobStatusLocked(f.ID); ok {
			rec.JobStatus = &st
		}
		matched = append(matched, rec)
	}

	return c.JSON(http.StatusOK, models.Page[models.FileRecord]{
		Items:  window(matched, offset, limit),
		Total:  len(matched),
		Limit:  limit,
		Offset: offset,
	})
}

func (b *FakeBackend) latestJobStatusLocked(fileID string) (models.JobStatus, bool) {
	var latest *fakeJob
	for _, j := range b.jobs {
		if j.fileID == fileID && (latest == nil || j.job.CreatedAt.After(latest.job.CreatedAt)) {
			latest = j
		}
	}
	if latest == nil {
		return "", false
	}
	return latest.job.Status, true
}

func (b *FakeBackend) handleDeleteFile(c echo.Context) error {
	id := c.Param("id")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.deletes = append(b.deletes, id)
	if status, fail := b.FailDelete[id]; fail {
		return c.JSON(status, map[string]string{"detail": "delete failed"})
	}
	for i, f := range b.files {
		if f.ID == id {
			b.files = append(b.files[:i], b.files[i+1:]...)
			return c.NoContent(http.StatusNoContent)
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"detail": "file not found"})
}

func (b *FakeBackend) handleExtract(c echo.Context) error {
	var body struct {
		FileID string `json:"file_id"`
	}
	if err := c.Bind(&body); err != nil || body.FileID == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "file_id is required"})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for _, f := range b.files {
		if f.ID == body.FileID {
			found = true
			break
		}
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "file not found"})
	}

	now := time.Now().UTC()
	j := &fakeJob{
		job: models.Job{
			ID:        uuid.New().String(),
			Type:      models.JobTypeExtract,
			Status:    b.JobSequence[0],
			CreatedAt: now,
			UpdatedAt: now,
		},
		fileID: body.FileID,
	}
	b.jobs[j.job.ID] = j
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": j.job.ID})
}

func (b *FakeBackend) handleGetJob(c echo.Context) error {
	id := c.Param("id")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobGets[id]++
	j, ok := b.jobs[id]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "job not found"})
	}

	j.job.Status = b.JobSequence[j.step]
	if j.step < len(b.JobSequence)-1 {
		j.step++
	}
	if j.job.Status == models.JobStatusFailed {
		j.job.Error = "extraction failed"
	}
	j.job.UpdatedAt = time.Now().UTC()
	return c.JSON(http.StatusOK, j.job)
}

func (b *FakeBackend) handleListJobs(c echo.Context) error {
	jobType := c.QueryParam("job_type")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Job, 0, len(b.jobs))
	for _, j := range b.jobs {
		if jobType == "" || j.job.Type == jobType {
			out = append(out, j.job)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return c.JSON(http.StatusOK, out)
}

func (b *FakeBackend) collection(name string) map[string]map[string]any {
	col, ok := b.objects[name]
	if !ok {
		col = make(map[string]map[string]any)
		b.objects[name] = col
	}
	return col
}

func (b *FakeBackend) handleListObjects(c echo.Context) error {
	limit, offset := pageParams(c)

	b.mu.Lock()
	defer b.mu.Unlock()

	col := b.collection(c.Param("resource"))
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, col[id])
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":  window(items, offset, limit),
		"total":  len(items),
		"limit":  limit,
		"offset": offset,
	})
}

// decodeObject reads the JSON body only. echo's Bind would also copy the
// path params into the map.
func decodeObject(c echo.Context) (map[string]any, error) {
	obj := map[string]any{}
	if err := json.NewDecoder(c.Request().Body).Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *FakeBackend) handleCreateObject(c echo.Context) error {
	obj, err := decodeObject(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid body"})
	}
	obj["id"] = uuid.New().String()

	b.mu.Lock()
	b.collection(c.Param("resource"))[obj["id"].(string)] = obj
	b.mu.Unlock()
	return c.JSON(http.StatusCreated, obj)
}

func (b *FakeBackend) handleGetObject(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.collection(c.Param("resource"))[c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": c.Param("resource") + " not found"})
	}
	return c.JSON(http.StatusOK, obj)
}

func (b *FakeBackend) handleUpdateObject(c echo.Context) error {
	obj, err := decodeObject(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid body"})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	col := b.collection(c.Param("resource"))
	if _, ok := col[c.Param("id")]; !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": c.Param("resource") + " not found"})
	}
	obj["id"] = c.Param("id")
	col[c.Param("id")] = obj
	return c.JSON(http.StatusOK, obj)
}

func (b *FakeBackend) handleDeleteObject(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	col := b.collection(c.Param("resource"))
	if _, ok := col[c.Param("id")]; !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": c.Param("resource") + " not found"})
	}
	delete(col, c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func pageParams(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
