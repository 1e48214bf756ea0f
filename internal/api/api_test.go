package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/turna/console/internal/client"
	"github.com/turna/console/internal/jobs"
	"github.com/turna/console/internal/listing"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/storage"
	"github.com/turna/console/internal/testutil"
	"github.com/turna/console/internal/upload"
)

type memHistory struct {
	mu     sync.Mutex
	events []models.IngestEvent
}

func (h *memHistory) Record(_ context.Context, ev models.IngestEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *memHistory) Recent(_ context.Context, limit int) ([]models.IngestEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]models.IngestEvent(nil), h.events...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *memHistory) Stats(context.Context) (map[string]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := make(map[string]int)
	for _, ev := range h.events {
		stats[ev.Outcome]++
	}
	return stats, nil
}

func (h *memHistory) Outcomes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, ev := range h.events {
		out = append(out, ev.Outcome)
	}
	return out
}

type testEnv struct {
	e       *echo.Echo
	backend *testutil.FakeBackend
	queue   *upload.Queue
	poller  *jobs.Poller
	spool   *storage.Spool
	history *memHistory
}

func newTestEnv(t *testing.T, opts ...client.Option) *testEnv {
	t.Helper()
	return newTestEnvContext(t, context.Background(), opts...)
}

func newTestEnvContext(t *testing.T, ctx context.Context, opts ...client.Option) *testEnv {
	t.Helper()

	backend := testutil.NewFakeBackend(t)
	cl, err := client.New(backend.URL(), opts...)
	require.NoError(t, err)

	spool, err := storage.NewSpool(t.TempDir())
	require.NoError(t, err)

	poller := jobs.NewPoller(cl, 10*time.Millisecond, zerolog.Nop())
	t.Cleanup(poller.Stop)

	queue := upload.NewQueue(poller)
	history := &memHistory{}
	uploader := upload.NewUploader(queue, cl, poller, upload.Options{Recorder: history, Logger: zerolog.Nop()})

	e := NewServer(&Dependencies{
		Context:  ctx,
		Backend:  cl,
		Queue:    queue,
		Uploader: uploader,
		Poller:   poller,
		Spool:    spool,
		History:  history,
		PageSize: 20,
		Version:  "test",
		Logger:   zerolog.Nop(),
	}, MiddlewareOptions{Dev: true})

	return &testEnv{e: e, backend: backend, queue: queue, poller: poller, spool: spool, history: history}
}

func (env *testEnv) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doJSON(t *testing.T, method, target string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return env.do(t, method, target, bytes.NewBuffer(data), echo.MIMEApplicationJSON)
}

type formFile struct {
	name         string
	content      string
	lastModified int64
}

func multipartBody(t *testing.T, files []formFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.name)
		require.NoError(t, err)
		part.Write([]byte(f.content))
		require.NoError(t, writer.WriteField("last_modified", strconv.FormatInt(f.lastModified, 10)))
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestIngest_QueuesUploadsAndCleansSpool(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, []formFile{
		{"a.pdf", "alpha", 1000},
		{"b.pdf", "beta", 2000},
		{"a.pdf", "alpha", 1000},
	}, map[string]string{"hospital_id": "h1"})

	rec := env.do(t, http.MethodPost, "/api/ingest", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Added)
	assert.Equal(t, 1, resp.Skipped)

	require.Eventually(t, func() bool { return env.queue.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, env.backend.Uploads())
	assert.Empty(t, env.spool.List())

	files := env.backend.Files()
	require.Len(t, files, 2)
	require.NotNil(t, files[0].HospitalID)
	assert.Equal(t, "h1", *files[0].HospitalID)
	assert.Equal(t, []string{models.OutcomeUploaded, models.OutcomeUploaded}, env.history.Outcomes())
}

func TestIngest_FailedUploadStaysPending(t *testing.T) {
	env := newTestEnv(t)
	env.backend.FailUpload["bad.pdf"] = http.StatusUnprocessableEntity

	body, ct := multipartBody(t, []formFile{{"bad.pdf", "x", 1}}, nil)
	rec := env.do(t, http.MethodPost, "/api/ingest", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		snap := env.queue.Snapshot()
		return len(snap) == 1 && snap[0].Error != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, env.queue.Snapshot()[0].Error, "upload rejected: bad.pdf")
	assert.Len(t, env.spool.List(), 1)

	rec = env.do(t, http.MethodDelete, "/api/ingest/pending/0", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.spool.List())
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, nil, map[string]string{"hospital_id": "h1"})
	rec := env.do(t, http.MethodPost, "/api/ingest", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)

	body = new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("files", "a.pdf")
	part.Write([]byte("a"))
	writer.WriteField("last_modified", "yesterday")
	writer.Close()
	rec = env.do(t, http.MethodPost, "/api/ingest", body, writer.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "last_modified")

	rec = env.do(t, http.MethodPost, "/api/ingest", bytes.NewBufferString("{}"), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_RequiresLastModified(t *testing.T) {
	env := newTestEnv(t)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		part.Write([]byte(name))
	}
	require.NoError(t, writer.WriteField("last_modified", "1000"))
	require.NoError(t, writer.Close())

	rec := env.do(t, http.MethodPost, "/api/ingest", body, writer.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Contains(t, apiErr.Message, "last_modified")
	assert.Equal(t, 0, env.queue.Len())
}

func TestIngest_RepostDedupes(t *testing.T) {
	env := newTestEnv(t)
	env.backend.FailUpload["a.pdf"] = http.StatusUnprocessableEntity

	body, ct := multipartBody(t, []formFile{{"a.pdf", "alpha", 1000}}, nil)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/ingest", body, ct).Code)

	body, ct = multipartBody(t, []formFile{{"a.pdf", "alpha", 1000}}, nil)
	rec := env.do(t, http.MethodPost, "/api/ingest", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Added)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, 1, env.queue.Len())
}

// failingSpool fails the save with the given 1-based index.
type failingSpool struct {
	*storage.Spool
	failOn int
	saves  int
}

func (s *failingSpool) Save(name string, r io.Reader, lastModified time.Time) (*models.LocalFile, error) {
	s.saves++
	if s.saves == s.failOn {
		return nil, errors.New("disk full")
	}
	return s.Spool.Save(name, r, lastModified)
}

func TestIngest_SpoolFailureStillUploadsQueued(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	cl, err := client.New(backend.URL())
	require.NoError(t, err)
	dir, err := storage.NewSpool(t.TempDir())
	require.NoError(t, err)

	queue := upload.NewQueue(nil)
	uploader := upload.NewUploader(queue, cl, nil, upload.Options{Logger: zerolog.Nop()})
	h := NewIngestHandler(context.Background(), queue, uploader, &failingSpool{Spool: dir, failOn: 2}, zerolog.Nop())

	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(true, zerolog.Nop())
	e.POST("/api/ingest", h.HandleIngest)

	body, ct := multipartBody(t, []formFile{{"a.pdf", "alpha", 1000}, {"b.pdf", "beta", 2000}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Eventually(t, func() bool { return queue.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a.pdf"}, backend.Uploads())
}

func TestIngest_ShuttingDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := newTestEnvContext(t, ctx)

	body, ct := multipartBody(t, []formFile{{"a.pdf", "alpha", 1000}}, nil)
	rec := env.do(t, http.MethodPost, "/api/ingest", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rec).Code)
	assert.Equal(t, 0, env.queue.Len())

	rec = env.do(t, http.MethodPost, "/api/ingest/process", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPending_JSONAndMsgpack(t *testing.T) {
	env := newTestEnv(t)
	env.queue.AddFiles([]models.LocalFile{{Name: "a.pdf", Size: 3, LastModified: time.UnixMilli(5)}})

	rec := env.do(t, http.MethodGet, "/api/ingest/pending", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), `"name":"a.pdf"`)

	req := httptest.NewRequest(http.MethodGet, "/api/ingest/pending", nil)
	req.Header.Set(echo.HeaderAccept, MIMEMsgpack)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEMsgpack, rec.Header().Get(echo.HeaderContentType))

	var out struct {
		Pending []models.PendingFile `msgpack:"pending"`
		Count   int                  `msgpack:"count"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Pending, 1)
	assert.Equal(t, "a.pdf", out.Pending[0].File.Name)
}

func TestRemovePending(t *testing.T) {
	env := newTestEnv(t)
	env.queue.AddFiles([]models.LocalFile{{Name: "a.pdf", Size: 1}})

	rec := env.do(t, http.MethodDelete, "/api/ingest/pending/3", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/ingest/pending/x", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/ingest/pending/0", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.queue.Len())
}

func TestListFiles_PagesAndReconciles(t *testing.T) {
	env := newTestEnv(t)
	env.backend.AddFile("one.pdf", 10, "h1")
	env.backend.AddFile("two.pdf", 20, "h1")
	env.backend.AddFile("three.pdf", 30, "h2")
	env.queue.AddFiles([]models.LocalFile{
		{Name: "two.pdf", Size: 20},
		{Name: "four.pdf", Size: 40},
	})

	rec := env.do(t, http.MethodGet, "/api/files?hospital_id=h1&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp FileListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Limit)
	assert.True(t, resp.HasMore)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "one.pdf", resp.Items[0].Filename)
	assert.Equal(t, 0, resp.Reconciled)

	rec = env.do(t, http.MethodGet, "/api/files?hospital_id=h1&limit=1&offset=1", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.HasMore)
	assert.Equal(t, 1, resp.Reconciled)
	assert.Equal(t, 1, env.queue.Len())
}

func TestListFiles_InvalidRange(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/files?start_at=2024-05-01&end_at=2024-04-01", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
}

func TestSessionExpiredMapsTo401(t *testing.T) {
	env := newTestEnv(t, client.WithToken("stale"))
	env.backend.Token = "fresh"

	rec := env.do(t, http.MethodGet, "/api/files", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "SESSION_EXPIRED", apiErr.Code)
	assert.Equal(t, "session expired, please sign in again", apiErr.Message)
}

func TestBulkDelete_IDs(t *testing.T) {
	env := newTestEnv(t)
	a := env.backend.AddFile("a.pdf", 1, "")
	b := env.backend.AddFile("b.pdf", 2, "")
	c := env.backend.AddFile("c.pdf", 3, "")
	env.backend.FailDelete[b.ID] = http.StatusInternalServerError

	rec := env.doJSON(t, http.MethodPost, "/api/files/bulk-delete", map[string]interface{}{
		"ids": []string{a.ID, b.ID, c.ID, a.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2,"failed":1}`, rec.Body.String())
	assert.Len(t, env.backend.Deletes(), 3)
	assert.Len(t, env.backend.Files(), 1)
}

func TestBulkDelete_AllWithExclusions(t *testing.T) {
	env := newTestEnv(t)
	keep := env.backend.AddFile("keep.pdf", 1, "h1")
	env.backend.AddFile("x.pdf", 2, "h1")
	env.backend.AddFile("y.pdf", 3, "h1")
	other := env.backend.AddFile("other.pdf", 4, "h2")

	rec := env.doJSON(t, http.MethodPost, "/api/files/bulk-delete", bulkDeleteRequest{
		All:     true,
		Exclude: []string{keep.ID},
		Filter:  listing.Filter{HospitalID: "h1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2,"failed":0}`, rec.Body.String())

	var left []string
	for _, f := range env.backend.Files() {
		left = append(left, f.ID)
	}
	assert.ElementsMatch(t, []string{keep.ID, other.ID}, left)
}

func TestBulkDelete_RequiresIDs(t *testing.T) {
	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodPost, "/api/files/bulk-delete", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractAndJobs(t *testing.T) {
	env := newTestEnv(t)
	f := env.backend.AddFile("scan.pdf", 10, "")

	rec := env.do(t, http.MethodPost, "/api/files/"+f.ID+"/extract", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created struct {
		JobID    string           `json:"job_id"`
		Status   models.JobStatus `json:"status"`
		Watching bool             `json:"watching"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.JobID)
	assert.Equal(t, models.JobStatusPending, created.Status)
	assert.True(t, created.Watching)

	require.Eventually(t, func() bool {
		out := env.history.Outcomes()
		return len(out) == 1 && out[0] == models.OutcomeCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+created.JobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)

	rec = env.do(t, http.MethodGet, "/api/jobs?limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.JobID)

	rec = env.do(t, http.MethodGet, "/api/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"COMPLETED":1`)

	rec = env.do(t, http.MethodGet, "/api/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BACKEND_ERROR", decodeError(t, rec).Code)
}

func TestActiveJobs(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/jobs/active", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[],"count":0}`, rec.Body.String())
}

func TestPendingStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ingest/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg WSMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, MsgTypePending, msg.Type)
	assert.JSONEq(t, `[]`, string(msg.Payload))

	env.queue.AddFiles([]models.LocalFile{{Name: "a.pdf", Size: 1}})
	require.NoError(t, ws.ReadJSON(&msg))
	var pending []models.PendingFile
	require.NoError(t, json.Unmarshal(msg.Payload, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "a.pdf", pending[0].File.Name)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing}))
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, MsgTypePong, msg.Type)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: "subscribe"}))
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, MsgTypeError, msg.Type)
	assert.Contains(t, string(msg.Payload), "unknown message type: subscribe")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"session", client.ErrSessionExpired, http.StatusUnauthorized, "SESSION_EXPIRED"},
		{"backend", &client.APIError{Status: 409, Message: "conflict"}, 409, "BACKEND_ERROR"},
		{"backend code", &client.APIError{Status: 422, Code: "INVALID", Message: "bad"}, 422, "INVALID"},
		{"validation", &client.ValidationError{Field: "end_at", Message: "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"own", NewNotFoundError("job", "1"), http.StatusNotFound, "NOT_FOUND"},
		{"echo", echo.ErrMethodNotAllowed, http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{"transport", assert.AnError, http.StatusBadGateway, "BACKEND_UNREACHABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := toAPIError(tt.err, false)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}
