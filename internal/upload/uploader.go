package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/turna/console/internal/client"
	"github.com/turna/console/internal/jobs"
	"github.com/turna/console/internal/models"
)

// Backend is the part of the REST client the uploader needs.
type Backend interface {
	UploadFile(ctx context.Context, name string, r io.Reader, opts client.UploadOptions) (*models.FileRecord, error)
	CreateExtractJob(ctx context.Context, fileID string) (*models.Job, error)
}

// Watcher starts and stops status polling for a job.
type Watcher interface {
	Watch(jobID string, onUpdate jobs.UpdateFunc) bool
	Cancel(jobID string) bool
}

// Recorder stores ingestion outcomes.
type Recorder interface {
	Record(ctx context.Context, ev models.IngestEvent) error
}

// OpenFunc opens the content of a local file.
type OpenFunc func(f models.LocalFile) (io.ReadCloser, error)

func openPath(f models.LocalFile) (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// Options configures an Uploader.
type Options struct {
	AutoExtract bool
	Recorder    Recorder
	Open        OpenFunc
	Logger      zerolog.Logger
}

// Result summarises one Process run.
type Result struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
}

// Uploader drains a Queue one file at a time.
type Uploader struct {
	queue       *Queue
	backend     Backend
	watcher     Watcher
	recorder    Recorder
	open        OpenFunc
	autoExtract bool
	logger      zerolog.Logger

	processing atomic.Bool
}

// NewUploader creates an uploader for queue. watcher is only used with
// auto-extract and may be nil otherwise.
func NewUploader(queue *Queue, backend Backend, watcher Watcher, opts Options) *Uploader {
	open := opts.Open
	if open == nil {
		open = openPath
	}
	return &Uploader{
		queue:       queue,
		backend:     backend,
		watcher:     watcher,
		recorder:    opts.Recorder,
		open:        open,
		autoExtract: opts.AutoExtract && watcher != nil,
		logger:      opts.Logger,
	}
}

// AutoExtract reports whether uploads are followed by an extraction job.
func (u *Uploader) AutoExtract() bool {
	return u.autoExtract
}

// Processing reports whether a Process run is in progress.
func (u *Uploader) Processing() bool {
	return u.processing.Load()
}

// Process uploads every waiting entry in queue order, including entries
// added while it runs. It returns false without doing anything when another
// run is already in progress. Failed entries keep their error and are not
// retried.
func (u *Uploader) Process(ctx context.Context) (Result, bool) {
	if !u.processing.CompareAndSwap(false, true) {
		return Result{}, false
	}

	var res Result
	for {
		u.drain(ctx, &res)
		u.processing.Store(false)

		// Files added between the last check and the guard release.
		if ctx.Err() != nil || !u.queue.hasWork() || !u.processing.CompareAndSwap(false, true) {
			return res, true
		}
	}
}

// Kick starts Process in the background.
func (u *Uploader) Kick(ctx context.Context) {
	go func() {
		res, ran := u.Process(ctx)
		if ran && (res.Uploaded > 0 || res.Failed > 0) {
			u.logger.Info().Int("uploaded", res.Uploaded).Int("failed", res.Failed).Msg("upload run finished")
		}
	}()
}

func (u *Uploader) drain(ctx context.Context, res *Result) {
	for ctx.Err() == nil {
		p, ok := u.queue.next()
		if !ok {
			return
		}
		if u.uploadOne(ctx, p) {
			res.Uploaded++
		} else {
			res.Failed++
		}
	}
}

func (u *Uploader) uploadOne(ctx context.Context, p models.PendingFile) bool {
	key := p.Key()
	u.queue.update(key, func(e *models.PendingFile) { e.Uploading = true })

	rec, err := u.send(ctx, p.File)
	if err != nil {
		u.logger.Warn().Err(err).Str("file", p.File.Name).Msg("upload failed")
		u.queue.update(key, func(e *models.PendingFile) {
			e.Uploading = false
			e.Error = err.Error()
		})
		u.record(ctx, models.IngestEvent{
			Stage:    models.StageUpload,
			FileName: p.File.Name,
			FileSize: p.File.Size,
			Outcome:  models.OutcomeRejected,
			Error:    err.Error(),
		})
		return false
	}

	u.logger.Info().Str("file", p.File.Name).Str("file_id", rec.ID).Msg("file uploaded")
	u.record(ctx, models.IngestEvent{
		Stage:    models.StageUpload,
		FileName: p.File.Name,
		FileSize: p.File.Size,
		FileID:   rec.ID,
		Outcome:  models.OutcomeUploaded,
	})

	if !u.autoExtract {
		u.queue.removeKey(key)
		return true
	}

	if !u.queue.update(key, func(e *models.PendingFile) {
		e.Uploading = false
		e.FileID = rec.ID
		e.JobStatus = models.JobStatusPending
	}) {
		// Removed by the operator while uploading.
		return true
	}
	u.startExtraction(ctx, key, p.File, rec.ID)
	return true
}

func (u *Uploader) send(ctx context.Context, f models.LocalFile) (*models.FileRecord, error) {
	r, err := u.open(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer r.Close()

	return u.backend.UploadFile(ctx, f.Name, r, client.UploadOptions{HospitalID: f.HospitalID})
}

func (u *Uploader) startExtraction(ctx context.Context, key models.FileKey, f models.LocalFile, fileID string) {
	job, err := u.backend.CreateExtractJob(ctx, fileID)
	if err != nil {
		u.logger.Warn().Err(err).Str("file_id", fileID).Msg("extraction job not created")
		u.queue.update(key, func(e *models.PendingFile) {
			e.JobStatus = models.JobStatusFailed
			e.Error = err.Error()
		})
		u.record(ctx, models.IngestEvent{
			Stage:    models.StageExtract,
			FileName: f.Name,
			FileSize: f.Size,
			FileID:   fileID,
			Outcome:  models.OutcomeFailed,
			Error:    err.Error(),
		})
		return
	}

	tracked := u.queue.update(key, func(e *models.PendingFile) {
		e.JobID = job.ID
		e.JobStatus = job.Status
	})
	if !tracked {
		u.logger.Debug().Str("job_id", job.ID).Str("file", f.Name).Msg("entry removed before extraction started, not watching")
		return
	}

	u.watcher.Watch(job.ID, u.onJobUpdate(key, f, fileID))
	// RemoveFile may have run between update and Watch and found no watch to cancel.
	if !u.queue.tracks(key, job.ID) {
		u.watcher.Cancel(job.ID)
	}
}

// onJobUpdate mirrors job progress into the queue entry. A completed job
// removes the entry; a failed one keeps it with the error until the list
// refresh reconciles it.
func (u *Uploader) onJobUpdate(key models.FileKey, f models.LocalFile, fileID string) jobs.UpdateFunc {
	return func(up models.JobUpdate) {
		if !up.Status.IsTerminal() {
			u.queue.update(key, func(e *models.PendingFile) { e.JobStatus = up.Status })
			return
		}

		ev := models.IngestEvent{
			Stage:    models.StageExtract,
			FileName: f.Name,
			FileSize: f.Size,
			FileID:   fileID,
			JobID:    up.JobID,
			Outcome:  models.OutcomeCompleted,
		}
		if up.Status == models.JobStatusFailed {
			ev.Outcome = models.OutcomeFailed
			ev.Error = jobError(up)
		}
		u.record(context.Background(), ev)

		if ev.Outcome == models.OutcomeFailed {
			u.queue.update(key, func(e *models.PendingFile) {
				e.JobStatus = models.JobStatusFailed
				e.Error = ev.Error
			})
			return
		}
		u.queue.removeKey(key)
	}
}

func jobError(up models.JobUpdate) string {
	switch {
	case up.Err != nil:
		return up.Err.Error()
	case up.Job != nil && up.Job.Error != "":
		return up.Job.Error
	default:
		return "extraction failed"
	}
}

func (u *Uploader) record(ctx context.Context, ev models.IngestEvent) {
	if u.recorder == nil {
		return
	}
	if err := u.recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		u.logger.Error().Err(err).Str("file", ev.FileName).Msg("failed to record ingest event")
	}
}
