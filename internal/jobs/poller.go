// Package jobs watches backend jobs until they reach a terminal status.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/turna/console/internal/models"
)

// DefaultInterval is the fixed delay between two status checks of a job.
const DefaultInterval = 2 * time.Second

// Fetcher returns the current state of a job.
type Fetcher interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
}

// Lister returns recent jobs of one type in a single request.
type Lister interface {
	ListJobs(ctx context.Context, jobType string, limit int) ([]models.Job, error)
}

// UpdateFunc receives every status a watched job reports.
type UpdateFunc func(models.JobUpdate)

// Poller runs one timer per watched job. There is no backoff and no retry cap:
// a watch ends when its job is terminal, when the fetch fails, or when it is
// cancelled.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	watches map[string]*watch
	stopped bool
	wg      sync.WaitGroup
}

type watch struct {
	cancel   context.CancelFunc
	onUpdate UpdateFunc
	finished bool
}

// NewPoller creates a poller. A non-positive interval means DefaultInterval.
func NewPoller(fetcher Fetcher, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
		watches:  make(map[string]*watch),
	}
}

// Interval returns the delay between two checks.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Watch starts polling jobID. It returns false when the job is already
// watched or the poller has been stopped.
func (p *Poller) Watch(jobID string, onUpdate UpdateFunc) bool {
	if onUpdate == nil {
		onUpdate = func(models.JobUpdate) {}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	if _, ok := p.watches[jobID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cancel: cancel, onUpdate: onUpdate}
	p.watches[jobID] = w

	p.wg.Add(1)
	go p.run(ctx, jobID, w)

	p.logger.Debug().Str("job_id", jobID).Dur("interval", p.interval).Msg("watching job")
	return true
}

func (p *Poller) run(ctx context.Context, jobID string, w *watch) {
	defer p.wg.Done()
	defer p.release(jobID, w)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := p.fetcher.GetJob(ctx, jobID)
		if ctx.Err() != nil {
			// Cancelled while the request was in flight; the answer is dropped.
			return
		}

		if err != nil {
			p.logger.Warn().Err(err).Str("job_id", jobID).Msg("job status check failed")
			p.deliver(jobID, w, models.JobUpdate{
				JobID:  jobID,
				Status: models.JobStatusFailed,
				Err:    fmt.Errorf("check job %s: %w", jobID, err),
			}, true)
			return
		}

		terminal := job.Status.IsTerminal()
		p.deliver(jobID, w, models.JobUpdate{JobID: jobID, Status: job.Status, Job: job}, terminal)
		if terminal {
			p.logger.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("job finished")
			return
		}
	}
}

// deliver hands u to the watcher unless the watch already finished. A final
// update marks the watch finished so it is delivered exactly once.
func (p *Poller) deliver(jobID string, w *watch, u models.JobUpdate, final bool) bool {
	p.mu.Lock()
	if w.finished {
		p.mu.Unlock()
		return false
	}
	if final {
		w.finished = true
	}
	p.mu.Unlock()

	w.onUpdate(u)
	return true
}

// release forgets the watch if it is still the registered one for jobID.
func (p *Poller) release(jobID string, w *watch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.cancel()
	if cur, ok := p.watches[jobID]; ok && cur == w {
		delete(p.watches, jobID)
	}
}

// Cancel stops polling jobID. It reports whether a watch was running.
func (p *Poller) Cancel(jobID string) bool {
	p.mu.Lock()
	w, ok := p.watches[jobID]
	if ok {
		w.finished = true
		delete(p.watches, jobID)
	}
	p.mu.Unlock()

	if ok {
		w.cancel()
		p.logger.Debug().Str("job_id", jobID).Msg("job watch cancelled")
	}
	return ok
}

// Watching reports whether jobID is being polled.
func (p *Poller) Watching(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watches[jobID]
	return ok
}

// Active returns the ids of all watched jobs, sorted.
func (p *Poller) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.watches))
	for id := range p.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reconcile looks up all watched jobs with one list request and finishes the
// watches whose jobs are already terminal. It returns how many it finished.
func (p *Poller) Reconcile(ctx context.Context, lister Lister, jobType string, limit int) (int, error) {
	if len(p.Active()) == 0 {
		return 0, nil
	}

	jobs, err := lister.ListJobs(ctx, jobType, limit)
	if err != nil {
		return 0, fmt.Errorf("list %s jobs: %w", jobType, err)
	}

	finished := 0
	for i := range jobs {
		job := jobs[i]
		if !job.Status.IsTerminal() {
			continue
		}

		p.mu.Lock()
		w, ok := p.watches[job.ID]
		p.mu.Unlock()
		if !ok {
			continue
		}

		if p.deliver(job.ID, w, models.JobUpdate{JobID: job.ID, Status: job.Status, Job: &job}, true) {
			finished++
		}
		p.release(job.ID, w)
	}
	return finished, nil
}

// Stop cancels every watch and waits for the polling goroutines to exit.
// Watch calls after Stop are refused.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	for id, w := range p.watches {
		w.finished = true
		w.cancel()
		delete(p.watches, id)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
