// Package upload holds the pending-file queue and the sequential uploader
// that drains it.
package upload

import (
	"fmt"
	"sync"

	"github.com/turna/console/internal/models"
)

// Canceller stops the status polling of a job.
type Canceller interface {
	Cancel(jobID string) bool
}

// Queue tracks files selected for upload until the backend's file list
// shows them. Entries are unique by name, size and last-modified time.
type Queue struct {
	mu       sync.Mutex
	items    []models.PendingFile
	poller   Canceller
	onRemove []func(models.PendingFile)

	subMu  sync.Mutex
	subs   map[int]chan []models.PendingFile
	nextID int
}

// NewQueue creates an empty queue. poller may be nil when no jobs are watched.
func NewQueue(poller Canceller) *Queue {
	return &Queue{
		poller: poller,
		subs:   make(map[int]chan []models.PendingFile),
	}
}

// OnRemove registers fn to run for every entry that leaves the queue.
func (q *Queue) OnRemove(fn func(models.PendingFile)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onRemove = append(q.onRemove, fn)
}

// AddFiles appends the files that are not queued yet and returns how many
// were added. Duplicates inside files are collapsed too.
func (q *Queue) AddFiles(files []models.LocalFile) int {
	q.mu.Lock()
	seen := make(map[models.FileKey]struct{}, len(q.items)+len(files))
	for _, p := range q.items {
		seen[p.Key()] = struct{}{}
	}

	added := 0
	for _, f := range files {
		key := f.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		q.items = append(q.items, models.PendingFile{File: f})
		added++
	}
	q.mu.Unlock()

	if added > 0 {
		q.publish()
	}
	return added
}

// RemoveFile drops the entry at index and cancels the polling of its job.
func (q *Queue) RemoveFile(index int) (models.PendingFile, error) {
	q.mu.Lock()
	if index < 0 || index >= len(q.items) {
		n := len(q.items)
		q.mu.Unlock()
		return models.PendingFile{}, fmt.Errorf("pending index %d out of range [0,%d)", index, n)
	}
	removed := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	hooks := q.onRemove
	q.mu.Unlock()

	q.released(removed, hooks)
	q.publish()
	return removed, nil
}

// Reconcile drops every entry that has a record in the authoritative list
// and returns how many were dropped.
func (q *Queue) Reconcile(records []models.FileRecord) int {
	if len(records) == 0 {
		return 0
	}

	q.mu.Lock()
	var kept, removed []models.PendingFile
	for _, p := range q.items {
		if p.Uploading || !matchesAny(p, records) {
			kept = append(kept, p)
			continue
		}
		removed = append(removed, p)
	}
	q.items = kept
	hooks := q.onRemove
	q.mu.Unlock()

	for _, p := range removed {
		q.released(p, hooks)
	}
	if len(removed) > 0 {
		q.publish()
	}
	return len(removed)
}

func matchesAny(p models.PendingFile, records []models.FileRecord) bool {
	for _, rec := range records {
		if p.Matches(rec) {
			return true
		}
	}
	return false
}

// released runs the cleanup of an entry that left the queue.
func (q *Queue) released(p models.PendingFile, hooks []func(models.PendingFile)) {
	if p.JobID != "" && q.poller != nil {
		q.poller.Cancel(p.JobID)
	}
	for _, fn := range hooks {
		fn(p)
	}
}

// Snapshot returns a copy of the pending entries in queue order.
func (q *Queue) Snapshot() []models.PendingFile {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.PendingFile(nil), q.items...)
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// next returns the first entry still waiting to be uploaded.
func (q *Queue) next() (models.PendingFile, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if waiting(p) {
			return p, true
		}
	}
	return models.PendingFile{}, false
}

func (q *Queue) hasWork() bool {
	_, ok := q.next()
	return ok
}

func waiting(p models.PendingFile) bool {
	return !p.Uploading && p.FileID == "" && p.Error == ""
}

// update applies fn to the entry with key. It reports false when the entry
// was removed in the meantime.
func (q *Queue) update(key models.FileKey, fn func(p *models.PendingFile)) bool {
	q.mu.Lock()
	found := false
	for i := range q.items {
		if q.items[i].Key() == key {
			fn(&q.items[i])
			found = true
			break
		}
	}
	q.mu.Unlock()

	if found {
		q.publish()
	}
	return found
}

// tracks reports whether the entry with key is still queued for jobID.
func (q *Queue) tracks(key models.FileKey, jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if p.Key() == key {
			return p.JobID == jobID
		}
	}
	return false
}

// removeKey drops the entry with key without cancelling its job watch; the
// caller owns that watch.
func (q *Queue) removeKey(key models.FileKey) bool {
	q.mu.Lock()
	var removed *models.PendingFile
	for i := range q.items {
		if q.items[i].Key() == key {
			p := q.items[i]
			removed = &p
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	hooks := q.onRemove
	q.mu.Unlock()

	if removed == nil {
		return false
	}
	for _, fn := range hooks {
		fn(*removed)
	}
	q.publish()
	return true
}

// Subscribe returns a channel that receives a snapshot after every change.
// Slow readers only see the latest snapshot. Call the returned func to
// unsubscribe.
func (q *Queue) Subscribe() (<-chan []models.PendingFile, func()) {
	ch := make(chan []models.PendingFile, 1)

	q.subMu.Lock()
	id := q.nextID
	q.nextID++
	q.subs[id] = ch
	q.subMu.Unlock()

	ch <- q.Snapshot()

	return ch, func() {
		q.subMu.Lock()
		defer q.subMu.Unlock()
		if _, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(ch)
		}
	}
}

func (q *Queue) publish() {
	snap := q.Snapshot()

	q.subMu.Lock()
	defer q.subMu.Unlock()
	for _, ch := range q.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
