package listing

import (
	"context"
	"sync"
)

// maxParallelDeletes bounds the delete requests in flight at once.
const maxParallelDeletes = 8

// DeleteFunc deletes one item by id.
type DeleteFunc func(ctx context.Context, id string) error

// BulkResult reports a bulk delete. Failures are counted only.
type BulkResult struct {
	Deleted    int      `json:"deleted"`
	Failed     int      `json:"failed"`
	DeletedIDs []string `json:"-"`
}

// BulkDelete issues one delete per id in parallel. Every id is attempted;
// successes are not rolled back when others fail.
func BulkDelete(ctx context.Context, ids []string, del DeleteFunc) BulkResult {
	ok := make([]bool, len(ids))
	sem := make(chan struct{}, maxParallelDeletes)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ok[i] = del(ctx, id) == nil
		}(i, id)
	}
	wg.Wait()

	var res BulkResult
	for i, id := range ids {
		if ok[i] {
			res.Deleted++
			res.DeletedIDs = append(res.DeletedIDs, id)
		} else {
			res.Failed++
		}
	}
	return res
}
