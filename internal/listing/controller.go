package listing

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/turna/console/internal/models"
)

// FetchFunc loads one page of a list for the given query.
type FetchFunc[T any] func(ctx context.Context, query url.Values) (*models.Page[T], error)

// Controller holds the filter, page window, loaded page and selection of
// one list view. It is safe for concurrent use.
type Controller[T any] struct {
	mu     sync.Mutex
	id     func(T) string
	filter Filter
	page   Params
	items  []T
	total  int
	sel    Selection
}

// NewController creates a controller. id extracts the identity of an item.
func NewController[T any](limit int, id func(T) string) *Controller[T] {
	return &Controller[T]{
		id:   id,
		page: NewParams(limit, 0),
		sel:  newSelection(),
	}
}

// NewFileController creates a controller for the file list.
func NewFileController(limit int) *Controller[models.FileRecord] {
	return NewController(limit, func(f models.FileRecord) string { return f.ID })
}

// Filter returns the current filter.
func (c *Controller[T]) Filter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// SetFilter validates and applies f. Any change returns to the first page
// and clears the selection. It reports whether the filter changed.
func (c *Controller[T]) SetFilter(f Filter) (bool, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f == c.filter {
		return false, nil
	}
	c.filter = f
	c.page.Offset = 0
	c.sel.Clear()
	return true, nil
}

// Page returns the current limit/offset window.
func (c *Controller[T]) Page() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// SetLimit changes the page size and returns to the first page.
func (c *Controller[T]) SetLimit(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = NewParams(limit, 0)
}

// SetOffset moves to an arbitrary offset.
func (c *Controller[T]) SetOffset(offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = NewParams(c.page.Limit, offset)
}

// Next moves to the next page if the last load reported one.
func (c *Controller[T]) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.page.HasNext(c.total) {
		return false
	}
	c.page.Offset = c.page.NextOffset()
	return true
}

// Prev moves to the previous page.
func (c *Controller[T]) Prev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.page.HasPrevious() {
		return false
	}
	c.page.Offset = c.page.PreviousOffset()
	return true
}

// HasNext reports whether a page follows the current one.
func (c *Controller[T]) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page.HasNext(c.total)
}

// Query derives the request parameters from the filter and page window.
func (c *Controller[T]) Query() url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryLocked(c.page)
}

func (c *Controller[T]) queryLocked(p Params) url.Values {
	q := c.filter.Values()
	p.set(q)
	return q
}

// Load fetches the current page and stores it. When the offset points past
// the end, for example after deletes emptied the last page, it steps back to
// the last page and fetches again.
func (c *Controller[T]) Load(ctx context.Context, fetch FetchFunc[T]) (*models.Page[T], error) {
	page, err := fetch(ctx, c.Query())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	stepBack := len(page.Items) == 0 && page.Total > 0 && c.page.Offset >= page.Total
	if stepBack {
		c.page.Offset = ((page.Total - 1) / c.page.Limit) * c.page.Limit
	}
	c.mu.Unlock()

	if stepBack {
		if page, err = fetch(ctx, c.Query()); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]T(nil), page.Items...)
	c.total = page.Total
	return page, nil
}

// Items returns the loaded page.
func (c *Controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Total returns the total reported by the last load.
func (c *Controller[T]) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Toggle flips the selection of id.
func (c *Controller[T]) Toggle(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.Toggle(id)
}

// SelectAll selects every item under the current filter, across pages.
func (c *Controller[T]) SelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sel.SelectAll()
}

// ClearSelection drops the selection.
func (c *Controller[T]) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sel.Clear()
}

// IsSelected reports whether id is selected.
func (c *Controller[T]) IsSelected(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.IsSelected(id)
}

// SelectionMode returns the current selection mode.
func (c *Controller[T]) SelectionMode() SelectionMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.Mode()
}

// SelectedCount returns how many items are selected.
func (c *Controller[T]) SelectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.Count(c.total)
}

// Selected returns the selected ids of the loaded page.
func (c *Controller[T]) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.items))
	for _, it := range c.items {
		ids = append(ids, c.id(it))
	}
	return c.sel.Filter(ids)
}

// ResolveSelection returns every selected id. In SelectAll mode it walks all
// pages under the current filter.
func (c *Controller[T]) ResolveSelection(ctx context.Context, fetch FetchFunc[T]) ([]string, error) {
	c.mu.Lock()
	if c.sel.Mode() != SelectAll {
		ids := c.sel.explicit()
		c.mu.Unlock()
		return ids, nil
	}
	c.mu.Unlock()

	var ids []string
	for p := NewParams(MaxLimit, 0); ; p.Offset = p.NextOffset() {
		c.mu.Lock()
		q := c.queryLocked(p)
		c.mu.Unlock()

		page, err := fetch(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("resolve selection at offset %d: %w", p.Offset, err)
		}
		var pageIDs []string
		for _, it := range page.Items {
			pageIDs = append(pageIDs, c.id(it))
		}

		c.mu.Lock()
		ids = append(ids, c.sel.Filter(pageIDs)...)
		c.mu.Unlock()

		if len(page.Items) == 0 || !p.HasNext(page.Total) {
			return ids, nil
		}
	}
}

// DeleteSelected deletes every selected id and applies the successes to the
// local state.
func (c *Controller[T]) DeleteSelected(ctx context.Context, fetch FetchFunc[T], del DeleteFunc) (BulkResult, error) {
	ids, err := c.ResolveSelection(ctx, fetch)
	if err != nil {
		return BulkResult{}, err
	}
	res := c.BulkDelete(ctx, ids, del)

	c.mu.Lock()
	if c.sel.Mode() == SelectAll {
		c.sel.Clear()
	}
	c.mu.Unlock()
	return res, nil
}

// BulkDelete deletes ids in parallel, then drops the deleted ones from the
// loaded page and from the selection. Failed ids stay.
func (c *Controller[T]) BulkDelete(ctx context.Context, ids []string, del DeleteFunc) BulkResult {
	res := BulkDelete(ctx, ids, del)
	if len(res.DeletedIDs) == 0 {
		return res
	}

	gone := make(map[string]struct{}, len(res.DeletedIDs))
	for _, id := range res.DeletedIDs {
		gone[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.items[:0]
	for _, it := range c.items {
		if _, ok := gone[c.id(it)]; !ok {
			kept = append(kept, it)
		}
	}
	c.items = kept
	c.total -= res.Deleted
	if c.total < 0 {
		c.total = 0
	}
	c.sel.forget(res.DeletedIDs)
	return res
}
