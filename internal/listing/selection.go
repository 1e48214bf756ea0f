package listing

import "sort"

// SelectionMode tells whether ids are picked one by one or all rows under
// the current filter are selected.
type SelectionMode string

const (
	SelectExplicit SelectionMode = "explicit"
	SelectAll      SelectionMode = "all"
)

// Selection tracks selected ids. In SelectAll mode it spans every page and
// ids holds the exclusions instead.
type Selection struct {
	mode SelectionMode
	ids  map[string]struct{}
}

func newSelection() Selection {
	return Selection{mode: SelectExplicit, ids: make(map[string]struct{})}
}

// Mode returns the current selection mode.
func (s *Selection) Mode() SelectionMode {
	return s.mode
}

// Toggle flips id and returns whether it is selected afterwards.
func (s *Selection) Toggle(id string) bool {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
	} else {
		s.ids[id] = struct{}{}
	}
	return s.IsSelected(id)
}

// IsSelected reports whether id is selected.
func (s *Selection) IsSelected(id string) bool {
	_, listed := s.ids[id]
	if s.mode == SelectAll {
		return !listed
	}
	return listed
}

// SelectAll selects every row under the current filter.
func (s *Selection) SelectAll() {
	s.mode = SelectAll
	s.ids = make(map[string]struct{})
}

// Clear drops the selection.
func (s *Selection) Clear() {
	s.mode = SelectExplicit
	s.ids = make(map[string]struct{})
}

// Count returns how many rows are selected out of total.
func (s *Selection) Count(total int) int {
	if s.mode == SelectAll {
		n := total - len(s.ids)
		if n < 0 {
			return 0
		}
		return n
	}
	return len(s.ids)
}

// Filter returns the ids in candidates that are selected, in order.
func (s *Selection) Filter(candidates []string) []string {
	var out []string
	for _, id := range candidates {
		if s.IsSelected(id) {
			out = append(out, id)
		}
	}
	return out
}

// explicit returns the explicitly selected ids, sorted.
func (s *Selection) explicit() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// forget drops ids from the selection without changing the mode.
func (s *Selection) forget(ids []string) {
	if s.mode == SelectAll {
		return
	}
	for _, id := range ids {
		delete(s.ids, id)
	}
}
