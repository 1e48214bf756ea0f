package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turna/console/internal/client"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/testutil"
)

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr string
	}{
		{"empty", Filter{}, ""},
		{"ordered", Filter{StartAt: "2024-01-01", EndAt: "2024-01-31"}, ""},
		{"same day", Filter{StartAt: "2024-01-01", EndAt: "2024-01-01"}, ""},
		{"open end", Filter{StartAt: "2024-01-01"}, ""},
		{"reversed", Filter{StartAt: "2024-02-01", EndAt: "2024-01-01"}, "start_at"},
		{"bad format", Filter{EndAt: "01/02/2024"}, "end_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ve *client.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantErr, ve.Field)
		})
	}
}

func TestFilterValues(t *testing.T) {
	q := Filter{StartAt: "2024-01-01", HospitalID: "h1", Search: "knee"}.Values()
	assert.Equal(t, url.Values{
		"start_at":    {"2024-01-01"},
		"hospital_id": {"h1"},
		"search":      {"knee"},
	}, q)
}

func TestParams(t *testing.T) {
	assert.Equal(t, Params{Limit: DefaultLimit}, NewParams(0, -3))
	assert.Equal(t, MaxLimit, NewParams(500, 0).Limit)

	p := NewParams(10, 10)
	assert.True(t, p.HasNext(21))
	assert.False(t, p.HasNext(20))
	assert.True(t, p.HasPrevious())
	assert.Equal(t, 20, p.NextOffset())
	assert.Equal(t, 0, NewParams(10, 5).PreviousOffset())
}

func TestSetFilter_ResetsOffset(t *testing.T) {
	c := NewFileController(10)
	c.SetOffset(30)

	changed, err := c.SetFilter(Filter{HospitalID: "h1"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, c.Page().Offset)

	for _, f := range []Filter{
		{HospitalID: "h1", StartAt: "2024-01-01"},
		{HospitalID: "h1", StartAt: "2024-01-01", EndAt: "2024-02-01"},
		{HospitalID: "h2", StartAt: "2024-01-01", EndAt: "2024-02-01"},
		{HospitalID: "h2", StartAt: "2024-01-01", EndAt: "2024-02-01", EntityID: "e"},
		{HospitalID: "h2", StartAt: "2024-01-01", EndAt: "2024-02-01", EntityID: "e", Search: "x"},
	} {
		c.SetOffset(40)
		changed, err := c.SetFilter(f)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 0, c.Page().Offset, "filter %+v", f)
	}

	// An unchanged filter keeps the page.
	c.SetOffset(40)
	changed, err = c.SetFilter(Filter{HospitalID: " h2 ", StartAt: "2024-01-01", EndAt: "2024-02-01", EntityID: "e", Search: "x"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 40, c.Page().Offset)
}

func TestSetFilter_InvalidKeepsState(t *testing.T) {
	c := NewFileController(10)
	c.SetOffset(20)
	_, err := c.SetFilter(Filter{StartAt: "2024-03-01", EndAt: "2024-01-01"})
	assert.Error(t, err)
	assert.Equal(t, Filter{}, c.Filter())
	assert.Equal(t, 20, c.Page().Offset)
}

func TestQuery(t *testing.T) {
	c := NewFileController(25)
	_, err := c.SetFilter(Filter{StartAt: "2024-01-01", EndAt: "2024-01-31", HospitalID: "h1"})
	require.NoError(t, err)
	c.SetOffset(50)

	q := c.Query()
	assert.Equal(t, "2024-01-01", q.Get("start_at"))
	assert.Equal(t, "2024-01-31", q.Get("end_at"))
	assert.Equal(t, "h1", q.Get("hospital_id"))
	assert.Equal(t, "25", q.Get("limit"))
	assert.Equal(t, "50", q.Get("offset"))
}

func seed(t *testing.T, n int) (*testutil.FakeBackend, *client.Client) {
	t.Helper()
	b := testutil.NewFakeBackend(t)
	for i := 0; i < n; i++ {
		b.AddFile(fmt.Sprintf("file-%02d.pdf", i), int64(i+1), "")
	}
	c, err := client.New(b.URL())
	require.NoError(t, err)
	return b, c
}

func TestLoadAndPaging(t *testing.T) {
	_, cl := seed(t, 25)
	c := NewFileController(10)

	page, err := c.Load(context.Background(), cl.ListFiles)
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)
	assert.Equal(t, 25, c.Total())
	assert.False(t, c.Prev())

	require.True(t, c.Next())
	require.True(t, c.Next())
	assert.False(t, c.Next())
	page, err = c.Load(context.Background(), cl.ListFiles)
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.False(t, c.HasNext())

	require.True(t, c.Prev())
	assert.Equal(t, 10, c.Page().Offset)

	c.SetLimit(5)
	assert.Equal(t, Params{Limit: 5, Offset: 0}, c.Page())
}

func TestLoad_StepsBackPastEnd(t *testing.T) {
	_, cl := seed(t, 12)
	c := NewFileController(10)
	c.SetOffset(20)

	page, err := c.Load(context.Background(), cl.ListFiles)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Page().Offset)
	assert.Len(t, page.Items, 2)
}

func TestSelection(t *testing.T) {
	s := newSelection()
	assert.True(t, s.Toggle("a"))
	assert.True(t, s.Toggle("b"))
	assert.False(t, s.Toggle("a"))
	assert.Equal(t, []string{"b"}, s.explicit())
	assert.Equal(t, 1, s.Count(10))

	s.SelectAll()
	assert.Equal(t, SelectAll, s.Mode())
	assert.True(t, s.IsSelected("anything"))
	assert.False(t, s.Toggle("x"))
	assert.Equal(t, 9, s.Count(10))
	assert.Equal(t, []string{"a", "b"}, s.Filter([]string{"a", "x", "b"}))

	s.Clear()
	assert.Equal(t, SelectExplicit, s.Mode())
	assert.False(t, s.IsSelected("a"))
}

func TestBulkDelete_PartialFailure(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	failing := map[string]bool{"c": true, "g": true, "j": true}

	var mu sync.Mutex
	var calls []string
	res := BulkDelete(context.Background(), ids, func(_ context.Context, id string) error {
		mu.Lock()
		calls = append(calls, id)
		mu.Unlock()
		if failing[id] {
			return errors.New("boom")
		}
		return nil
	})

	sort.Strings(calls)
	assert.Equal(t, ids, calls)
	assert.Equal(t, 7, res.Deleted)
	assert.Equal(t, 3, res.Failed)
	assert.ElementsMatch(t, []string{"a", "b", "d", "e", "f", "h", "i"}, res.DeletedIDs)
}

func TestControllerBulkDelete(t *testing.T) {
	backend, cl := seed(t, 6)
	files := backend.Files()
	backend.FailDelete[files[1].ID] = 500
	backend.FailDelete[files[3].ID] = 403

	c := NewFileController(10)
	_, err := c.Load(context.Background(), cl.ListFiles)
	require.NoError(t, err)

	for _, f := range files[:4] {
		c.Toggle(f.ID)
	}
	assert.Len(t, c.Selected(), 4)

	res := c.BulkDelete(context.Background(), c.Selected(), cl.DeleteFile)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, backend.Deletes(), 4)

	var left []string
	for _, f := range c.Items() {
		left = append(left, f.ID)
	}
	assert.Equal(t, []string{files[1].ID, files[3].ID, files[4].ID, files[5].ID}, left)
	assert.Equal(t, 4, c.Total())
	assert.ElementsMatch(t, []string{files[1].ID, files[3].ID}, c.Selected())
}

func TestDeleteSelected_SelectAllSpansPages(t *testing.T) {
	backend, cl := seed(t, 130)
	files := backend.Files()

	c := NewFileController(10)
	_, err := c.Load(context.Background(), cl.ListFiles)
	require.NoError(t, err)

	c.SelectAll()
	c.Toggle(files[0].ID)
	c.Toggle(files[129].ID)
	assert.Equal(t, 128, c.SelectedCount())

	ids, err := c.ResolveSelection(context.Background(), cl.ListFiles)
	require.NoError(t, err)
	assert.Len(t, ids, 128)
	assert.NotContains(t, ids, files[0].ID)

	res, err := c.DeleteSelected(context.Background(), cl.ListFiles, cl.DeleteFile)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Deleted: 128, DeletedIDs: res.DeletedIDs}, res)
	assert.Len(t, backend.Files(), 2)
	assert.Equal(t, SelectExplicit, c.SelectionMode())
	assert.Equal(t, 0, c.SelectedCount())
}

func TestController_GenericEntity(t *testing.T) {
	c := NewController(5, func(d models.Demand) string { return d.ID })
	fetch := func(_ context.Context, q url.Values) (*models.Page[models.Demand], error) {
		assert.Equal(t, "t1", q.Get("entity_id"))
		return &models.Page[models.Demand]{Items: []models.Demand{{ID: "d1"}, {ID: "d2"}}, Total: 2, Limit: 5}, nil
	}
	_, err := c.SetFilter(Filter{EntityID: "t1"})
	require.NoError(t, err)
	_, err = c.Load(context.Background(), fetch)
	require.NoError(t, err)

	c.Toggle("d2")
	assert.Equal(t, []string{"d2"}, c.Selected())
}
