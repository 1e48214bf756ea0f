// Package listing keeps the filter, pagination and selection state of a
// paginated backend list and runs bulk deletes against it.
package listing

import (
	"net/url"
	"strings"
	"time"

	"github.com/turna/console/internal/client"
)

// DateLayout is the date-only format of the start_at and end_at filters.
const DateLayout = "2006-01-02"

// Filter holds the list filter parameters. Empty fields are not sent.
type Filter struct {
	StartAt    string `json:"start_at,omitempty" query:"start_at"`
	EndAt      string `json:"end_at,omitempty" query:"end_at"`
	HospitalID string `json:"hospital_id,omitempty" query:"hospital_id"`
	EntityID   string `json:"entity_id,omitempty" query:"entity_id"`
	Search     string `json:"search,omitempty" query:"search"`
}

// Normalize trims surrounding whitespace from every field.
func (f Filter) Normalize() Filter {
	return Filter{
		StartAt:    strings.TrimSpace(f.StartAt),
		EndAt:      strings.TrimSpace(f.EndAt),
		HospitalID: strings.TrimSpace(f.HospitalID),
		EntityID:   strings.TrimSpace(f.EntityID),
		Search:     strings.TrimSpace(f.Search),
	}
}

// Validate checks the date formats and that the range is ordered.
func (f Filter) Validate() error {
	start, err := parseDate("start_at", f.StartAt)
	if err != nil {
		return err
	}
	end, err := parseDate("end_at", f.EndAt)
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return &client.ValidationError{Field: "start_at", Message: "must not be after end_at"}
	}
	return nil
}

func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, &client.ValidationError{Field: field, Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

// Values renders the non-empty parameters as query values.
func (f Filter) Values() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("start_at", f.StartAt)
	set("end_at", f.EndAt)
	set("hospital_id", f.HospitalID)
	set("entity_id", f.EntityID)
	set("search", f.Search)
	return q
}
