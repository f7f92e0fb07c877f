// Package filter holds the query parameters a dashboard user picks for the
// sensor-data view, the fingerprint derived from them, and the default window
// applied when no explicit filter is given.
package filter

import (
	"strings"
	"time"
)

// SortOrder is the order in which records are requested by timestamp.
type SortOrder string

const (
	// SortDesc returns the newest records first (default).
	SortDesc SortOrder = "desc"

	// SortAsc returns the oldest records first.
	SortAsc SortOrder = "asc"
)

// DateLayout is the canonical form of a calendar date.
const DateLayout = "2006-01-02"

// dateLayouts are the input forms recognized when canonicalizing dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	DateLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006",
}

// Spec is the user-chosen query for the sensor-data view.
// Empty string means "unset" for every field.
type Spec struct {
	// StartDate is the inclusive lower bound of the measurement time.
	StartDate string `json:"start_date,omitempty"`

	// EndDate is the inclusive upper bound of the measurement time.
	EndDate string `json:"end_date,omitempty"`

	// Location restricts records to one monitoring site.
	Location string `json:"location,omitempty"`

	// RecordType restricts records to one kind (weather, sensor, water_quality).
	RecordType string `json:"record_type,omitempty"`

	// SortOrder is asc or desc; unset means desc.
	SortOrder SortOrder `json:"sort_order,omitempty"`
}

// Normalize returns the canonical form of the spec. Two specs that mean the
// same query normalize to identical values.
func (s Spec) Normalize() Spec {
	return Spec{
		StartDate:  canonicalDate(s.StartDate),
		EndDate:    canonicalDate(s.EndDate),
		Location:   strings.ToLower(strings.TrimSpace(s.Location)),
		RecordType: strings.ToLower(strings.TrimSpace(s.RecordType)),
		SortOrder:  canonicalSort(s.SortOrder),
	}
}

// IsZero reports whether the spec carries no explicit filter. The sort order
// alone does not count as a filter.
func (s Spec) IsZero() bool {
	n := s.Normalize()
	return n.StartDate == "" && n.EndDate == "" && n.Location == "" && n.RecordType == ""
}

// Equal reports structural equality after normalization.
func (s Spec) Equal(other Spec) bool {
	return s.Normalize() == other.Normalize()
}

// Fingerprint returns the cache partition key of the spec.
func (s Spec) Fingerprint() Fingerprint {
	return FingerprintOf(s)
}

// canonicalDate renders recognized dates in a single form. Midnight values
// collapse to a calendar date; anything unparseable passes through trimmed.
func canonicalDate(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		t = t.UTC()
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(DateLayout)
		}
		return t.Format(time.RFC3339)
	}

	return v
}

func canonicalSort(order SortOrder) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(string(order)))) {
	case SortAsc:
		return SortAsc
	default:
		return SortDesc
	}
}
