package filter

import "time"

const (
	// DefaultWindowDays is the look-back applied to unfiltered queries.
	DefaultWindowDays = 30

	// DefaultRecordCap bounds the result set of an unfiltered query.
	DefaultRecordCap = 1000
)

// WindowPolicy supplies a bounded filter when the caller gives none.
type WindowPolicy struct {
	// Days is the length of the default time window.
	Days int

	// RecordCap is the hard row limit passed to the remote query.
	RecordCap int

	// Now returns the current time (time.Now when nil).
	Now func() time.Time
}

// DefaultWindowPolicy returns the 30-day / 1000-record policy.
func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{
		Days:      DefaultWindowDays,
		RecordCap: DefaultRecordCap,
		Now:       time.Now,
	}
}

// DefaultFilter returns {StartDate: now-Days, EndDate: now} with location and
// record type unset.
func (p WindowPolicy) DefaultFilter() Spec {
	now := p.now()
	days := p.Days
	if days <= 0 {
		days = DefaultWindowDays
	}

	return Spec{
		StartDate: now.AddDate(0, 0, -days).Format(DateLayout),
		EndDate:   now.Format(DateLayout),
		SortOrder: SortDesc,
	}
}

// Apply returns the spec to query with and the record limit for the remote
// source. The default window and cap only apply when spec carries no explicit
// filter; an explicit spec is returned normalized with limit 0 (no cap).
func (p WindowPolicy) Apply(spec Spec) (Spec, int) {
	if !spec.IsZero() {
		return spec.Normalize(), 0
	}

	def := p.DefaultFilter()
	if spec.SortOrder != "" {
		def.SortOrder = spec.SortOrder
	}

	limit := p.RecordCap
	if limit <= 0 {
		limit = DefaultRecordCap
	}
	return def.Normalize(), limit
}

func (p WindowPolicy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
