package pagination

// State is the pagination bookkeeping of one fingerprint.
type State struct {
	// CurrentPage is the index of the most recently stored page (0 when empty)
	CurrentPage int `json:"current_page"`

	// PagesLoaded is the number of contiguous pages stored; it is also the
	// index the next LoadNext will request
	PagesLoaded int `json:"pages_loaded"`

	// PageSize is the session page size
	PageSize int `json:"page_size"`

	// HasMore is false once the remote store returned an empty cursor
	HasMore bool `json:"has_more"`

	// IsLoading is true while a fetch is in flight
	IsLoading bool `json:"is_loading"`

	// TotalPagesKnown is nil while HasMore is true
	TotalPagesKnown *int `json:"total_pages_known"`
}

// initialState is the state after Reset.
func initialState(pageSize int) State {
	return State{
		CurrentPage: 0,
		PageSize:    pageSize,
		HasMore:     true,
	}
}

// CanLoadNext reports whether another page may be requested now.
func (s State) CanLoadNext() bool {
	return s.HasMore && !s.IsLoading
}

// clone copies the state so callers never share TotalPagesKnown.
func (s State) clone() State {
	if s.TotalPagesKnown != nil {
		n := *s.TotalPagesKnown
		s.TotalPagesKnown = &n
	}
	return s
}
