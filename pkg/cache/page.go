package cache

import (
	"time"
)

// Record is one measurement document as returned by the remote store.
type Record map[string]any

// Page is one fetched batch of records for a fingerprint and page index.
type Page struct {
	// Records are the page contents in remote order
	Records []Record `json:"records"`

	// Cursor continues the query after this page ("" means no further pages)
	Cursor string `json:"cursor,omitempty"`

	// FetchedAt is when the page was stored
	FetchedAt time.Time `json:"fetched_at"`

	// PageSize is the page size the page was requested with
	PageSize int `json:"page_size"`
}

// HasMore reports whether the remote store has pages after this one.
func (p *Page) HasMore() bool {
	return p.Cursor != ""
}

// Len returns the number of records in the page.
func (p *Page) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Records)
}

// Clone returns a copy that shares record maps but not the slice.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	c := *p
	c.Records = append([]Record(nil), p.Records...)
	return &c
}

// stamp sets FetchedAt to now without moving it backwards past prev.
func stamp(page *Page, prev *Page, now time.Time) {
	page.FetchedAt = now
	if prev != nil && prev.FetchedAt.After(now) {
		page.FetchedAt = prev.FetchedAt
	}
}
