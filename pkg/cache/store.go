package cache

import (
	"context"
	"errors"

	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

var (
	// ErrCacheMiss indicates no page is stored at the requested key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidPage indicates a stored page could not be decoded
	ErrInvalidPage = errors.New("invalid cache page")
)

// Store holds fetched pages keyed by (fingerprint, page index).
//
// The store does not enforce page contiguity; the paginator is the only
// writer and keeps pages 0..n-1 contiguous.
type Store interface {
	// Get returns the page at (fp, index) or ErrCacheMiss.
	Get(ctx context.Context, fp filter.Fingerprint, index int) (*Page, error)

	// Put stores page at (fp, index), overwriting any previous page, and
	// stamps FetchedAt. FetchedAt of an entry never decreases.
	Put(ctx context.Context, fp filter.Fingerprint, index int, page *Page) error

	// Pages returns the contiguous pages starting at index 0.
	Pages(ctx context.Context, fp filter.Fingerprint) ([]*Page, error)

	// RecordCount sums records over the contiguous pages of fp.
	RecordCount(ctx context.Context, fp filter.Fingerprint) (int, error)

	// Trim drops pages of fp with index >= keep.
	Trim(ctx context.Context, fp filter.Fingerprint, keep int) error

	// Invalidate drops every page of fp.
	Invalidate(ctx context.Context, fp filter.Fingerprint) error
}

// countRecords sums the records of contiguous pages.
func countRecords(pages []*Page) int {
	total := 0
	for _, p := range pages {
		total += p.Len()
	}
	return total
}
