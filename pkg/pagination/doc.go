// Package pagination drives forward-only, cursor-based pagination of sensor
// records against a remote document store and keeps per-fingerprint
// bookkeeping (current page, has-more, loading, known total).
//
// The remote store hands out an opaque continuation cursor with every page;
// an empty cursor marks the last page. Pages are requested strictly in order
// and written to a cache.Store, so pages 0..n-1 always exist before page n.
//
// Example usage:
//
//	p := pagination.NewPaginator(source, store, pagination.DefaultConfig(), logger)
//	q := pagination.Query{Fingerprint: spec.Fingerprint(), Filter: spec}
//
//	page, err := p.LoadPage(ctx, q, 0)  // first page (or restart)
//	page, err = p.LoadNext(ctx, q)      // next contiguous page
//
// The paginator:
//   - Rejects non-contiguous page requests with *SequenceError
//   - Bounds every remote call with Config.FetchTimeout (*FetchError on timeout)
//   - Leaves stored pages untouched when a fetch fails
//   - Discards responses that arrive after Reset (ErrStaleResponse)
//   - Never retries; retry is a manual refresh by the caller
package pagination
