package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

// Config holds paginator configuration
type Config struct {
	// PageSize is the number of records requested per page.
	// Fixed per session; SetPageSize resets all bookkeeping.
	PageSize int
	// FetchTimeout bounds a single remote page fetch
	FetchTimeout time.Duration
}

// DefaultConfig returns the default paginator configuration
func DefaultConfig() Config {
	return Config{
		PageSize:     50,
		FetchTimeout: 15 * time.Second,
	}
}

// FetchRequest is one page request to the remote store.
type FetchRequest struct {
	Filter   filter.Spec
	Cursor   string // "" requests the first page
	PageSize int
	Limit    int // hard record cap, 0 for none
}

// FetchResult is one page returned by the remote store.
type FetchResult struct {
	Records    []cache.Record `json:"records"`
	NextCursor string         `json:"next_cursor"`
}

// Source is the remote data source. It is the only I/O boundary of the engine.
type Source interface {
	FetchPage(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req FetchRequest) (*FetchResult, error)

// FetchPage calls f.
func (f SourceFunc) FetchPage(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	return f(ctx, req)
}

// Query identifies what to paginate.
type Query struct {
	Fingerprint filter.Fingerprint
	Filter      filter.Spec
	Limit       int
}

// tracked is the internal bookkeeping of one fingerprint.
type tracked struct {
	State
	cursor string
	gen    uint64
	cancel context.CancelFunc
}

// Paginator drives forward-only cursor pagination and maintains State per
// fingerprint.
type Paginator struct {
	source Source
	store  cache.Store
	config Config
	logger zerolog.Logger

	mu     sync.Mutex
	states map[filter.Fingerprint]*tracked
}

// NewPaginator creates a new paginator
func NewPaginator(source Source, store cache.Store, config Config, logger zerolog.Logger) *Paginator {
	if source == nil {
		panic("source cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 15 * time.Second
	}

	return &Paginator{
		source: source,
		store:  store,
		config: config,
		logger: logger,
		states: make(map[filter.Fingerprint]*tracked),
	}
}

// State returns a copy of the bookkeeping for fp.
func (p *Paginator) State(fp filter.Fingerprint) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(fp).State.clone()
}

// PageSize returns the session page size.
func (p *Paginator) PageSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.PageSize
}

// SetPageSize changes the session page size and resets every fingerprint.
func (p *Paginator) SetPageSize(n int) {
	if n <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n == p.config.PageSize {
		return
	}
	p.config.PageSize = n
	for fp := range p.states {
		p.resetLocked(fp)
	}
	p.logger.Info().Int("page_size", n).Msg("Page size changed, pagination reset")
}

// Reset clears the bookkeeping of fp. A fetch in flight for fp is cancelled
// and its response discarded.
func (p *Paginator) Reset(fp filter.Fingerprint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(fp)
}

// LoadNext loads the next contiguous page of q.
func (p *Paginator) LoadNext(ctx context.Context, q Query) (*cache.Page, error) {
	p.mu.Lock()
	next := p.stateLocked(q.Fingerprint).PagesLoaded
	p.mu.Unlock()

	return p.LoadPage(ctx, q, next)
}

// Generation returns the reset counter of fp. It changes on every Reset.
func (p *Paginator) Generation(fp filter.Fingerprint) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(fp).gen
}

// LoadPage fetches page index of q from the remote store and stores it.
// index must be the next contiguous index or 0 (restart).
func (p *Paginator) LoadPage(ctx context.Context, q Query, index int) (*cache.Page, error) {
	return p.loadPage(ctx, q, index, nil)
}

// LoadPageAt is LoadPage for a caller that read Generation earlier. If fp was
// reset since then the load is not started and ErrStaleResponse is returned.
func (p *Paginator) LoadPageAt(ctx context.Context, q Query, index int, gen uint64) (*cache.Page, error) {
	return p.loadPage(ctx, q, index, &gen)
}

func (p *Paginator) loadPage(ctx context.Context, q Query, index int, expected *uint64) (*cache.Page, error) {
	fp := q.Fingerprint

	p.mu.Lock()
	st := p.stateLocked(fp)

	if expected != nil && *expected != st.gen {
		p.mu.Unlock()
		pageFetchesTotal.WithLabelValues("stale").Inc()
		p.logger.Debug().
			Str("fingerprint", fp.String()).
			Int("page", index).
			Str("event", "stale_response_discarded").
			Msg("Fingerprint reset before the load started")
		return nil, ErrStaleResponse
	}
	if st.IsLoading {
		p.mu.Unlock()
		return nil, ErrLoadInProgress
	}
	if index != 0 && index != st.PagesLoaded {
		p.mu.Unlock()
		return nil, &SequenceError{
			Fingerprint: fp,
			Requested:   index,
			Expected:    st.PagesLoaded,
			Reason:      "page index is not contiguous",
		}
	}
	if index != 0 && !st.HasMore {
		p.mu.Unlock()
		return nil, &SequenceError{
			Fingerprint: fp,
			Requested:   index,
			Expected:    st.PagesLoaded,
			Reason:      "no further pages",
		}
	}

	cursor := ""
	if index > 0 {
		cursor = st.cursor
	}
	req := FetchRequest{
		Filter:   q.Filter,
		Cursor:   cursor,
		PageSize: p.config.PageSize,
		Limit:    q.Limit,
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	st.IsLoading = true
	st.cancel = cancel
	gen := st.gen
	p.mu.Unlock()

	start := time.Now()
	p.logger.Debug().
		Str("fingerprint", fp.String()).
		Int("page", index).
		Msg("Fetching page")

	result, err := p.source.FetchPage(fetchCtx, req)
	timedOut := err != nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
	pageFetchDuration.Observe(time.Since(start).Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	st = p.stateLocked(fp)
	if st.gen != gen {
		pageFetchesTotal.WithLabelValues("stale").Inc()
		p.logger.Debug().
			Str("fingerprint", fp.String()).
			Int("page", index).
			Str("event", "stale_response_discarded").
			Msg("Discarding response for reset fingerprint")
		return nil, ErrStaleResponse
	}
	st.IsLoading = false
	st.cancel = nil

	if err == nil && result == nil {
		err = errors.New("source returned no result")
	}
	if err != nil {
		fetchErr := &FetchError{Fingerprint: fp, PageIndex: index, Timeout: timedOut, Err: err}
		if timedOut {
			pageFetchesTotal.WithLabelValues("timeout").Inc()
		} else {
			pageFetchesTotal.WithLabelValues("error").Inc()
		}
		p.logger.Warn().
			Err(fetchErr).
			Str("fingerprint", fp.String()).
			Int("page", index).
			Bool("timeout", timedOut).
			Dur("duration", time.Since(start)).
			Msg("Page fetch failed")
		return nil, fetchErr
	}

	records := result.Records
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	page := &cache.Page{
		Records:  records,
		Cursor:   result.NextCursor,
		PageSize: req.PageSize,
	}

	if err := p.store.Put(ctx, fp, index, page); err != nil {
		pageFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store page %d: %w", index, err)
	}
	if index == 0 {
		// A restart starts a new cursor chain; older pages must not mix with it
		if err := p.store.Trim(ctx, fp, 1); err != nil {
			p.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("Failed to trim old pages")
		}
	}

	st.CurrentPage = index
	st.PagesLoaded = index + 1
	st.PageSize = req.PageSize
	st.cursor = result.NextCursor
	st.HasMore = result.NextCursor != ""
	st.TotalPagesKnown = nil
	if !st.HasMore {
		total := index + 1
		st.TotalPagesKnown = &total
	}

	pageFetchesTotal.WithLabelValues("success").Inc()
	p.logger.Debug().
		Str("fingerprint", fp.String()).
		Int("page", index).
		Int("records", len(records)).
		Bool("has_more", st.HasMore).
		Dur("duration", time.Since(start)).
		Msg("Page stored")

	return page, nil
}

// Resume rebuilds the bookkeeping of fp from pages already in the store, so
// returning to a retained filter continues where it left off.
func (p *Paginator) Resume(ctx context.Context, fp filter.Fingerprint) (State, error) {
	pages, err := p.store.Pages(ctx, fp)
	if err != nil {
		return State{}, fmt.Errorf("read stored pages: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stateLocked(fp)
	if st.IsLoading || len(pages) == 0 || st.PagesLoaded == len(pages) {
		return st.State.clone(), nil
	}

	last := pages[len(pages)-1]
	st.CurrentPage = len(pages) - 1
	st.PagesLoaded = len(pages)
	st.cursor = last.Cursor
	st.HasMore = last.HasMore()
	st.TotalPagesKnown = nil
	if !st.HasMore {
		total := len(pages)
		st.TotalPagesKnown = &total
	}

	return st.State.clone(), nil
}

func (p *Paginator) stateLocked(fp filter.Fingerprint) *tracked {
	st, ok := p.states[fp]
	if !ok {
		st = &tracked{State: initialState(p.config.PageSize)}
		p.states[fp] = st
	}
	return st
}

func (p *Paginator) resetLocked(fp filter.Fingerprint) {
	st := p.stateLocked(fp)
	if st.cancel != nil {
		st.cancel()
	}
	p.states[fp] = &tracked{
		State: initialState(p.config.PageSize),
		gen:   st.gen + 1,
	}
}
