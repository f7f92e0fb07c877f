// Package coordinator is the entry point the dashboard uses to read sensor
// data. It debounces filter edits, serves fresh pages from the page store,
// keeps at most one fetch in flight per fingerprint and drops responses for
// filters the user has already moved away from.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/filter"
	"github.com/Sternrassler/sensordata-cache/pkg/pagination"
)

var (
	// ErrUnknownFingerprint is returned for a fingerprint never requested
	// through RequestData.
	ErrUnknownFingerprint = errors.New("unknown fingerprint")

	// ErrClosed is returned once the coordinator has been closed.
	ErrClosed = errors.New("coordinator closed")
)

// Options tune a single RequestData call.
type Options struct {
	// ForceRefresh bypasses the cache and the debounce delay.
	ForceRefresh bool

	// AllowStale returns an expired snapshot immediately and revalidates in
	// the background instead of blocking on the refresh.
	AllowStale bool
}

type result struct {
	snap *Snapshot
	err  error
}

// pending is a request waiting for the debounce window to settle.
type pending struct {
	query   pagination.Query
	timer   *time.Timer
	waiters []chan result
}

// flight is the in-flight marker of one fingerprint.
type flight struct {
	fp   filter.Fingerprint
	done chan struct{}
	snap *Snapshot
	err  error
}

// Coordinator serializes filter changes into page fetches.
type Coordinator struct {
	paginator *pagination.Paginator
	store     cache.Store
	fresh     cache.Freshness
	window    filter.WindowPolicy
	config    Config
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	active   filter.Fingerprint
	queries  map[filter.Fingerprint]pagination.Query
	pending  *pending
	flights  map[filter.Fingerprint]*flight
	lastGood map[filter.Fingerprint]*Snapshot
	closed   bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for freshness and the default window.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.fresh.Now = now
		c.window.Now = now
	}
}

// New creates a coordinator over source. A nil store uses a MemoryStore.
func New(source pagination.Source, store cache.Store, cfg Config, logger zerolog.Logger, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	if store == nil {
		store = cache.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		paginator: pagination.NewPaginator(source, store, pagination.Config{
			PageSize:     cfg.PageSize,
			FetchTimeout: cfg.FetchTimeout,
		}, logger),
		store: store,
		fresh: cache.NewFreshness(cfg.TTL),
		window: filter.WindowPolicy{
			Days:      cfg.DefaultWindowDays,
			RecordCap: cfg.DefaultRecordCap,
			Now:       time.Now,
		},
		config:   cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queries:  make(map[filter.Fingerprint]pagination.Query),
		flights:  make(map[filter.Fingerprint]*flight),
		lastGood: make(map[filter.Fingerprint]*Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve applies the default window to spec and returns the query the
// coordinator would run for it.
func (c *Coordinator) Resolve(spec filter.Spec) pagination.Query {
	normalized, limit := c.window.Apply(spec)
	return pagination.Query{
		Fingerprint: normalized.Fingerprint(),
		Filter:      normalized,
		Limit:       limit,
	}
}

// RequestData returns the snapshot for spec. An empty spec uses the default
// window. Calls within the debounce window coalesce: only the last one is
// dispatched and every earlier caller receives its result.
//
// On a failed fetch the returned error is non-nil and the snapshot, when
// present, is the last good one marked Stale.
func (c *Coordinator) RequestData(ctx context.Context, spec filter.Spec, opts Options) (*Snapshot, error) {
	query := c.Resolve(spec)
	fp := query.Fingerprint

	if opts.ForceRefresh {
		c.mu.Lock()
		c.queries[fp] = query
		c.mu.Unlock()
		return c.ForceRefresh(ctx, fp)
	}

	page0, err := c.store.Get(ctx, fp, 0)
	if err != nil && err != cache.ErrCacheMiss {
		c.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("Page store read failed")
		page0 = nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.queries[fp] = query
	c.activateLocked(fp)

	expired := c.fresh.IsExpired(page0)
	if page0 != nil && (!expired || opts.AllowStale) {
		superseded := c.takePendingLocked()
		c.mu.Unlock()

		if _, err := c.paginator.Resume(ctx, fp); err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("Failed to resume pagination")
		}
		snap, err := c.snapshotFor(ctx, fp)

		outcome := "cache_hit"
		if expired {
			outcome = "stale_hit"
			c.revalidate(query)
		}
		requestsTotal.WithLabelValues(outcome).Inc()
		c.logger.Debug().
			Str("fingerprint", fp.String()).
			Bool("cache_hit", true).
			Bool("expired", expired).
			Msg("Serving cached snapshot")

		deliver(superseded, snap, err)
		return snap, err
	}

	ch := make(chan result, 1)
	waiters := append(c.takePendingLocked(), ch)
	p := &pending{query: query, waiters: waiters}
	c.pending = p
	p.timer = time.AfterFunc(c.config.Debounce, func() { c.dispatch(p) })
	c.mu.Unlock()

	return c.wait(ctx, ch)
}

// LoadNextPage fetches the next page of fp. It is a no-op returning the
// current snapshot when there are no more pages or a load is running.
func (c *Coordinator) LoadNextPage(ctx context.Context, fp filter.Fingerprint) (*Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	query, ok := c.queries[fp]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownFingerprint
	}
	st := c.paginator.State(fp)
	if _, busy := c.flights[fp]; busy || !st.CanLoadNext() {
		c.mu.Unlock()
		return c.snapshotFor(ctx, fp)
	}
	f := c.startFlightLocked(fp, func(ctx context.Context, gen uint64) error {
		_, err := c.paginator.LoadPageAt(ctx, query, st.PagesLoaded, gen)
		return err
	})
	c.mu.Unlock()

	return c.await(ctx, f)
}

// ForceRefresh drops the cached pages of fp and fetches page 0 immediately.
// A pending debounced request is cancelled and its callers receive this
// refresh's result.
func (c *Coordinator) ForceRefresh(ctx context.Context, fp filter.Fingerprint) (*Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	query, ok := c.queries[fp]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownFingerprint
	}
	superseded := c.takePendingLocked()
	c.activateLocked(fp)

	// Detach any running fetch; Reset below makes its response stale
	delete(c.flights, fp)
	c.paginator.Reset(fp)
	c.mu.Unlock()

	if err := c.store.Invalidate(ctx, fp); err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("Failed to invalidate pages")
	}

	c.logger.Info().Str("fingerprint", fp.String()).Msg("Forced refresh")
	requestsTotal.WithLabelValues("forced").Inc()

	c.mu.Lock()
	f := c.startFlightLocked(fp, func(ctx context.Context, gen uint64) error {
		_, err := c.paginator.LoadPageAt(ctx, query, 0, gen)
		return err
	})
	c.mu.Unlock()

	snap, err := c.await(ctx, f)
	deliver(superseded, snap, err)
	return snap, err
}

// Snapshot returns the current view of the active fingerprint.
func (c *Coordinator) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	fp := c.active
	c.mu.Unlock()

	if fp == "" {
		return &Snapshot{Pagination: pagination.State{PageSize: c.paginator.PageSize(), HasMore: true}}, nil
	}
	return c.snapshotFor(ctx, fp)
}

// Active returns the fingerprint of the most recent request.
func (c *Coordinator) Active() filter.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close cancels running fetches and fails pending requests with ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	waiters := c.takePendingLocked()
	c.mu.Unlock()

	c.cancel()
	deliver(waiters, nil, ErrClosed)
	return nil
}

// dispatch runs when the debounce window of p elapses.
func (c *Coordinator) dispatch(p *pending) {
	c.mu.Lock()
	if c.pending != p || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	waiters := p.waiters
	query := p.query
	f := c.startFlightLocked(query.Fingerprint, func(ctx context.Context, gen uint64) error {
		_, err := c.paginator.LoadPageAt(ctx, query, 0, gen)
		return err
	})
	c.mu.Unlock()

	snap, err := c.await(c.ctx, f)
	if err == nil {
		requestsTotal.WithLabelValues("fetched").Inc()
	}
	deliver(waiters, snap, err)
}

// revalidate refreshes page 0 of query in the background unless a fetch for
// it is already running.
func (c *Coordinator) revalidate(query pagination.Query) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.flights[query.Fingerprint]; busy || c.closed {
		return
	}
	c.startFlightLocked(query.Fingerprint, func(ctx context.Context, gen uint64) error {
		_, err := c.paginator.LoadPageAt(ctx, query, 0, gen)
		return err
	})
}

// startFlightLocked returns the in-flight fetch of fp, starting run when
// there is none. run receives the paginator generation current at creation,
// so a flight detached by ForceRefresh or a filter change before its
// goroutine reaches the paginator is discarded instead of racing the new one.
func (c *Coordinator) startFlightLocked(fp filter.Fingerprint, run func(ctx context.Context, gen uint64) error) *flight {
	if f, ok := c.flights[fp]; ok {
		inflightJoinsTotal.Inc()
		c.logger.Debug().Str("fingerprint", fp.String()).Msg("Joining in-flight fetch")
		return f
	}

	f := &flight{fp: fp, done: make(chan struct{})}
	c.flights[fp] = f
	gen := c.paginator.Generation(fp)

	go func() {
		err := run(c.ctx, gen)
		var snap *Snapshot
		if err == nil {
			snap, err = c.snapshotFor(c.ctx, fp)
		}

		c.mu.Lock()
		if c.flights[fp] == f {
			delete(c.flights, fp)
		}
		c.mu.Unlock()

		f.snap, f.err = snap, err
		close(f.done)
	}()

	return f
}

// await waits for f. A superseded result follows the active fingerprint instead;
// a failed fetch returns the last good snapshot alongside the error.
func (c *Coordinator) await(ctx context.Context, f *flight) (*Snapshot, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if errors.Is(f.err, pagination.ErrStaleResponse) || errors.Is(f.err, pagination.ErrLoadInProgress) {
		staleResponsesTotal.Inc()
		c.logger.Debug().
			Str("event", "stale_response_discarded").
			Msg("Response superseded, following active filter")
		return c.follow(ctx)
	}
	if f.err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		return c.fallback(ctx, f.fp), f.err
	}
	return f.snap.clone(), nil
}

// follow resolves with whatever the active fingerprint resolves with.
func (c *Coordinator) follow(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	fp := c.active

	if p := c.pending; p != nil && p.query.Fingerprint == fp {
		ch := make(chan result, 1)
		p.waiters = append(p.waiters, ch)
		c.mu.Unlock()
		return c.wait(ctx, ch)
	}
	if f, ok := c.flights[fp]; ok {
		c.mu.Unlock()
		return c.await(ctx, f)
	}
	c.mu.Unlock()

	return c.snapshotFor(ctx, fp)
}

// fallback is the snapshot of fp shown after a failed fetch.
func (c *Coordinator) fallback(ctx context.Context, fp filter.Fingerprint) *Snapshot {
	snap, err := c.snapshotFor(ctx, fp)
	if err != nil {
		return nil
	}
	snap.Stale = true
	return snap
}

func (c *Coordinator) wait(ctx context.Context, ch <-chan result) (*Snapshot, error) {
	select {
	case r := <-ch:
		return r.snap.clone(), r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// snapshotFor builds the snapshot of fp from the store, falling back to the
// last good snapshot when the store holds nothing.
func (c *Coordinator) snapshotFor(ctx context.Context, fp filter.Fingerprint) (*Snapshot, error) {
	pages, err := c.store.Pages(ctx, fp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	query := c.queries[fp]
	last := c.lastGood[fp]
	c.mu.Unlock()

	state := c.paginator.State(fp)

	if len(pages) == 0 {
		if last != nil {
			snap := last.clone()
			snap.Pagination.IsLoading = state.IsLoading
			snap.Stale = true
			return snap, nil
		}
		return &Snapshot{
			Fingerprint: fp,
			CacheInfo:   CacheInfo{IsExpired: true, Filters: query.Filter},
			Pagination:  state,
		}, nil
	}

	var records []cache.Record
	for _, p := range pages {
		records = append(records, p.Records...)
	}

	snap := &Snapshot{
		Fingerprint: fp,
		Records:     records,
		CacheInfo: CacheInfo{
			AgeMinutes:  c.fresh.AgeMinutes(pages[0]),
			IsExpired:   c.fresh.IsExpired(pages[0]),
			RecordCount: len(records),
			Filters:     query.Filter,
		},
		Pagination: state,
	}
	snap.Stale = snap.CacheInfo.IsExpired

	c.mu.Lock()
	c.lastGood[fp] = snap.clone()
	c.mu.Unlock()

	return snap, nil
}

// activateLocked makes fp the active fingerprint. A fetch still running for
// the previous one is reset so its response is discarded.
func (c *Coordinator) activateLocked(fp filter.Fingerprint) {
	prev := c.active
	c.active = fp
	if prev == "" || prev == fp {
		return
	}

	if _, running := c.flights[prev]; running {
		delete(c.flights, prev)
		c.paginator.Reset(prev)
		c.logger.Debug().
			Str("fingerprint", prev.String()).
			Str("active", fp.String()).
			Msg("Filter changed, in-flight fetch will be discarded")
	}
}

// takePendingLocked cancels the pending request and returns its waiters.
func (c *Coordinator) takePendingLocked() []chan result {
	p := c.pending
	if p == nil {
		return nil
	}
	c.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	debounceSupersededTotal.Inc()
	return p.waiters
}

func deliver(waiters []chan result, snap *Snapshot, err error) {
	for _, ch := range waiters {
		ch <- result{snap: snap.clone(), err: err}
	}
}
