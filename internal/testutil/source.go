package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/pagination"
)

// FakeSource is an in-process pagination.Source serving a fixed number of
// pages. Cursors have the form c<next page index>.
type FakeSource struct {
	mu             sync.Mutex
	pages          int
	recordsPerPage int
	delay          time.Duration
	err            error
	gate           chan struct{}
	hook           func(ctx context.Context, req pagination.FetchRequest) error
	requests       []pagination.FetchRequest
}

// NewFakeSource creates a source with the given page count and page size.
// pages <= 0 means the source never runs out.
func NewFakeSource(pages, recordsPerPage int) *FakeSource {
	return &FakeSource{
		pages:          pages,
		recordsPerPage: recordsPerPage,
	}
}

// SetDelay makes every fetch wait d (or until the context ends).
func (f *FakeSource) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// SetError makes every fetch fail with err (nil clears it).
func (f *FakeSource) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetHook runs fn at the start of every fetch; a non-nil error fails the fetch.
func (f *FakeSource) SetHook(fn func(ctx context.Context, req pagination.FetchRequest) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

// Hold blocks fetches until Release is called.
func (f *FakeSource) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

// Release unblocks fetches held by Hold.
func (f *FakeSource) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Calls returns the number of fetches received.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every received request.
func (f *FakeSource) Requests() []pagination.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pagination.FetchRequest(nil), f.requests...)
}

// LastRequest returns the most recent request.
func (f *FakeSource) LastRequest() (pagination.FetchRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return pagination.FetchRequest{}, false
	}
	return f.requests[len(f.requests)-1], true
}

// FetchPage implements pagination.Source.
func (f *FakeSource) FetchPage(ctx context.Context, req pagination.FetchRequest) (*pagination.FetchResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate, delay, hook, err := f.gate, f.delay, f.hook, f.err
	pages, perPage := f.pages, f.recordsPerPage
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	index, perr := pageFromCursor(req.Cursor)
	if perr != nil {
		return nil, perr
	}

	records := make([]cache.Record, perPage)
	for i := range records {
		records[i] = cache.Record{
			"id":          fmt.Sprintf("%d-%d", index, i),
			"page":        index,
			"location":    req.Filter.Location,
			"record_type": req.Filter.RecordType,
		}
	}

	next := ""
	if pages <= 0 || index+1 < pages {
		next = fmt.Sprintf("c%d", index+1)
	}

	return &pagination.FetchResult{Records: records, NextCursor: next}, nil
}

func pageFromCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
	if err != nil {
		return 0, fmt.Errorf("bad cursor %q: %w", cursor, err)
	}
	return n, nil
}
