package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

// DefaultMaxFingerprints is how many filter combinations MemoryStore retains.
const DefaultMaxFingerprints = 16

type fingerprintPages struct {
	pages   map[int]*Page
	touched time.Time
}

// MemoryStore is the in-process Store. Pages of superseded fingerprints are
// kept for back-navigation until MaxFingerprints is exceeded, then the least
// recently written fingerprint is evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[filter.Fingerprint]*fingerprintPages
	max     int
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxFingerprints bounds the number of retained fingerprints.
func WithMaxFingerprints(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithClock overrides the clock used to stamp FetchedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[filter.Fingerprint]*fingerprintPages),
		max:     DefaultMaxFingerprints,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the page at (fp, index).
func (s *MemoryStore) Get(_ context.Context, fp filter.Fingerprint, index int) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[fp]
	if !ok {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	page, ok := entry.pages[index]
	if !ok {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("memory").Inc()
	return page.Clone(), nil
}

// Put stores a copy of page and stamps its FetchedAt.
func (s *MemoryStore) Put(_ context.Context, fp filter.Fingerprint, index int, page *Page) error {
	if page == nil {
		CacheErrors.WithLabelValues("put").Inc()
		return ErrInvalidPage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[fp]
	if !ok {
		entry = &fingerprintPages{pages: make(map[int]*Page)}
		s.entries[fp] = entry
		s.evictLocked(fp)
	}

	stored := page.Clone()
	stamp(stored, entry.pages[index], now)
	entry.pages[index] = stored
	entry.touched = now

	// Reflect the stamp back to the caller's copy
	page.FetchedAt = stored.FetchedAt

	s.updateGaugeLocked()
	return nil
}

// Pages returns copies of the contiguous pages from index 0.
func (s *MemoryStore) Pages(_ context.Context, fp filter.Fingerprint) ([]*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[fp]
	if !ok {
		return nil, nil
	}

	var pages []*Page
	for i := 0; ; i++ {
		p, ok := entry.pages[i]
		if !ok {
			break
		}
		pages = append(pages, p.Clone())
	}
	return pages, nil
}

// RecordCount sums records across the contiguous pages of fp.
func (s *MemoryStore) RecordCount(ctx context.Context, fp filter.Fingerprint) (int, error) {
	pages, err := s.Pages(ctx, fp)
	if err != nil {
		return 0, err
	}
	return countRecords(pages), nil
}

// Trim drops pages with index >= keep.
func (s *MemoryStore) Trim(_ context.Context, fp filter.Fingerprint, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fp]
	if !ok {
		return nil
	}
	for idx := range entry.pages {
		if idx >= keep {
			delete(entry.pages, idx)
		}
	}
	if len(entry.pages) == 0 {
		delete(s.entries, fp)
	}

	s.updateGaugeLocked()
	return nil
}

// Invalidate drops all pages of fp.
func (s *MemoryStore) Invalidate(_ context.Context, fp filter.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, fp)
	s.updateGaugeLocked()
	return nil
}

// Fingerprints returns the number of retained fingerprints.
func (s *MemoryStore) Fingerprints() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictLocked drops the least recently written fingerprint other than keep
// while the store holds more than max fingerprints.
func (s *MemoryStore) evictLocked(keep filter.Fingerprint) {
	for len(s.entries) > s.max {
		var oldest filter.Fingerprint
		var oldestAt time.Time
		found := false
		for fp, entry := range s.entries {
			if fp == keep {
				continue
			}
			if !found || entry.touched.Before(oldestAt) {
				oldest, oldestAt, found = fp, entry.touched, true
			}
		}
		if !found {
			return
		}
		delete(s.entries, oldest)
		CacheEvictions.Inc()
	}
}

func (s *MemoryStore) updateGaugeLocked() {
	n := 0
	for _, entry := range s.entries {
		n += len(entry.pages)
	}
	CachePages.WithLabelValues("memory").Set(float64(n))
}
