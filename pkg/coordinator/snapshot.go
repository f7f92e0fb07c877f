package coordinator

import (
	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/filter"
	"github.com/Sternrassler/sensordata-cache/pkg/pagination"
)

// CacheInfo describes the cached result set behind a snapshot.
// It is recomputed on every read.
type CacheInfo struct {
	AgeMinutes  float64     `json:"age_minutes"`
	IsExpired   bool        `json:"is_expired"`
	RecordCount int         `json:"record_count"`
	Filters     filter.Spec `json:"filters"`
}

// Snapshot is the read-only view the dashboard renders.
type Snapshot struct {
	Fingerprint filter.Fingerprint `json:"fingerprint"`
	Records     []cache.Record     `json:"records"`
	CacheInfo   CacheInfo          `json:"cache_info"`
	Pagination  pagination.State   `json:"pagination_info"`

	// Stale is true when the records are expired or come from the last good
	// snapshot after the store lost them
	Stale bool `json:"stale"`
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Records = append([]cache.Record(nil), s.Records...)
	if s.Pagination.TotalPagesKnown != nil {
		n := *s.Pagination.TotalPagesKnown
		c.Pagination.TotalPagesKnown = &n
	}
	return &c
}
