package coordinator

import (
	"time"

	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

// Config holds the coordinator configuration.
type Config struct {
	// TTL is how long a fetched page is served without a refresh
	TTL time.Duration

	// PageSize is the records per page, fixed for the session
	PageSize int

	// Debounce is the quiet period before a filter change is dispatched
	Debounce time.Duration

	// DefaultWindowDays is the look-back of an unfiltered query
	DefaultWindowDays int

	// DefaultRecordCap bounds the result set of an unfiltered query
	DefaultRecordCap int

	// FetchTimeout bounds a single remote page fetch
	FetchTimeout time.Duration
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		TTL:               cache.DefaultTTL,
		PageSize:          50,
		Debounce:          300 * time.Millisecond,
		DefaultWindowDays: filter.DefaultWindowDays,
		DefaultRecordCap:  filter.DefaultRecordCap,
		FetchTimeout:      15 * time.Second,
	}
}

// withDefaults backfills zero values.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.Debounce < 0 {
		c.Debounce = 0
	}
	if c.DefaultWindowDays <= 0 {
		c.DefaultWindowDays = def.DefaultWindowDays
	}
	if c.DefaultRecordCap <= 0 {
		c.DefaultRecordCap = def.DefaultRecordCap
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	return c
}
