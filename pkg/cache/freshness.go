package cache

import "time"

// DefaultTTL is how long a page is trusted after it was fetched.
const DefaultTTL = 5 * time.Minute

// Freshness decides whether a stored page may still be served as current.
// Expiry only affects reads; it never removes data from a Store.
type Freshness struct {
	// TTL is the maximum trusted page age
	TTL time.Duration

	// Now returns the current time (time.Now when nil)
	Now func() time.Time
}

// NewFreshness returns a policy with the given TTL (DefaultTTL when <= 0).
func NewFreshness(ttl time.Duration) Freshness {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Freshness{TTL: ttl, Now: time.Now}
}

// Age returns how long ago the page was fetched. Never negative.
func (f Freshness) Age(page *Page) time.Duration {
	if page == nil {
		return 0
	}
	age := f.now().Sub(page.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// AgeMinutes returns Age in fractional minutes.
func (f Freshness) AgeMinutes(page *Page) float64 {
	return f.Age(page).Minutes()
}

// IsExpired reports age >= TTL. A nil page counts as expired.
func (f Freshness) IsExpired(page *Page) bool {
	if page == nil {
		return true
	}
	return IsExpired(page, f.ttl(), f.now())
}

// IsExpired is the pure form of the expiry rule.
func IsExpired(page *Page, ttl time.Duration, now time.Time) bool {
	return now.Sub(page.FetchedAt) >= ttl
}

func (f Freshness) ttl() time.Duration {
	if f.TTL <= 0 {
		return DefaultTTL
	}
	return f.TTL
}

func (f Freshness) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}
