// Package ratelimit tracks the request quota of the document-store gateway.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers of every
// response and gates further requests before the gateway starts rejecting
// them.
package ratelimit

import (
	"time"
)

// Redis keys for quota state storage.
const (
	RedisKeyRemaining  = "sensor:quota:remaining"
	RedisKeyResetAt    = "sensor:quota:reset_at"
	RedisKeyLastUpdate = "sensor:quota:last_update"
)

// Response headers carrying the quota.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for quota decisions.
const (
	// ThresholdCritical blocks all requests when the remaining quota falls
	// below this value.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests below this value.
	ThresholdWarning = 20

	// ThresholdHealthy marks the quota as healthy at or above this value.
	ThresholdHealthy = 50
)

// QuotaState is the last known gateway quota.
type QuotaState struct {
	// Remaining is the number of requests the gateway still accepts in the
	// current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was read from a response.
	LastUpdate time.Time `json:"last_update"`

	IsHealthy bool `json:"is_healthy"`
}

// NeedsBlock reports whether requests must be refused.
func (s *QuotaState) NeedsBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling reports whether requests should be slowed down.
func (s *QuotaState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsBlock()
}

// Expired reports whether the quota window has reset by now.
func (s *QuotaState) Expired(now time.Time) bool {
	return !s.ResetAt.IsZero() && !now.Before(s.ResetAt)
}

// TimeUntilReset returns the time left in the window, never negative.
func (s *QuotaState) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

// healthyState is assumed until the gateway reports a quota.
func healthyState(now time.Time) *QuotaState {
	return &QuotaState{
		Remaining:  100,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
		IsHealthy:  true,
	}
}
