package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQuotaExhausted is returned by Allow while the quota is critical.
var ErrQuotaExhausted = errors.New("remote quota exhausted")

// DefaultThrottleDelay is the wait applied below the warning threshold.
const DefaultThrottleDelay = time.Second

// Prometheus metrics for quota tracking.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensor_remote_quota_remaining",
		Help: "Requests remaining in the current gateway quota window",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_quota_blocks_total",
		Help: "Total requests refused because the gateway quota is critical",
	})

	quotaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_quota_throttles_total",
		Help: "Total requests delayed because the gateway quota is low",
	})
)

// Tracker monitors the gateway quota and gates requests.
// With a Redis client the state is shared by every process using the same
// gateway; without one it is kept in memory.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	// ThrottleDelay is the wait applied below the warning threshold.
	ThrottleDelay time.Duration

	now func() time.Time

	mu    sync.Mutex
	local *QuotaState
}

// NewTracker creates a tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		ThrottleDelay: DefaultThrottleDelay,
		now:           time.Now,
	}
}

// GetState returns the current quota state. A healthy default is returned
// before the first response was seen or after the window has reset.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	now := t.now()

	var state *QuotaState
	if t.redis == nil {
		t.mu.Lock()
		if t.local != nil {
			cp := *t.local
			state = &cp
		}
		t.mu.Unlock()
	} else {
		var err error
		if state, err = t.loadState(ctx); err != nil {
			return nil, err
		}
	}

	if state == nil || state.Expired(now) {
		return healthyState(now), nil
	}
	return state, nil
}

func (t *Tracker) loadState(ctx context.Context) (*QuotaState, error) {
	vals, err := t.redis.MGet(ctx, RedisKeyRemaining, RedisKeyResetAt, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}
	if vals[0] == nil {
		return nil, nil
	}

	remaining, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	state := &QuotaState{Remaining: remaining}

	if vals[1] != nil {
		reset, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reset timestamp: %w", err)
		}
		state.ResetAt = time.Unix(reset, 0)
	}
	if vals[2] != nil {
		if state.LastUpdate, err = time.Parse(time.RFC3339Nano, fmt.Sprint(vals[2])); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}
	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders records the quota reported by a gateway response.
// Responses without the headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := t.now()
	state := &QuotaState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
	} else {
		ttl := time.Duration(resetSeconds)*time.Second + time.Minute
		pipe := t.redis.Pipeline()
		pipe.Set(ctx, RedisKeyRemaining, remain, ttl)
		pipe.Set(ctx, RedisKeyResetAt, state.ResetAt.Unix(), ttl)
		pipe.Set(ctx, RedisKeyLastUpdate, now.Format(time.RFC3339Nano), ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store quota state in redis: %w", err)
		}
	}

	quotaRemaining.Set(float64(remain))

	switch {
	case state.NeedsBlock():
		t.logger.Error().Int("remaining", remain).Time("reset_at", state.ResetAt).
			Msg("Gateway quota CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().Int("remaining", remain).Time("reset_at", state.ResetAt).
			Msg("Gateway quota WARNING - requests will be throttled")
	default:
		t.logger.Debug().Int("remaining", remain).Bool("is_healthy", state.IsHealthy).
			Msg("Gateway quota updated")
	}

	return nil
}

// Allow gates a request. It returns ErrQuotaExhausted while the quota is
// critical and waits ThrottleDelay while it is low.
func (t *Tracker) Allow(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get quota state: %w", err)
	}

	if state.NeedsBlock() {
		wait := state.TimeUntilReset(t.now())
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Gateway quota critical - blocking request")
		quotaBlocksTotal.Inc()
		return fmt.Errorf("%w: resets in %s", ErrQuotaExhausted, wait.Round(time.Second))
	}

	if state.NeedsThrottling() && t.ThrottleDelay > 0 {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Gateway quota low - throttling request")
		quotaThrottlesTotal.Inc()

		timer := time.NewTimer(t.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
