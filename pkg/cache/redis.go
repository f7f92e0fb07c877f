package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/sensordata-cache/pkg/filter"
)

// DefaultRetention is how long Redis keeps the pages of an idle fingerprint.
// Retention only bounds memory; freshness is still decided by TTL.
const DefaultRetention = time.Hour

// RedisStore shares pages between API replicas. Each fingerprint maps to one
// Redis hash (field = page index, value = JSON page) that expires after the
// retention window once writes stop.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore creates a Redis-backed Store.
// A retention <= 0 uses DefaultRetention.
func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{
		redis:     redisClient,
		retention: retention,
		now:       time.Now,
	}
}

// RedisKey returns the hash key holding the pages of fp.
// Format: sensor:pages:<xxhash64 hex>
func RedisKey(fp filter.Fingerprint) string {
	return fmt.Sprintf("sensor:pages:%016x", xxhash.Sum64String(fp.String()))
}

// Get retrieves the page at (fp, index).
// Returns ErrCacheMiss if the page doesn't exist.
func (s *RedisStore) Get(ctx context.Context, fp filter.Fingerprint, index int) (*Page, error) {
	data, err := s.redis.HGet(ctx, RedisKey(fp), strconv.Itoa(index)).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	page, err := decodePage(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues("redis").Inc()
	return page, nil
}

// Put stores the page and refreshes the retention window of fp.
func (s *RedisStore) Put(ctx context.Context, fp filter.Fingerprint, index int, page *Page) error {
	if page == nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("%w: page cannot be nil", ErrInvalidPage)
	}

	// A failed lookup only loses the monotonic guard, not the write
	prev, _ := s.peek(ctx, fp, index)

	stored := page.Clone()
	stamp(stored, prev, s.now())

	data, err := json.Marshal(stored)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal page: %w", err)
	}

	key := RedisKey(fp)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(index), data)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	page.FetchedAt = stored.FetchedAt
	if prev == nil {
		CachePages.WithLabelValues("redis").Inc()
	}
	return nil
}

// Pages returns the contiguous pages of fp starting at index 0.
func (s *RedisStore) Pages(ctx context.Context, fp filter.Fingerprint) ([]*Page, error) {
	all, err := s.redis.HGetAll(ctx, RedisKey(fp)).Result()
	if err != nil {
		CacheErrors.WithLabelValues("pages").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	var pages []*Page
	for i := 0; ; i++ {
		data, ok := all[strconv.Itoa(i)]
		if !ok {
			break
		}
		page, err := decodePage([]byte(data))
		if err != nil {
			CacheErrors.WithLabelValues("pages").Inc()
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// RecordCount sums records over the contiguous pages of fp.
func (s *RedisStore) RecordCount(ctx context.Context, fp filter.Fingerprint) (int, error) {
	pages, err := s.Pages(ctx, fp)
	if err != nil {
		return 0, err
	}
	return countRecords(pages), nil
}

// Trim removes pages with index >= keep.
func (s *RedisStore) Trim(ctx context.Context, fp filter.Fingerprint, keep int) error {
	key := RedisKey(fp)
	fields, err := s.redis.HKeys(ctx, key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("trim").Inc()
		return fmt.Errorf("redis hkeys: %w", err)
	}

	var drop []string
	for _, f := range fields {
		idx, err := strconv.Atoi(f)
		if err != nil || idx >= keep {
			drop = append(drop, f)
		}
	}
	if len(drop) == 0 {
		return nil
	}

	if err := s.redis.HDel(ctx, key, drop...).Err(); err != nil {
		CacheErrors.WithLabelValues("trim").Inc()
		return fmt.Errorf("redis hdel: %w", err)
	}
	CachePages.WithLabelValues("redis").Sub(float64(len(drop)))
	return nil
}

// Invalidate removes all pages of fp.
func (s *RedisStore) Invalidate(ctx context.Context, fp filter.Fingerprint) error {
	key := RedisKey(fp)
	pipe := s.redis.TxPipeline()
	count := pipe.HLen(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	if n := count.Val(); n > 0 {
		CachePages.WithLabelValues("redis").Sub(float64(n))
	}
	return nil
}

// peek reads a page without touching the hit and miss counters.
func (s *RedisStore) peek(ctx context.Context, fp filter.Fingerprint, index int) (*Page, error) {
	data, err := s.redis.HGet(ctx, RedisKey(fp), strconv.Itoa(index)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return decodePage(data)
}

func decodePage(data []byte) (*Page, error) {
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	return &page, nil
}
