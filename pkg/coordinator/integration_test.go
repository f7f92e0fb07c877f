//go:build integration

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/sensordata-cache/internal/testutil"
	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/filter"
	"github.com/Sternrassler/sensordata-cache/pkg/pagination"
	"github.com/Sternrassler/sensordata-cache/pkg/source"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start Redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() {
		client.Close()
		container.Terminate(ctx)
	})
	return client
}

type stack struct {
	remote *testutil.MockRemote
	store  *cache.RedisStore
	coord  *Coordinator
	redis  *redis.Client
}

func newStack(t *testing.T, pages, perPage int) *stack {
	t.Helper()

	redisClient := setupRedis(t)
	remote := testutil.NewMockRemote(pages, perPage)
	t.Cleanup(remote.Close)

	src, err := source.New(source.DefaultConfig(remote.URL(), "sensordata-cache/integration"), zerolog.Nop())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.PageSize = perPage
	cfg.Debounce = 20 * time.Millisecond
	cfg.FetchTimeout = 500 * time.Millisecond

	store := cache.NewRedisStore(redisClient, time.Minute)
	coord := New(src, store, cfg, zerolog.Nop())
	t.Cleanup(func() { coord.Close() })

	return &stack{remote: remote, store: store, coord: coord, redis: redisClient}
}

// TestFullRequestFlow covers debounce → gateway → Redis → cache hit.
func TestFullRequestFlow(t *testing.T) {
	s := newStack(t, 3, 10)
	ctx := context.Background()
	spec := filter.Spec{Location: "dock", RecordType: "weather"}

	snap, err := s.coord.RequestData(ctx, spec, Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, snap.CacheInfo.RecordCount)
	assert.Equal(t, 1, s.remote.GetRequestCount())
	assert.Equal(t, "dock", s.remote.GetLastQuery().Get("location"))

	for i := 0; i < 2; i++ {
		snap, err = s.coord.LoadNextPage(ctx, snap.Fingerprint)
		require.NoError(t, err)
	}
	assert.Equal(t, 30, snap.CacheInfo.RecordCount)
	assert.False(t, snap.Pagination.HasMore)
	require.NotNil(t, snap.Pagination.TotalPagesKnown)
	assert.Equal(t, 3, *snap.Pagination.TotalPagesKnown)

	ttl, err := s.redis.TTL(ctx, cache.RedisKey(snap.Fingerprint)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	again, err := s.coord.RequestData(ctx, spec, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, s.remote.GetRequestCount(), "cache hit must not reach the gateway")
	assert.Equal(t, 30, again.CacheInfo.RecordCount)
}

func TestForceRefreshTrimsRedis(t *testing.T) {
	s := newStack(t, 5, 4)
	ctx := context.Background()

	snap, err := s.coord.RequestData(ctx, filter.Spec{Location: "yard"}, Options{})
	require.NoError(t, err)
	_, err = s.coord.LoadNextPage(ctx, snap.Fingerprint)
	require.NoError(t, err)

	n, err := s.redis.HLen(ctx, cache.RedisKey(snap.Fingerprint)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	refreshed, err := s.coord.ForceRefresh(ctx, snap.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 4, refreshed.CacheInfo.RecordCount)

	n, err = s.redis.HLen(ctx, cache.RedisKey(snap.Fingerprint)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestServerErrorKeepsLastGood(t *testing.T) {
	s := newStack(t, 2, 3)
	ctx := context.Background()

	snap, err := s.coord.RequestData(ctx, filter.Spec{Location: "dock"}, Options{})
	require.NoError(t, err)

	s.remote.SetResponse(testutil.NewServerErrorResponse())

	degraded, err := s.coord.ForceRefresh(ctx, snap.Fingerprint)
	var fetchErr *pagination.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, source.ErrorClassServer, source.ClassOf(err))
	assert.Equal(t, 1+1, s.remote.GetRequestCount(), "no retry on 5xx")

	require.NotNil(t, degraded)
	assert.True(t, degraded.Stale)
	assert.Equal(t, 3, degraded.CacheInfo.RecordCount)
}

func TestGatewayTimeout(t *testing.T) {
	s := newStack(t, 2, 3)
	s.remote.SetResponse(testutil.NewSlowResponse(2 * time.Second))

	_, err := s.coord.RequestData(context.Background(), filter.Spec{Location: "dock"}, Options{})

	var fetchErr *pagination.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, fetchErr.Timeout)
	assert.ErrorIs(t, err, pagination.ErrFetchTimeout)
}
