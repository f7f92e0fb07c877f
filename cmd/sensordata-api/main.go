package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/logging"
	"github.com/Sternrassler/sensordata-cache/pkg/ratelimit"
	"github.com/Sternrassler/sensordata-cache/pkg/source"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Page store: Redis when configured, then SQLite, process memory otherwise
	var store cache.Store = cache.NewMemoryStore()
	var redisClient *redis.Client
	switch {
	case cfg.RedisURL != "":
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		store = cache.NewRedisStore(redisClient, 0)
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
	case cfg.SQLitePath != "":
		sqliteStore, err := openSQLiteStore(ctx, cfg.SQLitePath, cfg.SQLiteRetention)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("Failed to open SQLite page store")
		}
		defer sqliteStore.Close()

		store = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("Using SQLite page store")
	}

	srcCfg := source.DefaultConfig(cfg.RemoteURL, cfg.UserAgent)
	srcCfg.Token = cfg.RemoteToken
	srcCfg.Quota = ratelimit.NewTracker(redisClient, logging.NewLogger("quota"))
	src, err := source.New(srcCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create remote source")
	}

	// One coordinator per client session, all over the shared page store
	clients := newSessions(src, store, cfg.Coordinator, cfg.SessionMax, cfg.SessionIdle, logging.NewLogger("coordinator"))
	defer clients.Close()

	srv := &server{
		sessions: clients,
		allow:    allowRoles(cfg.AllowedRoles),
		redis:    redisClient,
		logger:   logging.NewLogger("http"),
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("remote", cfg.RemoteURL).
		Dur("ttl", cfg.Coordinator.TTL).
		Int("page_size", cfg.Coordinator.PageSize).
		Int("max_sessions", cfg.SessionMax).
		Msg("Starting sensor data API")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

// openSQLiteStore opens the durable store and drops pages older than retention.
func openSQLiteStore(ctx context.Context, path string, retention time.Duration) (*cache.SQLiteStore, error) {
	store, err := cache.OpenSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if retention > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			store.Close()
			return nil, err
		}
		if n > 0 {
			log.Info().Int64("pages", n).Dur("retention", retention).Msg("Pruned stored pages")
		}
	}
	return store, nil
}

// newRedisClient accepts a redis:// URL or a bare host:port.
func newRedisClient(raw string) (*redis.Client, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: raw}), nil
}
