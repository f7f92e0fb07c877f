package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/sensordata-cache/pkg/coordinator"
	"github.com/Sternrassler/sensordata-cache/pkg/logging"
)

// appConfig is the process configuration read from the environment.
type appConfig struct {
	RemoteURL       string
	RemoteToken     string
	UserAgent       string
	RedisURL        string
	SQLitePath      string
	SQLiteRetention time.Duration
	Port            string
	Logging         logging.Config
	Coordinator     coordinator.Config
	SessionMax      int
	SessionIdle     time.Duration
	AllowedRoles    []string
}

// loadConfig reads the environment. Only REMOTE_URL is required.
func loadConfig() (appConfig, error) {
	cfg := appConfig{
		RemoteURL:   os.Getenv("REMOTE_URL"),
		RemoteToken: os.Getenv("REMOTE_TOKEN"),
		UserAgent:   getEnv("USER_AGENT", "sensordata-api/0.1.0"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		Port:        getEnv("PORT", "8080"),
		Logging:     logging.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
	}
	if cfg.RemoteURL == "" {
		return cfg, fmt.Errorf("REMOTE_URL is required")
	}

	cfg.Logging.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(cfg.Logging.Level)))

	var err error
	if cfg.Logging.Pretty, err = getEnvBool("LOG_PRETTY", false); err != nil {
		return cfg, err
	}

	ttlMinutes, err := getEnvInt("TTL_MINUTES", int(cfg.Coordinator.TTL/time.Minute))
	if err != nil {
		return cfg, err
	}
	cfg.Coordinator.TTL = time.Duration(ttlMinutes) * time.Minute

	if cfg.Coordinator.PageSize, err = getEnvInt("PAGE_SIZE", cfg.Coordinator.PageSize); err != nil {
		return cfg, err
	}

	debounceMs, err := getEnvInt("DEBOUNCE_MS", int(cfg.Coordinator.Debounce/time.Millisecond))
	if err != nil {
		return cfg, err
	}
	cfg.Coordinator.Debounce = time.Duration(debounceMs) * time.Millisecond

	if cfg.Coordinator.DefaultWindowDays, err = getEnvInt("DEFAULT_WINDOW_DAYS", cfg.Coordinator.DefaultWindowDays); err != nil {
		return cfg, err
	}
	if cfg.Coordinator.DefaultRecordCap, err = getEnvInt("DEFAULT_RECORD_CAP", cfg.Coordinator.DefaultRecordCap); err != nil {
		return cfg, err
	}

	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse FETCH_TIMEOUT: %w", err)
		}
		cfg.Coordinator.FetchTimeout = d
	}

	if cfg.SessionMax, err = getEnvInt("SESSION_MAX", defaultMaxSessions); err != nil {
		return cfg, err
	}
	cfg.SessionIdle = defaultSessionIdle
	if v := os.Getenv("SESSION_IDLE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse SESSION_IDLE: %w", err)
		}
		cfg.SessionIdle = d
	}

	cfg.SQLiteRetention = 24 * time.Hour
	if v := os.Getenv("SQLITE_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse SQLITE_RETENTION: %w", err)
		}
		cfg.SQLiteRetention = d
	}

	for _, role := range strings.Split(os.Getenv("ALLOWED_ROLES"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			cfg.AllowedRoles = append(cfg.AllowedRoles, role)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}
