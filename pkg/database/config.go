package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Pool defaults sized for the orchestrator's access pattern: frequent short
// reads from the scheduler tick and queue pops, no long analytical queries.
const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// LoadConfigFromEnv assembles the database configuration from DB_* variables,
// falling back to a local development setup. Malformed numeric variables are
// an error rather than a silent fallback.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:            envOr("DB_HOST", "localhost"),
		User:            envOr("DB_USER", "testrig"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        envOr("DB_NAME", "testrig"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}

	var err error
	if cfg.Port, err = intEnv("DB_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.MaxOpenConns, err = intEnv("DB_MAX_OPEN_CONNS", defaultMaxOpenConns); err != nil {
		return Config{}, err
	}
	if cfg.MaxIdleConns, err = intEnv("DB_MAX_IDLE_CONNS", defaultMaxIdleConns); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return val, nil
}
