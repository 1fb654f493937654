package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env            string
	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string
	TreeCacheTTL   time.Duration
	LogLevel       slog.Level
}

// LoadEnvFile reads a .env file outside production. A missing file is not an error.
func LoadEnvFile(path string) error {
	goEnv := os.Getenv("GO_ENV")
	if goEnv != "" && goEnv != "development" {
		return nil
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() (Config, error) {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	driver := strings.ToLower(os.Getenv("DATABASE_DRIVER"))
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return Config{}, fmt.Errorf("DATABASE_DRIVER must be one of: %s, %s", DriverPostgres, DriverSQLite)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL required")
	}

	ttl := 5 * time.Minute
	if raw := os.Getenv("TREE_CACHE_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("TREE_CACHE_TTL must be a positive duration, got %q", raw)
		}
		ttl = parsed
	}

	level := slog.LevelInfo
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	return Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		RedisURL:       os.Getenv("REDIS_URL"),
		TreeCacheTTL:   ttl,
		LogLevel:       level,
	}, nil
}

func (c Config) Production() bool {
	return c.Env == "production"
}
