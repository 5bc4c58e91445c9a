/*
Package config loads server configuration from the environment.

PURPOSE:
  One place that knows every setting the server reads. Values come from the
  process environment, optionally seeded from a .env file; flags given on the
  command line override both (see cmd/server).

VARIABLES:
  PORT                     HTTP port (8080)
  DB_DRIVER                sqlite | postgres (sqlite)
  SQLITE_PATH              SQLite file, ":memory:" allowed (servicedesk.db)
  DATABASE_URL             PostgreSQL URL, required when DB_DRIVER=postgres
  LOG_LEVEL                zerolog level name (info)
  ENVIRONMENT              development | production (development)
  ROLLOVER_ENABLED         run the monthly rollover scheduler (true)
  ROLLOVER_INTERVAL        scheduler tick, Go duration (1h)
  NATS_URL                 publish ticket notifications to NATS when set
  NATS_SUBJECT_PREFIX      subject prefix (servicedesk)
  CORS_ORIGINS             comma separated allowed origins
  WORKLIST_FETCH_LIMIT     open tickets / service orders read per worklist (2000)
  ORDER_FETCH_LIMIT        service orders read per period close (5000)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        int
	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	LogLevel    string
	Environment string

	RolloverEnabled  bool
	RolloverInterval time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	CORSOrigins []string

	WorklistFetchLimit int
	OrderFetchLimit    int
}

// Load reads a .env file if present, then the environment.
// Precedence: explicit env var > .env file > default.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:              getEnvInt("PORT", 8080),
		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		SQLitePath:        getEnv("SQLITE_PATH", "servicedesk.db"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		RolloverEnabled:   getEnvBool("ROLLOVER_ENABLED", true),
		RolloverInterval:  getEnvDuration("ROLLOVER_INTERVAL", time.Hour),
		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "servicedesk"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS",
			"http://localhost:5173,http://localhost:8080")),
		WorklistFetchLimit: getEnvInt("WORKLIST_FETCH_LIMIT", 2000),
		OrderFetchLimit:    getEnvInt("ORDER_FETCH_LIMIT", 5000),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RolloverInterval <= 0 {
		return fmt.Errorf("ROLLOVER_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
