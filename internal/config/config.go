package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDBPath    = "./dev.db"
	defaultPort      = "8080"
	defaultEnv       = "dev"
	defaultLogLevel  = "info"
	defaultChunkSize = 512
	defaultCacheTTL  = 10 * time.Minute
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env      string
	DBPath   string
	Port     string
	LogLevel string

	// RulesFile optionally points at a YAML/JSON rules file used to seed the
	// first rule configuration version.
	RulesFile string

	SimWorkers   int
	SimChunkSize int
	SimCacheTTL  time.Duration

	// Warnings collects non-fatal problems found while loading, to be logged
	// once a logger exists.
	Warnings []string
}

// IsDev reports whether the app runs in development mode, where migrations
// and seed data are applied on start-up.
func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "development" || c.Env == "test"
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	// Best-effort: load local dev environment variables.
	// We don't fail if the file is missing; production should use real env injection.
	_ = loadDotEnv(".env")

	cfg := Config{
		Env:          strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV"))),
		DBPath:       os.Getenv("DB_PATH"),
		Port:         os.Getenv("PORT"),
		LogLevel:     strings.ToLower(os.Getenv("LOG_LEVEL")),
		RulesFile:    os.Getenv("RULES_FILE"),
		SimChunkSize: defaultChunkSize,
		SimCacheTTL:  defaultCacheTTL,
	}

	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if raw := os.Getenv("SIM_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			cfg.warnf("SIM_WORKERS=%q is not a non-negative integer, using GOMAXPROCS", raw)
		} else {
			cfg.SimWorkers = n
		}
	}
	if raw := os.Getenv("SIM_CHUNK_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			cfg.warnf("SIM_CHUNK_SIZE=%q is not a positive integer, using %d", raw, defaultChunkSize)
		} else {
			cfg.SimChunkSize = n
		}
	}
	if raw := os.Getenv("SIM_CACHE_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			cfg.warnf("SIM_CACHE_TTL=%q is not a valid duration, using %s", raw, defaultCacheTTL)
		} else {
			cfg.SimCacheTTL = d
		}
	}

	return cfg
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
