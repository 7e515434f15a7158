package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "DB_PATH", "PORT", "LOG_LEVEL", "RULES_FILE", "SIM_WORKERS", "SIM_CHUNK_SIZE", "SIM_CACHE_TTL"} {
		t.Setenv(k, "")
	}
	chdir(t, t.TempDir())

	cfg := Load()

	if cfg.Env != "dev" || !cfg.IsDev() {
		t.Fatalf("Env=%q, want dev", cfg.Env)
	}
	if cfg.DBPath != "./dev.db" || cfg.Port != "8080" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SimChunkSize != 512 || cfg.SimCacheTTL != 10*time.Minute || cfg.SimWorkers != 0 {
		t.Fatalf("unexpected simulation defaults: %+v", cfg)
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", cfg.Warnings)
	}
}

func TestLoad_OverridesAndWarnings(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("APP_ENV", "Production")
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RULES_FILE", "rules.yaml")
	t.Setenv("SIM_WORKERS", "4")
	t.Setenv("SIM_CHUNK_SIZE", "zero")
	t.Setenv("SIM_CACHE_TTL", "30s")

	cfg := Load()

	if cfg.IsDev() {
		t.Fatalf("production must not be dev")
	}
	if cfg.DBPath != "/tmp/x.db" || cfg.Port != "9000" || cfg.LogLevel != "debug" || cfg.RulesFile != "rules.yaml" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.SimWorkers != 4 || cfg.SimCacheTTL != 30*time.Second {
		t.Fatalf("unexpected simulation overrides: %+v", cfg)
	}
	if cfg.SimChunkSize != 512 {
		t.Fatalf("invalid chunk size must fall back to default, got %d", cfg.SimChunkSize)
	}
	if len(cfg.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", cfg.Warnings)
	}
}
