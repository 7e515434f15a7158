package seed

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/Simplici0/engineroom/internal/db"
	"github.com/Simplici0/engineroom/internal/migrations"
	"github.com/Simplici0/engineroom/internal/simulation"
	"github.com/Simplici0/engineroom/internal/store"
)

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "seed-test.db")
	database, err := db.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := migrations.Up(ctx, database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return database
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	database := openMigrated(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		stats, err := Run(ctx, database, Config{})
		if err != nil {
			t.Fatalf("run seed (iteration=%d): %v", i, err)
		}
		if i == 0 {
			if want := 1 + len(demoCatalog); stats.Inserts != want {
				t.Fatalf("expected %d inserts in first run, got %d", want, stats.Inserts)
			}
			continue
		}
		if stats.Inserts != 0 {
			t.Fatalf("expected 0 inserts in iteration %d, got %d", i, stats.Inserts)
		}
	}

	assertCount(t, database, `SELECT COUNT(*) FROM rule_configs`, nil, 1)
	assertCount(t, database, `SELECT COUNT(*) FROM catalog_items`, nil, len(demoCatalog))
	assertCount(t, database, `SELECT COUNT(*) FROM catalog_items WHERE no_market_price = ?`, true, 1)
}

func TestDemoCatalogSimulatesWithoutSkips(t *testing.T) {
	t.Parallel()

	database := openMigrated(t)
	ctx := context.Background()

	if _, err := Run(ctx, database, Config{}); err != nil {
		t.Fatalf("run seed: %v", err)
	}

	s := store.New(database)
	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	active, err := s.ActiveRuleConfig(ctx)
	if err != nil {
		t.Fatalf("active rule config: %v", err)
	}

	result, err := simulation.Simulate(items, active.Config)
	if err != nil {
		t.Fatalf("simulate demo catalog: %v", err)
	}
	if len(result.SkippedItems) != 0 {
		t.Fatalf("demo catalog has invalid items: %+v", result.SkippedItems)
	}
	if result.Simulated.Count != len(demoCatalog) {
		t.Fatalf("expected %d evaluated items, got %d", len(demoCatalog), result.Simulated.Count)
	}
}

func TestRunUsesRulesFile(t *testing.T) {
	t.Parallel()

	database := openMigrated(t)
	ctx := context.Background()

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
rule1:
  group1_2: {trend_down: 1.2, trend_flat_up: 1.2}
  group3_4: {trend_down: 1.2, trend_flat_up: 1.2}
  group5_6: {trend_down: 1.2, trend_flat_up: 1.2}
rule2:
  group1_2: {trend_down: 1.05, trend_flat_up: 1.05}
  group3_4: {trend_down: 1.05, trend_flat_up: 1.05}
  group5_6: {trend_down: 1.05, trend_flat_up: 1.05}
rule1Threshold: 12
`
	if err := os.WriteFile(rulesPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	if _, err := Run(ctx, database, Config{RulesFile: rulesPath, SkipCatalog: true}); err != nil {
		t.Fatalf("run seed: %v", err)
	}

	active, err := store.New(database).ActiveRuleConfig(ctx)
	if err != nil {
		t.Fatalf("active rule config: %v", err)
	}
	if active.Config.Rule1Threshold != 12 || active.Config.Rule1.Group3_4.TrendDown != 1.2 {
		t.Fatalf("rules file not applied: %+v", active.Config)
	}
	assertCount(t, database, `SELECT COUNT(*) FROM catalog_items`, nil, 0)
}

func TestRunRejectsMissingRulesFile(t *testing.T) {
	t.Parallel()

	database := openMigrated(t)
	if _, err := Run(context.Background(), database, Config{RulesFile: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatalf("expected error for missing rules file")
	}
	assertCount(t, database, `SELECT COUNT(*) FROM rule_configs`, nil, 0)
}

func assertCount(t *testing.T, database *sql.DB, query string, args any, expected int) {
	t.Helper()

	var count int
	var err error
	switch v := args.(type) {
	case nil:
		err = database.QueryRow(query).Scan(&count)
	case []any:
		err = database.QueryRow(query, v...).Scan(&count)
	default:
		err = database.QueryRow(query, v).Scan(&count)
	}
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != expected {
		t.Fatalf("expected count %d, got %d", expected, count)
	}
}
