package migrations

import (
	"context"
	"testing"

	"github.com/Simplici0/engineroom/internal/db"
)

func TestUpIsRepeatable(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.MemoryPath)
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := Up(ctx, conn); err != nil {
			t.Fatalf("Up() iteration %d error = %v", i, err)
		}
	}

	v, err := Version(ctx, conn)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != 3 {
		t.Fatalf("Version() = %d, want 3", v)
	}

	for _, table := range []string{"catalog_items", "rule_configs", "simulation_runs"} {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n); err != nil {
			t.Fatalf("lookup table %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("table %s missing", table)
		}
	}
}
