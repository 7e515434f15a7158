package seed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Simplici0/engineroom/internal/pricing"
	"github.com/Simplici0/engineroom/internal/rules"
)

const defaultRuleNote = "initial defaults"

// Config contains the values required by startup seed.
type Config struct {
	// RulesFile, when set, replaces the built-in default rule configuration
	// for the first saved version.
	RulesFile string
	// SkipCatalog leaves the catalog untouched.
	SkipCatalog bool
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// demoCatalog covers every usage rank, both trends, a zero-cost item, a
// low-cost item and an item without a market price.
var demoCatalog = []pricing.Item{
	{ID: "DEMO-001", Description: "Nitrile gloves, medium", AverageCost: 8.40, MarketLow: 9.10, TrueMarketLow: 8.95, CompetitorPrices: map[string]float64{"northline": 9.25, "coastal": 8.95}, CurrentPrice: 9.60, Usage: 1400, UsageRank: 1, NextCost: 8.10},
	{ID: "DEMO-002", Description: "Exam table paper", AverageCost: 14.00, MarketLow: 13.20, TrueMarketLow: 13.20, CurrentPrice: 15.10, Usage: 950, UsageRank: 1, NextCost: 14.35},
	{ID: "DEMO-003", Description: "Alcohol prep pads", AverageCost: 0.62, MarketLow: 0.90, TrueMarketLow: 0.85, CurrentPrice: 0.95, Usage: 720, UsageRank: 2, NextCost: 0.60},
	{ID: "DEMO-004", Description: "Gauze sponges 4x4", AverageCost: 5.75, MarketLow: 6.40, CompetitorPrices: map[string]float64{"northline": 6.55, "medsource": 6.10}, CurrentPrice: 6.70, Usage: 610, UsageRank: 2, NextCost: 5.90},
	{ID: "DEMO-005", Description: "Syringe 3ml luer lock", AverageCost: 11.20, MarketLow: 12.90, TrueMarketLow: 12.40, CurrentPrice: 13.50, Usage: 300, UsageRank: 3, NextCost: 11.00},
	{ID: "DEMO-006", Description: "Specimen cups", AverageCost: 7.30, NoMarketPrice: true, CurrentPrice: 8.20, Usage: 260, UsageRank: 3, NextCost: 7.45},
	{ID: "DEMO-007", Description: "Tongue depressors", AverageCost: 0.45, MarketLow: 0.48, TrueMarketLow: 0.47, CurrentPrice: 0.55, Usage: 180, UsageRank: 4, NextCost: 0.44},
	{ID: "DEMO-008", Description: "Sharps container 1qt", AverageCost: 3.80, MarketLow: 4.60, TrueMarketLow: 4.50, CurrentPrice: 4.95, Usage: 150, UsageRank: 4, NextCost: 3.95},
	{ID: "DEMO-009", Description: "Cold pack, instant", AverageCost: 0.92, MarketLow: 1.05, CurrentPrice: 1.10, Usage: 60, UsageRank: 5, NextCost: 0.90},
	{ID: "DEMO-010", Description: "Sample kit, promotional", AverageCost: 0, MarketLow: 2.00, CurrentPrice: 1.50, Usage: 40, UsageRank: 5, NextCost: 0},
	{ID: "DEMO-011", Description: "Pulse oximeter", AverageCost: 18.50, MarketLow: 21.00, TrueMarketLow: 20.40, CompetitorPrices: map[string]float64{"medsource": 20.10}, CurrentPrice: 22.75, Usage: 12, UsageRank: 6, NextCost: 19.20},
	{ID: "DEMO-012", Description: "Thermometer probe covers", AverageCost: 3.10, MarketLow: 3.50, TrueMarketLow: 3.45, CurrentPrice: 3.65, Usage: 8, UsageRank: 6, NextCost: 3.05},
}

// Run executes the startup seed in an idempotent way.
func Run(ctx context.Context, db *sql.DB, cfg Config) (Stats, error) {
	initial := rules.Default()
	if cfg.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return Stats{}, fmt.Errorf("load seed rules: %w", err)
		}
		initial = loaded
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := ensureRuleConfig(ctx, tx, initial, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if !cfg.SkipCatalog {
		if err := ensureDemoCatalog(ctx, tx, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensureRuleConfig(ctx context.Context, tx *sql.Tx, cfg rules.Config, stats *Stats) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rule_configs LIMIT 1)`).Scan(&exists); err != nil {
		return fmt.Errorf("check rule config existence: %w", err)
	}
	if exists {
		return nil
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode initial rule config: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rule_configs (config_json, note)
		VALUES (?, ?)
	`, string(raw), defaultRuleNote); err != nil {
		return fmt.Errorf("insert initial rule config: %w", err)
	}
	stats.Inserts++
	return nil
}

// ensureDemoCatalog only fills an empty catalog so that real data is never
// mixed with demo rows.
func ensureDemoCatalog(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&count); err != nil {
		return fmt.Errorf("count catalog items: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, it := range demoCatalog {
		competitors := "{}"
		if len(it.CompetitorPrices) > 0 {
			raw, err := json.Marshal(it.CompetitorPrices)
			if err != nil {
				return fmt.Errorf("encode competitor prices for %q: %w", it.ID, err)
			}
			competitors = string(raw)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_items (
				id,
				description,
				average_cost,
				market_low,
				true_market_low,
				competitor_prices_json,
				no_market_price,
				current_price,
				usage,
				usage_rank,
				next_cost
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			it.ID,
			it.Description,
			it.AverageCost,
			it.MarketLow,
			it.TrueMarketLow,
			competitors,
			it.NoMarketPrice,
			it.CurrentPrice,
			it.Usage,
			it.UsageRank,
			it.NextCost,
		); err != nil {
			return fmt.Errorf("insert demo item %q: %w", it.ID, err)
		}
		stats.Inserts++
	}
	return nil
}
